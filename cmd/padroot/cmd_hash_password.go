// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2025 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/padroot/padroot/credential"
	"github.com/padroot/padroot/logger"
)

var Stdin io.Reader = os.Stdin

type cmdHashPassword struct {
	Scheme string `long:"scheme" choice:"sha256-crypt" choice:"sha512-crypt" choice:"md5-crypt" description:"Password hashing scheme"`
	Rounds int    `long:"rounds" description:"Rounds for the SHA hashing schemes"`
	Salt   string `long:"salt" description:"Salt to use instead of a random one"`

	Positional struct {
		Password string `positional-arg-name:"<password>"`
	} `positional-args:"yes"`
}

const (
	shortHashPasswordHelp = "Print a crypt(3) hash of a password"
	longHashPasswordHelp  = `
The hash-password command prints the hash that patch-rootfs would write
to /etc/shadow for the given password. Without <password> the first
line of standard input is used.
`
)

func init() {
	addCommand("hash-password", shortHashPasswordHelp, longHashPasswordHelp, func() flags.Commander {
		return &cmdHashPassword{}
	})
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("cannot read password: %v", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("cannot hash an empty password")
	}
	return line, nil
}

func (x *cmdHashPassword) Execute(args []string) error {
	setupLogging()

	prof, err := loadProfile(optionsData.Profile)
	if err != nil {
		return err
	}
	password := x.Positional.Password
	if password == "" {
		if password, err = readPassword(Stdin); err != nil {
			return err
		}
	}
	logger.Redact(password)
	scheme := credential.Scheme(pick(x.Scheme, prof.Scheme, string(credential.DefaultScheme)))
	var copts *credential.Options
	if rounds := x.Rounds; rounds != 0 || prof.Rounds != 0 {
		if rounds == 0 {
			rounds = prof.Rounds
		}
		copts = &credential.Options{Rounds: rounds}
	}

	var h *credential.Hash
	if x.Salt != "" {
		h, err = credential.HashWithSalt(password, scheme, x.Salt, copts)
	} else {
		h, err = credential.HashPassword(password, scheme, copts)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(Stdout, h)
	return nil
}
