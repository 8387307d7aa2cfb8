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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/padroot/padroot/credential"
	"github.com/padroot/padroot/image"
	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/patch"
	"github.com/padroot/padroot/pipeline"
	"github.com/padroot/padroot/strutil"
)

// patchFlags are shared by the commands that patch a root filesystem.
type patchFlags struct {
	Password       string `long:"password" description:"Root password (default: creality)"`
	NoPassword     bool   `long:"no-password" description:"Leave the root password alone"`
	Scheme         string `long:"scheme" choice:"sha256-crypt" choice:"sha512-crypt" choice:"md5-crypt" description:"Password hashing scheme"`
	Rounds         int    `long:"rounds" description:"Rounds for the SHA hashing schemes"`
	AuthorizedKeys string `long:"authorized-keys" value-name:"FILE" description:"Public keys to trust for root"`
	Overlay        string `long:"overlay" value-name:"DIR" description:"Directory copied over the root filesystem"`
	SSHServices    string `long:"ssh-services" value-name:"LIST" description:"Comma separated SSH servers to enable, in order of preference"`
	Compression    string `long:"compression" description:"Compressor of the rebuilt image (default: as the input)"`
	BlockSize      uint32 `long:"block-size" description:"Block size of the rebuilt image (default: as the input)"`
	Scratch        string `long:"scratch" value-name:"DIR" description:"Empty working directory (default: a temporary one)"`
	Force          bool   `long:"force" description:"Replace an existing output"`
}

func (x *patchFlags) patchSet(p *profile) (*patch.Set, error) {
	if x.NoPassword && x.Password != "" {
		return nil, fmt.Errorf("cannot use --password and --no-password together")
	}
	password := pick(x.Password, p.Password, patch.DefaultPassword)
	if x.NoPassword {
		password = ""
	}
	popts := &patch.Options{
		Password:   password,
		Scheme:     credential.Scheme(pick(x.Scheme, p.Scheme, string(credential.DefaultScheme))),
		Rounds:     x.Rounds,
		OverlayDir: pick(x.Overlay, p.Overlay),
		Services:   p.Services,
	}
	if x.SSHServices != "" {
		popts.Services = strutil.CommaSeparatedList(x.SSHServices)
	}
	if popts.Rounds == 0 {
		popts.Rounds = p.Rounds
	}
	if keys := pick(x.AuthorizedKeys, p.AuthorizedKeys); keys != "" {
		data, err := os.ReadFile(keys)
		if err != nil {
			return nil, fmt.Errorf("cannot read authorized keys: %v", err)
		}
		popts.AuthorizedKeys = data
	}
	return patch.Canonical(popts)
}

func (x *patchFlags) codecOptions(p *profile) *image.Options {
	opts := &image.Options{
		Compression: pick(x.Compression, p.Compression),
		BlockSize:   x.BlockSize,
	}
	if opts.BlockSize == 0 {
		opts.BlockSize = p.BlockSize
	}
	return opts
}

// scratch returns the working directory to use and a function removing
// it if it was made up.
func (x *patchFlags) scratch() (dir string, done func(), err error) {
	if x.Scratch != "" {
		return x.Scratch, func() {}, nil
	}
	dir, err = os.MkdirTemp("", "padroot-")
	if err != nil {
		return "", nil, fmt.Errorf("cannot create scratch directory: %v", err)
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			logger.Noticef("cannot remove %s: %v", dir, err)
		}
	}, nil
}

type cmdPatchRootfs struct {
	patchFlags

	Positional struct {
		Input  string `positional-arg-name:"<input>" required:"yes"`
		Output string `positional-arg-name:"<output>"`
	} `positional-args:"yes"`
}

const (
	shortPatchRootfsHelp = "Patch a squashfs root filesystem"
	longPatchRootfsHelp  = `
The patch-rootfs command extracts the given rootfs.squashfs, enables
SSH access for root and writes the result to <output>, by default
next to the input with a -rooted suffix.
`
)

func init() {
	addCommand("patch-rootfs", shortPatchRootfsHelp, longPatchRootfsHelp, func() flags.Commander {
		return &cmdPatchRootfs{}
	})
}

func defaultRootfsOutput(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "-rooted" + ext
}

func (x *cmdPatchRootfs) Execute(args []string) error {
	setupLogging()

	prof, err := loadProfile(optionsData.Profile)
	if err != nil {
		return err
	}
	set, err := x.patchSet(prof)
	if err != nil {
		return err
	}
	output := x.Positional.Output
	if output == "" {
		output = defaultRootfsOutput(x.Positional.Input)
	}
	scratch, done, err := x.scratch()
	if err != nil {
		return err
	}
	defer done()

	run, err := pipeline.New(&pipeline.Options{
		Input:   x.Positional.Input,
		Output:  output,
		Scratch: scratch,
		Patches: set,
		Codec:   x.codecOptions(prof),
		Force:   x.Force,
		Progress: func(state pipeline.State, detail string) {
			switch {
			case state == pipeline.Failed:
			case detail != "":
				progressf("  %s", detail)
			default:
				progressf("%s %s", state, x.Positional.Input)
			}
		},
	})
	if err != nil {
		return err
	}
	out, err := run.RunWithSignals(context.Background())
	if err != nil {
		return err
	}
	reportWritten(out)
	return nil
}
