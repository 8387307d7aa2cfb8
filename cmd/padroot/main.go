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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/strutil"
)

var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

type options struct {
	Quiet   bool   `short:"q" long:"quiet" description:"Only report errors"`
	Verbose bool   `short:"v" long:"verbose" description:"Report what is being done in detail"`
	Profile string `long:"profile" value-name:"FILE" description:"YAML file with default option values"`
}

var optionsData options

type cmdInfo struct {
	name, shortHelp, longHelp string
	builder                   func() flags.Commander
}

var commands []*cmdInfo

// addCommand registers a command so that every parser gets a pristine
// copy of it.
func addCommand(name, shortHelp, longHelp string, builder func() flags.Commander) {
	commands = append(commands, &cmdInfo{
		name:      name,
		shortHelp: shortHelp,
		longHelp:  longHelp,
		builder:   builder,
	})
}

const (
	shortHelp = "Patch Nebula Pad firmware for root access"
	longHelp  = `
padroot rewrites the root filesystem of a Creality Nebula Pad firmware
so that root can log in over SSH. It works on a bare squashfs root
filesystem or on a complete OTA image.
`
)

func init() {
	err := logger.SimpleSetup()
	if err != nil {
		fmt.Fprintf(Stderr, "WARNING: failed to activate logging: %v\n", err)
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return parseArgs(os.Args[1:])
}

// newParser returns a parser with fresh option and command values.
func newParser() *flags.Parser {
	optionsData = options{}
	parser := flags.NewParser(&optionsData, flags.HelpFlag|flags.PassDoubleDash)
	parser.ShortDescription = shortHelp
	parser.LongDescription = longHelp
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.shortHelp, strings.TrimSpace(c.longHelp), c.builder()); err != nil {
			logger.Panicf("cannot add command %q: %v", c.name, err)
		}
	}
	return parser
}

func parseArgs(args []string) error {
	_, err := newParser().ParseArgs(args)
	if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		fmt.Fprintln(Stdout, e.Message)
		return nil
	}
	return err
}

// setupLogging is called by every command once the global options are
// parsed.
func setupLogging() {
	logger.CommandSetup(Stderr, optionsData.Quiet, optionsData.Verbose)
}

// progressf reports progress to the user unless told to be quiet.
func progressf(format string, v ...interface{}) {
	if optionsData.Quiet {
		return
	}
	fmt.Fprintf(Stdout, format+"\n", v...)
}

func reportWritten(path string) {
	if st, err := os.Stat(path); err == nil {
		fmt.Fprintf(Stdout, "wrote %s (%s)\n", path, strutil.SizeToStr(st.Size()))
		return
	}
	fmt.Fprintf(Stdout, "wrote %s\n", path)
}
