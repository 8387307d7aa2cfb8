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

	"github.com/jessevdk/go-flags"

	"github.com/padroot/padroot/ota"
	"github.com/padroot/padroot/pipeline"
)

type cmdPatchOTA struct {
	patchFlags

	Board   string `long:"board" description:"Board the image is for (default: NEBULA)"`
	Version string `long:"version" description:"Version of the stock image (default: read from the image)"`
	Prefix  string `long:"version-prefix" description:"First component of the patched version (default: 6)"`
	Output  string `long:"output" short:"o" value-name:"FILE" description:"Patched image (default: named after the patched version, next to the input)"`

	Positional struct {
		Image string `positional-arg-name:"<image>" required:"yes"`
	} `positional-args:"yes"`
}

const (
	shortPatchOTAHelp = "Patch an OTA image"
	longPatchOTAHelp  = `
The patch-ota command unpacks an encrypted OTA image, enables SSH
access for root in its root filesystem and packs a new image that
the device accepts as an update to a higher version.
`
)

func init() {
	addCommand("patch-ota", shortPatchOTAHelp, longPatchOTAHelp, func() flags.Commander {
		return &cmdPatchOTA{}
	})
}

func (x *cmdPatchOTA) Execute(args []string) error {
	setupLogging()

	prof, err := loadProfile(optionsData.Profile)
	if err != nil {
		return err
	}
	if x.Version != "" {
		if err := ota.ValidateVersion(x.Version); err != nil {
			return err
		}
	}
	set, err := x.patchSet(prof)
	if err != nil {
		return err
	}
	scratch, done, err := x.scratch()
	if err != nil {
		return err
	}
	defer done()

	bundle := &ota.Bundle{
		Path:  x.Positional.Image,
		Board: pick(x.Board, prof.Board),
	}
	popts := &ota.PatchOptions{
		Output:   x.Output,
		Scratch:  scratch,
		Version:  x.Version,
		Prefix:   pick(x.Prefix, prof.VersionPrefix),
		Patches:  set,
		Codec:    x.codecOptions(prof),
		Force:    x.Force,
		Progress: func(step string) { progressf("%s", step) },
	}
	out, err := pipeline.WithSignals(context.Background(), func(ctx context.Context) (string, error) {
		return bundle.Patch(ctx, popts)
	})
	if err != nil {
		return err
	}
	reportWritten(out)
	return nil
}
