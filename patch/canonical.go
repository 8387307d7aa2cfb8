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
package patch

import (
	"fmt"
	"path/filepath"

	"github.com/padroot/padroot/credential"
)

// DefaultPassword is the root password the firmware is patched with when
// none is given.
const DefaultPassword = "creality"

// Options selects the patches of a canonical set.
type Options struct {
	// Password for root, not set when empty.
	Password string
	Scheme   credential.Scheme
	Rounds   int
	// AuthorizedKeys in authorized_keys format, optional.
	AuthorizedKeys []byte
	// OverlayDir is copied over the tree when set.
	OverlayDir string
	// Services are the SSH servers to look for.
	Services []string
}

// Canonical returns the patch set enabling root SSH access, in its
// fixed order: overlay, remote shell, login shell, credential and
// trusted key. The overlay goes first so that files it ships cannot
// undo the account patches.
func Canonical(opts *Options) (*Set, error) {
	if opts == nil {
		opts = &Options{}
	}
	var patches []Patch
	if opts.OverlayDir != "" {
		dir, err := filepath.Abs(opts.OverlayDir)
		if err != nil {
			return nil, fmt.Errorf("cannot use overlay directory: %v", err)
		}
		patches = append(patches, &InstallOverlay{Dir: dir})
	}
	patches = append(patches,
		&EnableRemoteShell{Services: opts.Services},
		&EnsureRootLoginShell{},
	)
	if opts.Password != "" {
		var copts *credential.Options
		if opts.Rounds != 0 {
			copts = &credential.Options{Rounds: opts.Rounds}
		}
		p, err := NewSetRootCredential(opts.Password, opts.Scheme, copts)
		if err != nil {
			return nil, err
		}
		patches = append(patches, p)
	}
	if len(opts.AuthorizedKeys) > 0 {
		p, err := NewInstallTrustedKey(opts.AuthorizedKeys)
		if err != nil {
			return nil, err
		}
		patches = append(patches, p)
	}
	return NewSet(patches...), nil
}
