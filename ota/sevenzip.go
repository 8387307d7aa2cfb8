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
package ota

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/osutil"
	"github.com/padroot/padroot/strutil"
)

// ErrWrongPassword is returned when an image cannot be decrypted.
var ErrWrongPassword = errors.New("wrong password")

func run7z(ctx context.Context, dir string, args ...string) error {
	stderr := strutil.NewLimitedBuffer(20, 4096)
	cmd := exec.Command("7z", args...)
	cmd.Dir = dir
	cmd.Stderr = stderr
	// the password is part of args, do not log them
	logger.Debugf("running 7z %s", args[0])
	if err := osutil.RunWithContext(ctx, cmd); err != nil {
		if ctx.Err() != nil {
			return err
		}
		out := stderr.Bytes()
		if strings.Contains(string(out), "Wrong password") {
			return ErrWrongPassword
		}
		return osutil.OutputErr(out, err)
	}
	return nil
}

// Unpack extracts the encrypted 7z image img into dest.
func Unpack(ctx context.Context, img, password, dest string) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return err
	}
	err := run7z(ctx, "", "x", "-p"+password, "-o"+dest, "-y", "-bso0", "-bsp0", img)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("cannot extract %q: %w", img, err)
	}
	return nil
}

// Pack writes dir, by its base name, into a new 7z image at img,
// encrypting both content and file names. img is only created once
// complete.
func Pack(ctx context.Context, dir, img, password string) error {
	abs, err := filepath.Abs(img)
	if err != nil {
		return err
	}
	partial := abs + ".partial"
	// 7z adds to existing archives
	if err := os.Remove(partial); err != nil && !os.IsNotExist(err) {
		return err
	}
	err = run7z(ctx, filepath.Dir(dir), "a", "-t7z", "-p"+password, "-mhe=on", "-y", "-bso0", "-bsp0", partial, filepath.Base(dir))
	if err != nil {
		os.Remove(partial)
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("cannot create %q: %w", img, err)
	}
	if err := os.Rename(partial, abs); err != nil {
		os.Remove(partial)
		return err
	}
	return nil
}
