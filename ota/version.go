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
// Package ota handles Creality OTA update images: encrypted 7z
// containers holding the root filesystem split in chunks, together with
// the manifests the device checks them against.
package ota

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/padroot/padroot/credential"
)

const (
	// DefaultBoard is the board name of the Nebula Pad.
	DefaultBoard = "NEBULA"
	// DefaultVersion is the stock firmware version patched by default.
	DefaultVersion = "1.1.0.30"
	// DefaultPrefix replaces the first version component of patched
	// images, so that the device does not offer to "update" them back
	// to stock.
	DefaultPrefix = "6"

	passwordSuffix = "C3_7e_bz"
	passwordSalt   = "cxswfile"
)

var versionRe = regexp.MustCompile(`^[0-9]+(\.[0-9]+)*$`)

// ValidateVersion checks that version is dot separated numbers.
func ValidateVersion(version string) error {
	if !versionRe.MatchString(version) {
		return fmt.Errorf("invalid version %q: must be in the format w.x.y.z", version)
	}
	return nil
}

// Password returns the password of the OTA images of the given board.
func Password(board string) (string, error) {
	if board == "" {
		return "", fmt.Errorf("board name cannot be empty")
	}
	h, err := credential.HashWithSalt(board+passwordSuffix, credential.MD5Crypt, passwordSalt, nil)
	if err != nil {
		return "", err
	}
	return h.String(), nil
}

// RootedVersion returns stock with its first component replaced by
// prefix.
func RootedVersion(stock, prefix string) (string, error) {
	if err := ValidateVersion(stock); err != nil {
		return "", err
	}
	if !versionRe.MatchString(prefix) || strings.Contains(prefix, ".") {
		return "", fmt.Errorf("invalid version prefix %q", prefix)
	}
	parts := strings.Split(stock, ".")
	parts[0] = prefix
	return strings.Join(parts, "."), nil
}

// BaseName is the name of the top level directory, and of the image
// file without extension, of an OTA image.
func BaseName(board, version string) string {
	return board + "_ota_img_V" + version
}

// ImageName is the file name of an OTA image.
func ImageName(board, version string) string {
	return BaseName(board, version) + ".img"
}

// otaDirName is the directory holding the update payload.
func otaDirName(version string) string {
	return "ota_v" + version
}
