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
	"fmt"
	"os"

	"github.com/mvo5/goconfigparser"

	"github.com/padroot/padroot/osutil"
)

const (
	configFile     = "ota_config.in"
	updateFile     = "ota_update.in"
	currentVersion = "current_version"
)

// ReadConfigVersion returns the current_version of an ota_config.in
// file.
func ReadConfigVersion(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	cfg := goconfigparser.New()
	cfg.AllowNoSectionHeader = true
	if err := cfg.Read(f); err != nil {
		return "", fmt.Errorf("cannot parse %s: %v", path, err)
	}
	version, err := cfg.Get("", currentVersion)
	if err != nil {
		return "", fmt.Errorf("cannot read version from %s: %v", path, err)
	}
	if err := ValidateVersion(version); err != nil {
		return "", fmt.Errorf("cannot read version from %s: %v", path, err)
	}
	return version, nil
}

// WriteConfig writes an ota_config.in file announcing version.
func WriteConfig(path, version string) error {
	return osutil.AtomicWriteFile(path, []byte(fmt.Sprintf("%s=%s\n", currentVersion, version)), 0644)
}
