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
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// profile holds default option values, flags given on the command line
// take precedence. Relative paths are relative to the profile.
type profile struct {
	Password       string   `yaml:"password"`
	Scheme         string   `yaml:"scheme"`
	Rounds         int      `yaml:"rounds"`
	AuthorizedKeys string   `yaml:"authorized-keys"`
	Overlay        string   `yaml:"overlay"`
	Services       []string `yaml:"ssh-services"`
	Compression    string   `yaml:"compression"`
	BlockSize      uint32   `yaml:"block-size"`
	Board          string   `yaml:"board"`
	VersionPrefix  string   `yaml:"version-prefix"`
}

func loadProfile(path string) (*profile, error) {
	if path == "" {
		return &profile{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read profile: %v", err)
	}
	var p profile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && err != io.EOF {
		return nil, fmt.Errorf("cannot parse profile %s: %v", path, err)
	}
	dir := filepath.Dir(path)
	for _, s := range []*string{&p.AuthorizedKeys, &p.Overlay} {
		if *s != "" && !filepath.IsAbs(*s) {
			*s = filepath.Join(dir, *s)
		}
	}
	return &p, nil
}

// pick returns the first non-empty value.
func pick(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
