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
	"bufio"
	"bytes"
	"fmt"
	"path"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/padroot/padroot/image"
	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/metadata"
)

const (
	InstallTrustedKeyName = "install-trusted-key"

	defaultRootHome = "/root"
)

type authorizedKey struct {
	line string
	// blob identifies the key regardless of options and comment
	blob string
}

// InstallTrustedKey adds public keys to root's authorized_keys.
type InstallTrustedKey struct {
	keys []authorizedKey
}

func parseAuthorizedKeys(data []byte) ([]authorizedKey, error) {
	var keys []authorizedKey
	sc := bufio.NewScanner(bytes.NewReader(data))
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("cannot parse public key on line %d: %v", n, err)
		}
		keys = append(keys, authorizedKey{line: line, blob: string(pub.Marshal())})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// NewInstallTrustedKey returns a patch installing the keys found in
// data, which uses the authorized_keys format.
func NewInstallTrustedKey(data []byte) (*InstallTrustedKey, error) {
	keys, err := parseAuthorizedKeys(data)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no public key found")
	}
	return &InstallTrustedKey{keys: keys}, nil
}

func (p *InstallTrustedKey) Name() string {
	return InstallTrustedKeyName
}

func (p *InstallTrustedKey) Manifest() Manifest {
	return Manifest{Requires: []Requirement{
		{Description: "the passwd database", AnyOf: []string{passwdFile}},
	}}
}

// mergeKeys appends the keys not yet present in the existing file.
// Existing lines that do not parse are kept as they are.
func mergeKeys(existing []byte, keys []authorizedKey) ([]byte, int) {
	have := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(existing))
	for sc.Scan() {
		pub, _, _, _, err := ssh.ParseAuthorizedKey(sc.Bytes())
		if err == nil {
			have[string(pub.Marshal())] = true
		}
	}
	out := append([]byte(nil), existing...)
	if len(out) > 0 && out[len(out)-1] != '\n' {
		out = append(out, '\n')
	}
	added := 0
	for _, k := range keys {
		if have[k.blob] {
			continue
		}
		have[k.blob] = true
		out = append(out, k.line...)
		out = append(out, '\n')
		added++
	}
	if added == 0 {
		return existing, 0
	}
	return out, added
}

func (p *InstallTrustedKey) Apply(tree *image.RootTree, idx *metadata.Index) error {
	root, err := rootEntry(tree, idx, p.Name())
	if err != nil {
		return err
	}
	home := root.Home
	if home == "" || home == "/" {
		home = defaultRootHome
	}
	if _, err := mkdirAllRecorded(tree, idx, path.Dir(home), 0755, 0, 0); err != nil {
		return &UnrecognizedLayoutError{Patch: p.Name(), Reason: "cannot use root's home " + home, Err: err}
	}
	homeRel, err := mkdirRecorded(tree, idx, home, 0700, root.UID, root.GID)
	if err != nil {
		return &UnrecognizedLayoutError{Patch: p.Name(), Reason: "cannot use root's home " + home, Err: err}
	}
	sshRel, err := mkdirRecorded(tree, idx, path.Join(homeRel, ".ssh"), 0700, root.UID, root.GID)
	if err != nil {
		return err
	}
	keysRel := path.Join(sshRel, "authorized_keys")

	var existing []byte
	if exists(tree, idx, keysRel, metadata.Regular) {
		existing, _, _, err = readRecorded(tree, idx, keysRel)
		if err != nil {
			return err
		}
	}
	merged, added := mergeKeys(existing, p.keys)
	keysRel, err = writeRecorded(tree, idx, keysRel, merged, 0600, root.UID, root.GID)
	if err != nil {
		return err
	}

	// sshd refuses keys in files others can write to
	for _, rel := range []string{sshRel, keysRel} {
		r := idx.Get(rel)
		r.UID, r.GID = root.UID, root.GID
		if r.Type == metadata.Directory {
			r.Mode = 0700
		} else {
			r.Mode = 0600
		}
	}
	if added > 0 {
		logger.Noticef("added %d key(s) to %s", added, keysRel)
	}
	return nil
}
