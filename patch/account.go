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

	"github.com/padroot/padroot/accountdb"
	"github.com/padroot/padroot/credential"
	"github.com/padroot/padroot/image"
	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/metadata"
)

const (
	EnsureRootLoginShellName = "ensure-root-login-shell"
	SetRootCredentialName    = "set-root-credential"

	passwdFile = "etc/passwd"
	shadowFile = "etc/shadow"
	rootUser   = "root"
)

// LoginShells are the shells root may be given, in order of preference.
var LoginShells = []string{"/bin/sh", "/bin/ash", "/bin/bash"}

var nonInteractiveShells = map[string]bool{
	"":                  true,
	"/bin/false":        true,
	"/usr/bin/false":    true,
	"/sbin/nologin":     true,
	"/usr/sbin/nologin": true,
	"/bin/nologin":      true,
}

func loadAccounts(tree *image.RootTree, idx *metadata.Index, rel string, kind accountdb.Kind) (*accountdb.Database, string, error) {
	data, host, _, err := readRecorded(tree, idx, rel)
	if err != nil {
		return nil, "", err
	}
	db, err := accountdb.Parse(data, kind)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %v", rel, err)
	}
	return db, host, nil
}

func saveAccounts(db *accountdb.Database, host string) error {
	return db.Save(host, hostPerm(host))
}

func rootEntry(tree *image.RootTree, idx *metadata.Index, patch string) (*accountdb.PasswdEntry, error) {
	db, _, err := loadAccounts(tree, idx, passwdFile, accountdb.Passwd)
	if err != nil {
		return nil, &UnrecognizedLayoutError{Patch: patch, Err: err}
	}
	e, err := db.PasswdEntry(rootUser)
	if err != nil {
		return nil, &UnrecognizedLayoutError{Patch: patch, Err: err}
	}
	return e, nil
}

// EnsureRootLoginShell gives root an interactive shell present in the
// tree.
type EnsureRootLoginShell struct{}

func (p *EnsureRootLoginShell) Name() string {
	return EnsureRootLoginShellName
}

func (p *EnsureRootLoginShell) Manifest() Manifest {
	return Manifest{Requires: []Requirement{
		{Description: "the passwd database", AnyOf: []string{passwdFile}},
	}}
}

func shellPresent(tree *image.RootTree, idx *metadata.Index, shell string) bool {
	return exists(tree, idx, shell, metadata.Regular)
}

func (p *EnsureRootLoginShell) Apply(tree *image.RootTree, idx *metadata.Index) error {
	db, host, err := loadAccounts(tree, idx, passwdFile, accountdb.Passwd)
	if err != nil {
		return &UnrecognizedLayoutError{Patch: p.Name(), Err: err}
	}
	e, err := db.PasswdEntry(rootUser)
	if err != nil {
		return &UnrecognizedLayoutError{Patch: p.Name(), Err: err}
	}
	if !nonInteractiveShells[e.Shell] && shellPresent(tree, idx, e.Shell) {
		return nil
	}
	for _, shell := range LoginShells {
		if !shellPresent(tree, idx, shell) {
			continue
		}
		if err := db.Set(rootUser, accountdb.PasswdShell, shell); err != nil {
			return err
		}
		logger.Noticef("root login shell changed from %q to %q", e.Shell, shell)
		return saveAccounts(db, host)
	}
	return layoutErrorf(p.Name(), "cannot find a login shell, tried %v", LoginShells)
}

// SetRootCredential sets the password of root.
type SetRootCredential struct {
	password string
	scheme   credential.Scheme
	opts     *credential.Options

	hash string
}

// NewSetRootCredential returns a patch setting root's password. The hash
// is computed once, on first use, and reused by later applications.
func NewSetRootCredential(password string, scheme credential.Scheme, opts *credential.Options) (*SetRootCredential, error) {
	if scheme == "" {
		scheme = credential.DefaultScheme
	}
	if _, err := credential.HashWithSalt("", scheme, "saltsalt", opts); err != nil {
		return nil, err
	}
	logger.Redact(password)
	return &SetRootCredential{password: password, scheme: scheme, opts: opts}, nil
}

func (p *SetRootCredential) Name() string {
	return SetRootCredentialName
}

func (p *SetRootCredential) Manifest() Manifest {
	return Manifest{Requires: []Requirement{
		{Description: "the shadow or passwd database", AnyOf: []string{shadowFile, passwdFile}},
	}}
}

func (p *SetRootCredential) encoded() (string, error) {
	if p.hash == "" {
		h, err := credential.HashPassword(p.password, p.scheme, p.opts)
		if err != nil {
			return "", err
		}
		p.hash = h.String()
	}
	return p.hash, nil
}

func (p *SetRootCredential) Apply(tree *image.RootTree, idx *metadata.Index) error {
	rel, kind := shadowFile, accountdb.Shadow
	if !exists(tree, idx, shadowFile, metadata.Regular) {
		rel, kind = passwdFile, accountdb.Passwd
	}
	db, host, err := loadAccounts(tree, idx, rel, kind)
	if err != nil {
		return &UnrecognizedLayoutError{Patch: p.Name(), Err: err}
	}
	current, err := db.Field(rootUser, accountdb.FieldPassword)
	if err != nil {
		return &UnrecognizedLayoutError{Patch: p.Name(), Err: err}
	}
	if credential.Verify(current, p.password) {
		logger.Debugf("root password already set in %s", rel)
		return nil
	}
	hash, err := p.encoded()
	if err != nil {
		return err
	}
	if err := db.Set(rootUser, accountdb.FieldPassword, hash); err != nil {
		return err
	}
	logger.Noticef("root password set in %s", rel)
	return saveAccounts(db, host)
}
