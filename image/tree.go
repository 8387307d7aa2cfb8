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
package image

import (
	"fmt"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/padroot/padroot/metadata"
	"github.com/padroot/padroot/squashfs"
)

// FirmwareArchive is a squashfs root filesystem image on disk.
type FirmwareArchive struct {
	Path string
	Info *squashfs.Info
}

// RootTree is an extracted root filesystem. It is valid until the codec
// that produced it is cleaned up.
type RootTree struct {
	root  string
	alive bool
}

// NewRootTree wraps an existing directory. It is meant for callers that
// manage a tree without a codec, such as tests.
func NewRootTree(root string) *RootTree {
	return &RootTree{root: root, alive: true}
}

// Root returns the host path of the tree.
func (t *RootTree) Root() string {
	return t.root
}

// Alive is false once the tree has been removed.
func (t *RootTree) Alive() bool {
	return t.alive
}

// Join returns the host path of a tree relative path without resolving
// any symlink. It is the path to use for operations that act on the
// object itself, such as renames and lstat.
func (t *RootTree) Join(rel string) (string, error) {
	clean, err := metadata.CleanPath(rel)
	if err != nil {
		return "", err
	}
	return filepath.Join(t.root, clean), nil
}

// Resolve returns the host path of a tree relative path, resolving
// symlinks as if the tree root were "/". The result never escapes the
// tree, which matters for firmware trees full of absolute symlinks.
func (t *RootTree) Resolve(rel string) (string, error) {
	if _, err := metadata.CleanPath(rel); err != nil {
		return "", err
	}
	p, err := securejoin.SecureJoin(t.root, rel)
	if err != nil {
		return "", fmt.Errorf("cannot resolve %q in tree: %v", rel, err)
	}
	return p, nil
}

// Rel is the inverse of Join and Resolve.
func (t *RootTree) Rel(hostPath string) (string, error) {
	rel, err := filepath.Rel(t.root, hostPath)
	if err != nil {
		return "", err
	}
	return metadata.CleanPath(rel)
}
