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
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/padroot/padroot/image"
	"github.com/padroot/padroot/metadata"
	"github.com/padroot/padroot/osutil"
)

// resolve follows symlinks in rel as the device would and returns the
// host path together with the tree relative path it ends up at.
func resolve(tree *image.RootTree, rel string) (host, resolved string, err error) {
	host, err = tree.Resolve(rel)
	if err != nil {
		return "", "", err
	}
	resolved, err = tree.Rel(host)
	if err != nil {
		return "", "", err
	}
	return host, resolved, nil
}

// resolveParent resolves the directory holding rel, leaving the last
// component alone.
func resolveParent(tree *image.RootTree, rel string) (host, resolved string, err error) {
	clean, err := metadata.CleanPath(rel)
	if err != nil {
		return "", "", err
	}
	if clean == "." {
		return "", "", fmt.Errorf("internal error: tree root has no parent")
	}
	dirHost, dirRel, err := resolve(tree, path.Dir(clean))
	if err != nil {
		return "", "", err
	}
	base := path.Base(clean)
	return filepath.Join(dirHost, base), path.Join(dirRel, base), nil
}

// hostPerm is the permission used on the host for a file being
// rewritten. The recorded mode is restored when the image is rebuilt.
func hostPerm(host string) os.FileMode {
	fi, err := os.Stat(host)
	if err != nil {
		return 0600
	}
	return fi.Mode().Perm() | 0600
}

// readRecorded reads a recorded regular file, following symlinks.
func readRecorded(tree *image.RootTree, idx *metadata.Index, rel string) (data []byte, host, resolved string, err error) {
	host, resolved, err = resolve(tree, rel)
	if err != nil {
		return nil, "", "", err
	}
	r := idx.Get(resolved)
	if r == nil {
		return nil, "", "", fmt.Errorf("%s is not recorded", rel)
	}
	if r.Type != metadata.Regular {
		return nil, "", "", fmt.Errorf("%s is a %s, not a regular file", rel, r.Type)
	}
	data, err = os.ReadFile(host)
	if err != nil {
		return nil, "", "", err
	}
	return data, host, resolved, nil
}

// editRecorded rewrites a recorded regular file with the result of edit.
// The file is left untouched when edit does not change the content.
func editRecorded(tree *image.RootTree, idx *metadata.Index, rel string, edit func([]byte) ([]byte, error)) (changed bool, err error) {
	data, host, _, err := readRecorded(tree, idx, rel)
	if err != nil {
		return false, err
	}
	newData, err := edit(data)
	if err != nil {
		return false, err
	}
	if bytes.Equal(data, newData) {
		return false, nil
	}
	if err := osutil.AtomicWriteFile(host, newData, hostPerm(host)); err != nil {
		return false, err
	}
	return true, nil
}

// exists reports whether rel, symlinks resolved, is recorded with the
// given type.
func exists(tree *image.RootTree, idx *metadata.Index, rel string, typ metadata.FileType) bool {
	_, resolved, err := resolve(tree, rel)
	if err != nil {
		return false
	}
	r := idx.Get(resolved)
	return r != nil && r.Type == typ
}

// mkdirRecorded makes sure rel is a directory, creating it with the
// given metadata when absent. It returns the resolved tree path.
func mkdirRecorded(tree *image.RootTree, idx *metadata.Index, rel string, mode metadata.Mode, uid, gid int) (string, error) {
	host, resolved, err := resolveParent(tree, rel)
	if err != nil {
		return "", err
	}
	if r := idx.Get(resolved); r != nil {
		switch r.Type {
		case metadata.Directory:
			return resolved, nil
		case metadata.Symlink:
			host, resolved, err = resolve(tree, rel)
			if err != nil {
				return "", err
			}
			if r := idx.Get(resolved); r != nil && r.Type == metadata.Directory {
				return resolved, nil
			}
		}
		return "", fmt.Errorf("cannot create directory %s: exists and is not a directory", rel)
	}
	if err := os.Mkdir(host, 0700); err != nil && !os.IsExist(err) {
		return "", err
	}
	if err := idx.Add(&metadata.Record{Path: resolved, Type: metadata.Directory, Mode: mode, UID: uid, GID: gid}); err != nil {
		return "", err
	}
	return resolved, nil
}

// mkdirAllRecorded is mkdirRecorded for every missing component of rel.
func mkdirAllRecorded(tree *image.RootTree, idx *metadata.Index, rel string, mode metadata.Mode, uid, gid int) (string, error) {
	clean, err := metadata.CleanPath(rel)
	if err != nil {
		return "", err
	}
	if clean == "." {
		return ".", nil
	}
	if _, err := mkdirAllRecorded(tree, idx, path.Dir(clean), mode, uid, gid); err != nil {
		return "", err
	}
	return mkdirRecorded(tree, idx, clean, mode, uid, gid)
}

// writeRecorded writes a regular file. A new file gets the given
// metadata, an existing one keeps its record.
func writeRecorded(tree *image.RootTree, idx *metadata.Index, rel string, data []byte, mode metadata.Mode, uid, gid int) (string, error) {
	host, resolved, err := resolveParent(tree, rel)
	if err != nil {
		return "", err
	}
	if r := idx.Get(resolved); r != nil && r.Type == metadata.Symlink {
		host, resolved, err = resolve(tree, rel)
		if err != nil {
			return "", err
		}
	}
	r := idx.Get(resolved)
	if r != nil && r.Type != metadata.Regular {
		return "", fmt.Errorf("cannot write %s: exists and is a %s", rel, r.Type)
	}
	if r != nil {
		if old, err := os.ReadFile(host); err == nil && bytes.Equal(old, data) {
			return resolved, nil
		}
	}
	perm := mode.FileMode().Perm() | 0600
	if r != nil {
		perm = hostPerm(host)
	}
	if err := osutil.AtomicWriteFile(host, data, perm); err != nil {
		return "", err
	}
	if r == nil {
		if err := idx.Add(&metadata.Record{Path: resolved, Type: metadata.Regular, Mode: mode, UID: uid, GID: gid}); err != nil {
			return "", err
		}
	}
	return resolved, nil
}

// symlinkRecorded makes rel a symlink to target.
func symlinkRecorded(tree *image.RootTree, idx *metadata.Index, rel, target string) error {
	host, resolved, err := resolveParent(tree, rel)
	if err != nil {
		return err
	}
	if r := idx.Get(resolved); r != nil {
		if r.Type == metadata.Symlink && r.Target == target {
			return nil
		}
		if r.Type == metadata.Directory {
			return fmt.Errorf("cannot create symlink %s: exists and is a directory", rel)
		}
		if err := os.Remove(host); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if err := os.Symlink(target, host); err != nil {
		return err
	}
	return idx.Add(&metadata.Record{Path: resolved, Type: metadata.Symlink, Mode: 0777, Target: target})
}

// renameRecorded renames rel within its directory, without following a
// final symlink.
func renameRecorded(tree *image.RootTree, idx *metadata.Index, oldRel, newRel string) error {
	oldHost, oldResolved, err := resolveParent(tree, oldRel)
	if err != nil {
		return err
	}
	newHost, newResolved, err := resolveParent(tree, newRel)
	if err != nil {
		return err
	}
	if err := os.Rename(oldHost, newHost); err != nil {
		return err
	}
	return idx.Rename(oldResolved, newResolved)
}

// removeRecorded removes rel, without following a final symlink.
func removeRecorded(tree *image.RootTree, idx *metadata.Index, rel string) error {
	host, resolved, err := resolveParent(tree, rel)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(host); err != nil {
		return err
	}
	if idx.Get(resolved) == nil {
		return nil
	}
	return idx.Remove(resolved)
}
