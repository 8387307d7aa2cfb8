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

package metadata

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"

	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/strutil"
)

// ApplyError reports a tree that does not match its index: a recorded
// path missing from the tree, a path of the tree without a record, or a
// record that could not be applied.
type ApplyError struct {
	Path string
	// Missing and Unrecorded list the offending paths found by Verify.
	Missing    []string
	Unrecorded []string

	Err error
}

func (e *ApplyError) Error() string {
	switch {
	case len(e.Missing) > 0 && len(e.Unrecorded) > 0:
		return fmt.Sprintf("tree does not match metadata: missing %s; not recorded %s",
			strutil.QuotedSummary(e.Missing, 5), strutil.QuotedSummary(e.Unrecorded, 5))
	case len(e.Missing) > 0:
		return fmt.Sprintf("tree does not match metadata: missing %s", strutil.QuotedSummary(e.Missing, 5))
	case len(e.Unrecorded) > 0:
		return fmt.Sprintf("tree does not match metadata: not recorded %s", strutil.QuotedSummary(e.Unrecorded, 5))
	}
	return fmt.Sprintf("cannot apply metadata to %q: %v", e.Path, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// IsApplyError returns true if the given error is or wraps an ApplyError.
func IsApplyError(err error) bool {
	var e *ApplyError
	return errors.As(err, &e)
}

func lstatType(p string) (FileType, bool, error) {
	fi, err := os.Lstat(p)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	typ, err := fileTypeOf(fi.Mode())
	return typ, true, err
}

// Verify checks that every record of the index has a matching object in
// the tree and that every object of the tree is recorded. Special files
// may be absent from the tree: they are synthesized when building.
func Verify(root string, idx *Index) error {
	var missing []string
	for _, p := range idx.Paths() {
		r := idx.records[p]
		typ, exists, err := lstatType(filepath.Join(root, p))
		if err != nil {
			return &ApplyError{Path: p, Err: err}
		}
		if !exists {
			if !r.Type.IsSpecial() {
				missing = append(missing, p)
			}
			continue
		}
		if typ != r.Type {
			return &ApplyError{Path: p, Err: fmt.Errorf("recorded as %s but found a %s", r.Type, typ)}
		}
	}

	var unrecorded []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if idx.records[rel] == nil {
			unrecorded = append(unrecorded, rel)
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
	if err != nil {
		return &ApplyError{Path: ".", Err: err}
	}

	if len(missing) > 0 || len(unrecorded) > 0 {
		return &ApplyError{Missing: missing, Unrecorded: unrecorded}
	}
	return nil
}

// ApplyOptions controls how records are applied to the host tree.
type ApplyOptions struct {
	// Chown applies ownership and creates device nodes, this requires
	// privilege. Without it modes gain the owner access bits the image
	// builder needs and the exact metadata is carried by the pseudo file.
	Chown bool
}

// hostMode is the mode an object gets on the host tree.
func hostMode(r *Record, opts *ApplyOptions) Mode {
	if opts.Chown {
		return r.Mode
	}
	switch r.Type {
	case Directory:
		return r.Mode | 0700
	case Regular:
		return r.Mode | 0400
	}
	return r.Mode
}

var (
	lchown = os.Lchown
	chmod  = os.Chmod
	mknod  = unix.Mknod
)

func createSpecial(p string, r *Record) error {
	var typ uint32
	var dev int
	switch r.Type {
	case CharDevice:
		typ = unix.S_IFCHR
		dev = int(unix.Mkdev(r.Major, r.Minor))
	case BlockDevice:
		typ = unix.S_IFBLK
		dev = int(unix.Mkdev(r.Major, r.Minor))
	case Fifo:
		typ = unix.S_IFIFO
	case Socket:
		typ = unix.S_IFSOCK
	default:
		return fmt.Errorf("internal error: cannot create %s", r.Type)
	}
	return mknod(p, typ|uint32(r.Mode&0777), dev)
}

func applyRecord(root string, r *Record, opts *ApplyOptions) error {
	p := filepath.Join(root, r.Path)
	typ, exists, err := lstatType(p)
	if err != nil {
		return err
	}
	if !exists {
		if !r.Type.IsSpecial() {
			return fmt.Errorf("recorded %s is missing", r.Type)
		}
		if !opts.Chown {
			// left to the pseudo file
			return nil
		}
		if err := createSpecial(p, r); err != nil {
			return err
		}
		typ = r.Type
	}
	if typ != r.Type {
		return fmt.Errorf("recorded as %s but found a %s", r.Type, typ)
	}

	if r.Type == Symlink {
		target, err := os.Readlink(p)
		if err != nil {
			return err
		}
		if target != r.Target {
			if err := os.Remove(p); err != nil {
				return err
			}
			if err := os.Symlink(r.Target, p); err != nil {
				return err
			}
		}
	}
	if opts.Chown {
		// chown clears setuid/setgid, it must come before chmod
		if err := lchown(p, r.UID, r.GID); err != nil {
			return err
		}
	}
	if r.Type == Symlink {
		return nil
	}
	return chmod(p, hostMode(r, opts).FileMode())
}

// Apply applies every record of the index to the tree at root. Records
// are independent of each other, except that directories get their final
// permissions after everything else, deepest first, so that a read-only
// directory cannot block changes below it. Any record that cannot be
// applied fails the whole operation.
func Apply(root string, idx *Index, opts *ApplyOptions) error {
	if opts == nil {
		opts = &ApplyOptions{}
	}
	var dirs []*Record
	for _, p := range idx.Paths() {
		r := idx.records[p]
		if r.Type == Directory {
			dirs = append(dirs, r)
			continue
		}
		if err := applyRecord(root, r, opts); err != nil {
			return &ApplyError{Path: p, Err: err}
		}
	}
	sort.SliceStable(dirs, func(i, j int) bool {
		return depth(dirs[i].Path) > depth(dirs[j].Path)
	})
	for _, r := range dirs {
		if err := applyRecord(root, r, opts); err != nil {
			return &ApplyError{Path: r.Path, Err: err}
		}
	}
	logger.Debugf("applied %d metadata records to %s", idx.Len(), root)
	return nil
}

// MakeAccessible gives the owner read and write access to every
// recorded regular file and directory of the tree, so the tree can be
// edited and later removed by an unprivileged owner. The index is left
// untouched.
func MakeAccessible(root string, idx *Index) error {
	for _, p := range idx.Paths() {
		r := idx.records[p]
		if r.Type != Regular && r.Type != Directory {
			continue
		}
		fp := filepath.Join(root, p)
		fi, err := os.Lstat(fp)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		want := fi.Mode().Perm() | 0600
		if r.Type == Directory {
			want |= 0700
		}
		if want == fi.Mode().Perm() {
			continue
		}
		if err := chmod(fp, want|(fi.Mode()&(os.ModeSetuid|os.ModeSetgid|os.ModeSticky))); err != nil {
			return err
		}
	}
	return nil
}
