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
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

func fileTypeOf(fm os.FileMode) (FileType, error) {
	switch {
	case fm.IsRegular():
		return Regular, nil
	case fm.IsDir():
		return Directory, nil
	case fm&os.ModeSymlink != 0:
		return Symlink, nil
	case fm&os.ModeDevice != 0 && fm&os.ModeCharDevice != 0:
		return CharDevice, nil
	case fm&os.ModeDevice != 0:
		return BlockDevice, nil
	case fm&os.ModeNamedPipe != 0:
		return Fifo, nil
	case fm&os.ModeSocket != 0:
		return Socket, nil
	}
	return "", fmt.Errorf("unsupported file mode %v", fm)
}

// Capture records the metadata of root/rel as found on the host. Symlinks
// are not followed.
func Capture(root, rel string) (*Record, error) {
	rel, err := CleanPath(rel)
	if err != nil {
		return nil, err
	}
	p := filepath.Join(root, rel)

	var st unix.Stat_t
	if err := unix.Lstat(p, &st); err != nil {
		return nil, &os.PathError{Op: "lstat", Path: p, Err: err}
	}
	fi, err := os.Lstat(p)
	if err != nil {
		return nil, err
	}
	typ, err := fileTypeOf(fi.Mode())
	if err != nil {
		return nil, fmt.Errorf("cannot capture %q: %v", rel, err)
	}

	r := &Record{
		Path: rel,
		Type: typ,
		Mode: Mode(st.Mode & permMask),
		UID:  int(st.Uid),
		GID:  int(st.Gid),
	}
	switch typ {
	case Symlink:
		if r.Target, err = os.Readlink(p); err != nil {
			return nil, err
		}
		r.Mode = 0777
	case CharDevice, BlockDevice:
		r.Major = unix.Major(uint64(st.Rdev))
		r.Minor = unix.Minor(uint64(st.Rdev))
	}
	return r, nil
}

// CaptureTree records every object below root, root included.
func CaptureTree(root string) (*Index, error) {
	idx := NewIndex()
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		r, err := Capture(root, rel)
		if err != nil {
			return err
		}
		return idx.Add(r)
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}
