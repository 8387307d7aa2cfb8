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
	"io/fs"
	"os"
	"path/filepath"

	"github.com/padroot/padroot/image"
	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/metadata"
)

const InstallOverlayName = "install-overlay"

// InstallOverlay copies a host directory over the tree. New paths are
// owned by root; files already in the tree keep their metadata.
type InstallOverlay struct {
	Dir string
}

func (p *InstallOverlay) Name() string {
	return InstallOverlayName
}

func (p *InstallOverlay) Manifest() Manifest {
	return Manifest{}
}

func overlayMode(fi fs.FileInfo) metadata.Mode {
	if fi.IsDir() || fi.Mode().Perm()&0111 != 0 {
		return 0755
	}
	return 0644
}

func (p *InstallOverlay) Apply(tree *image.RootTree, idx *metadata.Index) error {
	if !filepath.IsAbs(p.Dir) {
		return fmt.Errorf("internal error: overlay directory %q is not absolute", p.Dir)
	}
	n := 0
	err := filepath.WalkDir(p.Dir, func(src string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(p.Dir, src)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case fi.IsDir():
			_, err = mkdirRecorded(tree, idx, rel, overlayMode(fi), 0, 0)
		case fi.Mode()&os.ModeSymlink != 0:
			var target string
			if target, err = os.Readlink(src); err == nil {
				err = symlinkRecorded(tree, idx, rel, target)
			}
		case fi.Mode().IsRegular():
			var data []byte
			if data, err = os.ReadFile(src); err == nil {
				_, err = writeRecorded(tree, idx, rel, data, overlayMode(fi), 0, 0)
			}
		default:
			logger.Noticef("skipping overlay special file %s", src)
			return nil
		}
		if err != nil {
			return &UnrecognizedLayoutError{Patch: p.Name(), Reason: "cannot install " + rel, Err: err}
		}
		n++
		return nil
	})
	if err != nil {
		return err
	}
	logger.Debugf("installed %d overlay entries from %s", n, p.Dir)
	return nil
}
