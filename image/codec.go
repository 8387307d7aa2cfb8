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
// Package image extracts squashfs firmware root filesystems into a
// scratch directory and rebuilds them, carrying the metadata the host
// cannot represent in a metadata index.
package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/metadata"
	"github.com/padroot/padroot/osutil"
	"github.com/padroot/padroot/squashfs"
)

const (
	rootfsDir    = "rootfs"
	metadataFile = "metadata.yaml"
	pseudoFile   = "pseudo"
)

var geteuid = os.Geteuid

// Options tune the images produced by Rebuild.
type Options struct {
	// Compression overrides the compressor of the source image.
	Compression string
	// BlockSize overrides the block size of the source image.
	BlockSize uint32
}

// Codec extracts one firmware archive into a scratch directory and
// rebuilds it. A codec is used for a single run.
type Codec struct {
	scratch string
	opts    Options

	created bool
	lock    *osutil.FileLock
	source  *FirmwareArchive
	tree    *RootTree
}

// NewCodec returns a codec working in the given scratch directory, which
// must be absent or empty.
func NewCodec(scratch string, opts *Options) *Codec {
	c := &Codec{scratch: scratch}
	if opts != nil {
		c.opts = *opts
	}
	return c
}

// Scratch returns the scratch directory.
func (c *Codec) Scratch() string {
	return c.scratch
}

// MetadataPath is where the index of the extracted tree is persisted.
func (c *Codec) MetadataPath() string {
	return filepath.Join(c.scratch, metadataFile)
}

// Source returns the archive extracted by Extract, or nil.
func (c *Codec) Source() *FirmwareArchive {
	return c.source
}

func (c *Codec) prepareScratch() error {
	if _, err := os.Lstat(c.scratch); os.IsNotExist(err) {
		if err := os.MkdirAll(c.scratch, 0700); err != nil {
			return &ExtractionIOError{Path: c.scratch, Err: err}
		}
		c.created = true
	} else if err != nil {
		return &ExtractionIOError{Path: c.scratch, Err: err}
	}

	lock, err := osutil.OpenDirLock(c.scratch)
	if err != nil {
		return &ExtractionIOError{Path: c.scratch, Err: err}
	}
	if err := lock.TryLock(); err != nil {
		lock.Close()
		if err == osutil.ErrAlreadyLocked {
			return &ScratchNotEmptyError{Path: c.scratch, Locked: true}
		}
		return &ExtractionIOError{Path: c.scratch, Err: err}
	}
	c.lock = lock

	empty, err := osutil.IsDirEmpty(c.scratch)
	if err != nil {
		return &ExtractionIOError{Path: c.scratch, Err: err}
	}
	if !empty {
		return &ScratchNotEmptyError{Path: c.scratch}
	}
	return nil
}

// Extract unpacks the archive into the scratch directory. The metadata
// of every object is taken from the archive listing before the tree is
// materialized, so ownership, modes and special files the host cannot
// reproduce are kept in the returned index. The index is also persisted
// next to the tree.
func (c *Codec) Extract(ctx context.Context, archivePath string) (*RootTree, *metadata.Index, error) {
	if c.tree != nil || c.lock != nil {
		return nil, nil, fmt.Errorf("internal error: codec already used")
	}
	if err := c.prepareScratch(); err != nil {
		c.release()
		return nil, nil, err
	}

	info, err := squashfs.ReadInfo(archivePath)
	if err != nil {
		return nil, nil, &ArchiveCorruptError{Path: archivePath, Err: err}
	}
	logger.Debugf("extracting %s (%s)", archivePath, info)

	img := squashfs.New(archivePath)
	entries, err := img.List(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, err
		}
		return nil, nil, &ArchiveCorruptError{Path: archivePath, Err: err}
	}
	idx, err := metadata.FromListing(entries)
	if err != nil {
		return nil, nil, &ArchiveCorruptError{Path: archivePath, Err: err}
	}

	root := filepath.Join(c.scratch, rootfsDir)
	skipped, err := img.Unpack(ctx, root)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, err
		}
		var uerr *squashfs.UnpackError
		if errors.As(err, &uerr) && uerr.WriteFailure {
			return nil, nil, &ExtractionIOError{Path: root, Err: err}
		}
		return nil, nil, &ArchiveCorruptError{Path: archivePath, Err: err}
	}
	if len(skipped) > 0 {
		logger.Noticef("cannot create %d special files without privilege, they will be recreated in the output image", len(skipped))
	}

	if err := idx.Save(c.MetadataPath()); err != nil {
		return nil, nil, &ExtractionIOError{Path: c.MetadataPath(), Err: err}
	}
	if err := metadata.MakeAccessible(root, idx); err != nil {
		return nil, nil, &ExtractionIOError{Path: root, Err: err}
	}
	if err := metadata.Verify(root, idx); err != nil {
		return nil, nil, &ArchiveCorruptError{Path: archivePath, Err: err}
	}

	c.source = &FirmwareArchive{Path: archivePath, Info: info}
	c.tree = &RootTree{root: root, alive: true}
	logger.Debugf("extracted %d objects into %s", idx.Len(), root)
	return c.tree, idx, nil
}

func (c *Codec) buildOpts() *squashfs.BuildOpts {
	opts := &squashfs.BuildOpts{
		Compression: c.opts.Compression,
		BlockSize:   c.opts.BlockSize,
	}
	if c.source != nil {
		if opts.Compression == "" {
			opts.Compression = c.source.Info.Compression
		}
		if opts.BlockSize == 0 {
			opts.BlockSize = c.source.Info.BlockSize
		}
	}
	// mksquashfs reads lzma images but cannot write them
	if opts.Compression == "lzma" {
		logger.Noticef("cannot compress with lzma, using xz")
		opts.Compression = "xz"
	}
	return opts
}

func sameFile(a, b string) bool {
	fa, err := os.Stat(a)
	if err != nil {
		return false
	}
	fb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(fa, fb)
}

// Rebuild applies the index to the tree and compresses it into a new
// archive at outputPath. The archive is written next to outputPath and
// only renamed into place once complete; on failure no output exists.
func (c *Codec) Rebuild(ctx context.Context, tree *RootTree, idx *metadata.Index, outputPath string) (*FirmwareArchive, error) {
	if tree == nil || !tree.alive {
		return nil, fmt.Errorf("internal error: cannot rebuild from a removed tree")
	}
	if c.source != nil && (outputPath == c.source.Path || sameFile(outputPath, c.source.Path)) {
		return nil, &RebuildIOError{Path: outputPath, Err: errors.New("output would overwrite the input archive")}
	}

	if err := metadata.Verify(tree.root, idx); err != nil {
		return nil, err
	}
	privileged := geteuid() == 0
	if err := metadata.Apply(tree.root, idx, &metadata.ApplyOptions{Chown: privileged}); err != nil {
		return nil, err
	}

	var pseudo bytes.Buffer
	present := func(p string) bool {
		return osutil.FileExists(filepath.Join(tree.root, p))
	}
	if err := metadata.WritePseudo(&pseudo, idx, present); err != nil {
		if metadata.IsApplyError(err) {
			return nil, err
		}
		return nil, &RebuildIOError{Path: outputPath, Err: err}
	}
	pseudoPath := filepath.Join(c.scratch, pseudoFile)
	if tree.root != filepath.Join(c.scratch, rootfsDir) {
		pseudoPath = outputPath + ".pseudo"
	}
	if err := osutil.AtomicWriteFile(pseudoPath, pseudo.Bytes(), 0600); err != nil {
		return nil, &RebuildIOError{Path: outputPath, Err: err}
	}
	defer os.Remove(pseudoPath)

	partial := outputPath + ".partial"
	if err := os.Remove(partial); err != nil && !os.IsNotExist(err) {
		return nil, &RebuildIOError{Path: outputPath, Err: err}
	}
	opts := c.buildOpts()
	opts.PseudoFile = pseudoPath
	if err := squashfs.New(partial).Build(ctx, tree.root, opts); err != nil {
		os.Remove(partial)
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &RebuildIOError{Path: outputPath, Err: err}
	}

	info, err := squashfs.ReadInfo(partial)
	if err != nil {
		os.Remove(partial)
		return nil, &RebuildIOError{Path: outputPath, Err: err}
	}
	if err := os.Rename(partial, outputPath); err != nil {
		os.Remove(partial)
		return nil, &RebuildIOError{Path: outputPath, Err: err}
	}
	logger.Debugf("rebuilt %s (%s)", outputPath, info)
	return &FirmwareArchive{Path: outputPath, Info: info}, nil
}

// makeRemovable gives the owner full access to every directory below
// root so that an unprivileged owner can remove the tree.
func makeRemovable(root string) {
	filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		fi, err := os.Lstat(p)
		if err == nil && fi.Mode().Perm()&0700 != 0700 {
			os.Chmod(p, fi.Mode().Perm()|0700)
		}
		return nil
	})
}

func (c *Codec) release() {
	if c.lock != nil {
		c.lock.Close()
		c.lock = nil
	}
}

// Cleanup removes everything the codec put into the scratch directory,
// and the directory itself if the codec created it. The tree is no
// longer usable afterwards.
func (c *Codec) Cleanup() error {
	defer c.release()
	if c.tree != nil {
		c.tree.alive = false
	}
	if c.lock == nil {
		// scratch was never ours
		return nil
	}

	var firstErr error
	entries, err := os.ReadDir(c.scratch)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, e := range entries {
		p := filepath.Join(c.scratch, e.Name())
		makeRemovable(p)
		if err := os.RemoveAll(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.created && firstErr == nil {
		if err := os.Remove(c.scratch); err != nil && !os.IsNotExist(err) {
			firstErr = err
		}
	}
	return firstErr
}
