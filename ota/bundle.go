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
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/padroot/padroot/image"
	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/osutil"
	"github.com/padroot/padroot/patch"
	"github.com/padroot/padroot/pipeline"
)

// Bundle is an OTA image of a board.
type Bundle struct {
	Path  string
	Board string
}

// PatchOptions configure Bundle.Patch.
type PatchOptions struct {
	// Output image, defaults to the conventional image name for the
	// patched version next to the input.
	Output string
	// Scratch is the working directory, it must be empty or absent.
	Scratch string
	// Version of the stock image, read from its ota_config.in when
	// empty.
	Version string
	// Prefix replaces the first version component, DefaultPrefix when
	// empty.
	Prefix  string
	Patches *patch.Set
	Codec   *image.Options
	Force   bool
	// Progress, if set, is told about every step.
	Progress func(step string)
}

func (b *Bundle) board() string {
	if b.Board == "" {
		return DefaultBoard
	}
	return b.Board
}

// workspace is the layout of the scratch directory, locked while in
// use.
type workspace struct {
	dir     string
	created bool
	lock    *osutil.FileLock
}

func (w *workspace) stock() string   { return filepath.Join(w.dir, "stock") }
func (w *workspace) rooted() string  { return filepath.Join(w.dir, "rooted") }
func (w *workspace) rootfs() string  { return filepath.Join(w.dir, "rootfs") }
func (w *workspace) input() string   { return filepath.Join(w.dir, rootfsName) }
func (w *workspace) patched() string { return filepath.Join(w.dir, "patched-"+rootfsName) }

func newWorkspace(dir string) (*workspace, error) {
	w := &workspace{dir: dir}
	if !osutil.FileExists(dir) {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, err
		}
		w.created = true
	}
	lock, err := osutil.OpenDirLock(dir)
	if err != nil {
		return nil, err
	}
	if err := lock.TryLock(); err != nil {
		lock.Close()
		if err == osutil.ErrAlreadyLocked {
			return nil, &image.ScratchNotEmptyError{Path: dir, Locked: true}
		}
		return nil, err
	}
	w.lock = lock

	empty, err := osutil.IsDirEmpty(dir)
	if err != nil {
		w.lock.Close()
		return nil, err
	}
	if !empty {
		w.lock.Close()
		return nil, &image.ScratchNotEmptyError{Path: dir}
	}
	return w, nil
}

func (w *workspace) cleanup() {
	defer w.lock.Close()
	entries, _ := os.ReadDir(w.dir)
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(w.dir, e.Name())); err != nil {
			logger.Noticef("cannot clean up %s: %v", w.dir, err)
		}
	}
	if w.created {
		os.Remove(w.dir)
	}
}

// detectVersion finds the version of the unpacked stock image.
func (b *Bundle) detectVersion(stock string) (string, error) {
	matches, err := doublestar.Glob(os.DirFS(stock), BaseName(b.board(), "*")+"/"+configFile)
	if err != nil {
		return "", err
	}
	if len(matches) != 1 {
		return "", fmt.Errorf("cannot find the version of %s: expected one %s, found %d", b.Path, configFile, len(matches))
	}
	return ReadConfigVersion(filepath.Join(stock, matches[0]))
}

// Patch unpacks the image, applies the patch set to its root filesystem
// and packs the result as a new image announcing the rooted version.
// It returns the path of the new image.
func (b *Bundle) Patch(ctx context.Context, opts *PatchOptions) (output string, err error) {
	if opts == nil || opts.Patches == nil {
		return "", fmt.Errorf("internal error: no patch set given")
	}
	if opts.Scratch == "" {
		return "", fmt.Errorf("no scratch directory given")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	step := func(s string) {
		logger.Debugf("%s", s)
		if opts.Progress != nil {
			opts.Progress(s)
		}
	}
	password, err := Password(b.board())
	if err != nil {
		return "", err
	}
	logger.Redact(password)

	w, err := newWorkspace(opts.Scratch)
	if err != nil {
		return "", err
	}
	defer w.cleanup()

	step("unpacking " + b.Path)
	if err := Unpack(ctx, b.Path, password, w.stock()); err != nil {
		return "", err
	}

	version := opts.Version
	if version == "" {
		if version, err = b.detectVersion(w.stock()); err != nil {
			return "", err
		}
	}
	rooted, err := RootedVersion(version, prefix)
	if err != nil {
		return "", err
	}
	if rooted == version {
		return "", fmt.Errorf("patched version %s must differ from the stock one", rooted)
	}
	output = opts.Output
	if output == "" {
		output = filepath.Join(filepath.Dir(b.Path), ImageName(b.board(), rooted))
	}
	if osutil.FileExists(output) && !opts.Force {
		return "", fmt.Errorf("cannot write %q: file exists", output)
	}
	logger.Noticef("patching %s version %s as version %s", b.board(), version, rooted)

	stockOTA := filepath.Join(w.stock(), BaseName(b.board(), version), otaDirName(version))
	if !osutil.IsDirectory(stockOTA) {
		return "", fmt.Errorf("cannot find %s in %s", otaDirName(version), b.Path)
	}
	update, err := LoadUpdate(filepath.Join(stockOTA, updateFile))
	if err != nil {
		return "", err
	}
	if update.Version != version {
		return "", fmt.Errorf("%s announces version %s, expected %s", updateFile, update.Version, version)
	}
	rootfs := update.Partition("rootfs")
	if rootfs == nil {
		return "", fmt.Errorf("%s has no rootfs partition", updateFile)
	}

	step("assembling " + rootfsName)
	payload, err := AssembleRootfs(stockOTA, w.input())
	if err != nil {
		return "", err
	}
	if payload.MD5 != rootfs.MD5 || payload.Size != rootfs.Size {
		return "", fmt.Errorf("assembled %s does not match %s", rootfsName, updateFile)
	}

	step("patching " + rootfsName)
	run, err := pipeline.New(&pipeline.Options{
		Input:   w.input(),
		Output:  w.patched(),
		Scratch: w.rootfs(),
		Patches: patch.NewSet(append(opts.Patches.Patches(), &patch.UpdateOTAInfo{Version: rooted, Board: b.board()})...),
		Codec:   opts.Codec,
		Progress: func(state pipeline.State, detail string) {
			if detail != "" && state == pipeline.Patching {
				step("applying " + detail)
			}
		},
	})
	if err != nil {
		return "", err
	}
	if _, err := run.Execute(ctx); err != nil {
		return "", err
	}

	step("splitting " + rootfsName)
	rootedBase := filepath.Join(w.rooted(), BaseName(b.board(), rooted))
	rootedOTA := filepath.Join(rootedBase, otaDirName(rooted))
	if err := os.MkdirAll(rootedOTA, 0755); err != nil {
		return "", err
	}
	payload, err = SplitRootfs(ctx, w.patched(), rootedOTA)
	if err != nil {
		return "", err
	}
	moved, err := carryOver(stockOTA, rootedOTA)
	if err != nil {
		return "", err
	}
	logger.Debugf("carried over %v", moved)

	rootfs.Size, rootfs.MD5 = payload.Size, payload.MD5
	update.Version = rooted
	if err := SaveUpdate(filepath.Join(rootedOTA, updateFile), update); err != nil {
		return "", err
	}
	if err := WriteConfig(filepath.Join(rootedBase, configFile), rooted); err != nil {
		return "", err
	}
	if err := osutil.AtomicWriteFile(filepath.Join(rootedOTA, otaDirName(rooted)+".ok"), []byte("\n"), 0644); err != nil {
		return "", err
	}

	step("packing " + output)
	if err := Pack(ctx, rootedBase, output, password); err != nil {
		return "", err
	}
	logger.Noticef("wrote %s", output)
	return output, nil
}
