// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2014-2025 Canonical Ltd
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

// Package squashfs drives squashfs-tools to inspect, unpack and build
// firmware root filesystem images.
package squashfs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/osutil"
	"github.com/padroot/padroot/strutil"
)

// Magic is the magic prefix of squashfs images.
var Magic = []byte{'h', 's', 'q', 's'}

const superblockSize = 96

var compressionNames = map[uint16]string{
	1: "gzip",
	2: "lzma",
	3: "lzo",
	4: "xz",
	5: "lz4",
	6: "zstd",
}

// Info describes the format of a squashfs image as found in its
// superblock.
type Info struct {
	Compression string
	BlockSize   uint32
	Inodes      uint32
	MkfsTime    uint32
	Major       uint16
	Minor       uint16
	BytesUsed   int64
}

func (i *Info) String() string {
	return fmt.Sprintf("squashfs %d.%d %s/%d", i.Major, i.Minor, i.Compression, i.BlockSize)
}

// NotSquashfsError is returned by ReadInfo for files that do not carry a
// valid squashfs 4 superblock.
type NotSquashfsError struct {
	Path   string
	Reason string
}

func (e *NotSquashfsError) Error() string {
	return fmt.Sprintf("%q is not a squashfs image: %s", e.Path, e.Reason)
}

func readUint16(data []byte) uint16 {
	return uint16(data[0]) | uint16(data[1])<<8
}

func readUint32(data []byte) uint32 {
	return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
}

func readInt64(data []byte) int64 {
	return int64(uint64(readUint32(data)) | uint64(readUint32(data[4:]))<<32)
}

func parseSuperblock(path string, data []byte) (*Info, error) {
	if len(data) < superblockSize {
		return nil, &NotSquashfsError{Path: path, Reason: "superblock too small"}
	}
	if !bytes.Equal(data[:4], Magic) {
		return nil, &NotSquashfsError{Path: path, Reason: "invalid magic"}
	}
	info := &Info{
		Inodes:    readUint32(data[4:]),
		MkfsTime:  readUint32(data[8:]),
		BlockSize: readUint32(data[12:]),
		Major:     readUint16(data[28:]),
		Minor:     readUint16(data[30:]),
		BytesUsed: readInt64(data[40:]),
	}
	if info.Major != 4 {
		return nil, &NotSquashfsError{Path: path, Reason: fmt.Sprintf("unsupported version %d.%d", info.Major, info.Minor)}
	}
	compID := readUint16(data[20:])
	name, ok := compressionNames[compID]
	if !ok {
		return nil, &NotSquashfsError{Path: path, Reason: fmt.Sprintf("unknown compression id %d", compID)}
	}
	info.Compression = name
	// block size is a power of two between 4K and 1M
	if info.BlockSize < 4096 || info.BlockSize > 1<<20 || info.BlockSize&(info.BlockSize-1) != 0 {
		return nil, &NotSquashfsError{Path: path, Reason: fmt.Sprintf("invalid block size %d", info.BlockSize)}
	}
	return info, nil
}

// ReadInfo reads the superblock of the image at the given path.
func ReadInfo(path string) (*Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, superblockSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &NotSquashfsError{Path: path, Reason: "superblock too small"}
		}
		return nil, err
	}
	return parseSuperblock(path, buf)
}

// FileHasSquashfsHeader checks if the given file starts with the squashfs
// magic.
func FileHasSquashfsHeader(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	header := make([]byte, len(Magic))
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return bytes.Equal(header, Magic)
}

// Image is a squashfs image on disk.
type Image struct {
	path string
}

// New returns a new Image backed by the given path. The file does not
// need to exist yet when the Image is used to Build.
func New(path string) *Image {
	return &Image{path: path}
}

// Path returns the path of the backing file.
func (img *Image) Path() string {
	return img.path
}

// List returns every entry of the image as reported by unsquashfs in
// numeric long listing mode, in listing order (parents before children).
func (img *Image) List(ctx context.Context) ([]*Entry, error) {
	var stdout bytes.Buffer
	stderr := strutil.NewLimitedBuffer(20, 4096)

	cmd := exec.Command("unsquashfs", "-no-progress", "-dest", ".", "-lln", img.path)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	if err := osutil.RunWithContext(ctx, cmd); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("cannot list %q: %v", img.path, osutil.OutputErr(stderr.Bytes(), err))
	}

	entries, err := ParseListing(&stdout)
	if err != nil {
		return nil, fmt.Errorf("cannot list %q: %v", img.path, err)
	}
	return entries, nil
}

// UnpackError is returned by Unpack when unsquashfs failed or reported
// failures on stderr.
type UnpackError struct {
	// Failures are the lines unsquashfs reported as failed.
	Failures []string
	// WriteFailure is set when the failures come from writing to the
	// destination (e.g. no space left on device) rather than reading
	// the image.
	WriteFailure bool

	Err error
}

func (e *UnpackError) Error() string {
	if len(e.Failures) > 0 {
		return fmt.Sprintf("failed: %s", strutil.QuotedSummary(e.Failures, 4))
	}
	return e.Err.Error()
}

func (e *UnpackError) Unwrap() error {
	return e.Err
}

// exit status unsquashfs 4.5+ uses for non-fatal errors
const unsquashfsNonFatalExit = 2

// Unpack unpacks the whole image into dstDir. Unprivileged runs cannot
// create device nodes; those failures are tolerated and reported in
// skipped, the caller synthesizes the nodes from the listing.
func (img *Image) Unpack(ctx context.Context, dstDir string) (skipped []string, err error) {
	usw := newUnsquashfsStderrWriter()
	var stdout bytes.Buffer

	cmd := exec.Command("unsquashfs", "-no-progress", "-f", "-d", dstDir, img.path)
	cmd.Stdout = &stdout
	cmd.Stderr = usw
	runErr := osutil.RunWithContext(ctx, cmd)
	if runErr != nil && ctx.Err() != nil {
		return nil, runErr
	}
	usw.Flush()

	if len(usw.failures) > 0 {
		return nil, &UnpackError{Failures: usw.failures, WriteFailure: usw.writeFailure, Err: runErr}
	}
	if runErr != nil {
		code, cerr := osutil.ExitCode(runErr)
		if cerr == nil && code == unsquashfsNonFatalExit && len(usw.unprivileged) > 0 {
			runErr = nil
		}
	}
	if runErr != nil {
		return nil, &UnpackError{Err: osutil.OutputErr(usw.output.Bytes(), runErr)}
	}
	for _, l := range usw.unprivileged {
		logger.Debugf("unsquashfs: %s", l)
	}
	return usw.unprivileged, nil
}

// BuildOpts tunes the image produced by Build.
type BuildOpts struct {
	// Compression is one of the compressor names mksquashfs knows,
	// defaults to xz.
	Compression string
	// BlockSize in bytes, defaults to the mksquashfs default.
	BlockSize uint32
	// PseudoFile is a mksquashfs pseudo definition file overriding
	// metadata of the source tree.
	PseudoFile string
	// NoXattrs drops extended attributes.
	NoXattrs bool
}

// BuildError is returned when mksquashfs fails.
type BuildError struct {
	Err error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("mksquashfs call failed: %v", e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Build builds the image from the content of sourceDir. Any existing file
// at the image path is replaced.
func (img *Image) Build(ctx context.Context, sourceDir string, opts *BuildOpts) error {
	if opts == nil {
		opts = &BuildOpts{}
	}
	fullPath, err := filepath.Abs(img.path)
	if err != nil {
		return err
	}
	if !osutil.IsDirectory(sourceDir) {
		return fmt.Errorf("cannot build squashfs image: %q is not a directory", sourceDir)
	}

	comp := opts.Compression
	if comp == "" {
		comp = "xz"
	}
	args := []string{sourceDir, fullPath, "-noappend", "-no-progress", "-comp", comp}
	if opts.BlockSize != 0 {
		args = append(args, "-b", strconv.FormatUint(uint64(opts.BlockSize), 10))
	}
	if opts.NoXattrs {
		args = append(args, "-no-xattrs")
	}
	if opts.PseudoFile != "" {
		args = append(args, "-pf", opts.PseudoFile)
	}

	output := strutil.NewLimitedBuffer(20, 4096)
	cmd := exec.Command("mksquashfs", args...)
	cmd.Stdout = output
	cmd.Stderr = output
	logger.Debugf("running mksquashfs %q", args)
	if err := osutil.RunWithContext(ctx, cmd); err != nil {
		if ctx.Err() != nil {
			return err
		}
		return &BuildError{Err: osutil.OutputErr(output.Bytes(), err)}
	}
	return nil
}
