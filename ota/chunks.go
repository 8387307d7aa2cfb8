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
	"bufio"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/osutil"
)

// ChunkSize is the size of every payload chunk but the last.
const ChunkSize = 1 << 20

const rootfsName = "rootfs.squashfs"

// chunkRe matches payload chunks. The md5 in a chunk name is the one of
// the previous chunk, or of the whole payload for the first chunk.
var chunkRe = regexp.MustCompile(`^(.+)\.([0-9]{4})\.([0-9a-f]{32})$`)

func chunkName(base string, n int, md5sum string) string {
	return fmt.Sprintf("%s.%04d.%s", base, n, md5sum)
}

func md5File(base, md5sum string) string {
	return "ota_md5_" + base + "." + md5sum
}

// Payload is a payload file with its checksum.
type Payload struct {
	Path string
	Size int64
	MD5  string
}

func findChunks(dir, base string) ([]string, error) {
	matches, err := doublestar.Glob(os.DirFS(dir), base+".[0-9][0-9][0-9][0-9].*")
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	for i, m := range matches {
		sm := chunkRe.FindStringSubmatch(m)
		if sm == nil || sm[1] != base {
			return nil, fmt.Errorf("unexpected file %q among %s chunks", m, base)
		}
		if n, _ := strconv.Atoi(sm[2]); n != i {
			return nil, fmt.Errorf("%s chunk %04d is missing", base, i)
		}
	}
	return matches, nil
}

func readMD5List(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var sums []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			sums = append(sums, l)
		}
	}
	return sums, sc.Err()
}

// AssembleRootfs joins the rootfs chunks found in dir into out, checking
// the chunk chain and, when present, the ota_md5 list.
func AssembleRootfs(dir, out string) (*Payload, error) {
	chunks, err := findChunks(dir, rootfsName)
	if err != nil {
		return nil, fmt.Errorf("cannot assemble %s: %v", rootfsName, err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("cannot assemble %s: no chunks found in %s", rootfsName, dir)
	}

	aw, err := osutil.NewAtomicFile(out, 0644, -1, -1)
	if err != nil {
		return nil, err
	}
	defer aw.Cancel()

	whole := md5.New()
	var size int64
	var prev string
	sums := make([]string, len(chunks))
	for i, name := range chunks {
		named := chunkRe.FindStringSubmatch(name)[3]
		if i > 0 && named != prev {
			return nil, fmt.Errorf("cannot assemble %s: chunk %s does not follow a chunk with md5 %s", rootfsName, name, prev)
		}
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		h := md5.New()
		n, err := io.Copy(io.MultiWriter(aw, whole, h), f)
		f.Close()
		if err != nil {
			return nil, err
		}
		size += n
		prev = hex.EncodeToString(h.Sum(nil))
		sums[i] = prev
	}
	sum := hex.EncodeToString(whole.Sum(nil))
	if first := chunkRe.FindStringSubmatch(chunks[0])[3]; first != sum {
		return nil, fmt.Errorf("cannot assemble %s: checksum %s does not match first chunk %s", rootfsName, sum, chunks[0])
	}

	listPath := filepath.Join(dir, md5File(rootfsName, sum))
	if osutil.FileExists(listPath) {
		listed, err := readMD5List(listPath)
		if err != nil {
			return nil, err
		}
		if strings.Join(listed, " ") != strings.Join(sums, " ") {
			return nil, fmt.Errorf("cannot assemble %s: chunk checksums do not match %s", rootfsName, filepath.Base(listPath))
		}
	} else {
		logger.Noticef("no %s, relying on chunk names", filepath.Base(listPath))
	}

	if err := aw.Finalize(); err != nil {
		return nil, err
	}
	logger.Debugf("assembled %d chunks into %s (%d bytes)", len(chunks), out, size)
	return &Payload{Path: out, Size: size, MD5: sum}, nil
}

func md5Section(r io.ReaderAt, off, n int64) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, io.NewSectionReader(r, off, n)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SplitRootfs cuts the file at src into ChunkSize chunks in destDir and
// writes their ota_md5 list. Checksums are computed concurrently.
func SplitRootfs(ctx context.Context, src, destDir string) (*Payload, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return nil, fmt.Errorf("cannot split empty %s", src)
	}
	count := int((size + ChunkSize - 1) / ChunkSize)
	span := func(i int) (int64, int64) {
		off := int64(i) * ChunkSize
		n := int64(ChunkSize)
		if off+n > size {
			n = size - off
		}
		return off, n
	}

	var whole string
	sums := make([]string, count)
	tasks := []func(context.Context) error{
		func(context.Context) (err error) {
			whole, err = md5Section(f, 0, size)
			return err
		},
	}
	for i := 0; i < count; i++ {
		i := i
		tasks = append(tasks, func(ctx context.Context) (err error) {
			if err := ctx.Err(); err != nil {
				return err
			}
			off, n := span(i)
			sums[i], err = md5Section(f, off, n)
			return err
		})
	}
	if err := osutil.RunManyWithContext(ctx, runtime.NumCPU(), tasks); err != nil {
		return nil, err
	}

	tasks = tasks[:0]
	for i := 0; i < count; i++ {
		i := i
		prev := whole
		if i > 0 {
			prev = sums[i-1]
		}
		tasks = append(tasks, func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			off, n := span(i)
			return osutil.AtomicWrite(filepath.Join(destDir, chunkName(rootfsName, i, prev)), io.NewSectionReader(f, off, n), 0644)
		})
	}
	if err := osutil.RunManyWithContext(ctx, runtime.NumCPU(), tasks); err != nil {
		return nil, err
	}

	list := strings.Join(sums, "\n") + "\n"
	if err := osutil.AtomicWriteFile(filepath.Join(destDir, md5File(rootfsName, whole)), []byte(list), 0644); err != nil {
		return nil, err
	}
	logger.Debugf("split %s into %d chunks", src, count)
	return &Payload{Path: src, Size: size, MD5: whole}, nil
}

// carriedOver are the payload files copied unchanged into a patched
// image.
var carriedOver = []string{"xImage.*", "zero.bin.*", "ota_md5_*"}

// carryOver moves the payload files of the partitions other than rootfs
// from src to dst.
func carryOver(src, dst string) ([]string, error) {
	var moved []string
	for _, pattern := range carriedOver {
		matches, err := doublestar.Glob(os.DirFS(src), pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			if strings.HasPrefix(m, md5File(rootfsName, "")) {
				continue
			}
			if err := os.Rename(filepath.Join(src, m), filepath.Join(dst, m)); err != nil {
				return nil, err
			}
			moved = append(moved, m)
		}
	}
	sort.Strings(moved)
	return moved, nil
}
