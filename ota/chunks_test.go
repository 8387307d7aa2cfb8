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
package ota_test

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	. "gopkg.in/check.v1"

	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/ota"
	"github.com/padroot/padroot/testutil"
)

type chunksSuite struct {
	testutil.BaseTest

	data   []byte
	src    string
	chunks string
}

var _ = Suite(&chunksSuite{})

func md5hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func (s *chunksSuite) SetUpTest(c *C) {
	s.BaseTest.SetUpTest(c)
	s.Setenv("PADROOT_UNSAFE_IO", "1")
	_, restore := logger.MockLogger()
	s.AddCleanup(restore)

	s.data = make([]byte, 2*ota.ChunkSize+1000)
	for i := range s.data {
		s.data[i] = byte(i*7 + i/ota.ChunkSize)
	}
	dir := c.MkDir()
	s.src = filepath.Join(dir, "rootfs.squashfs")
	c.Assert(os.WriteFile(s.src, s.data, 0644), IsNil)
	s.chunks = filepath.Join(dir, "ota")
	c.Assert(os.Mkdir(s.chunks, 0755), IsNil)
}

func (s *chunksSuite) chunkSums() []string {
	var sums []string
	for off := 0; off < len(s.data); off += ota.ChunkSize {
		end := off + ota.ChunkSize
		if end > len(s.data) {
			end = len(s.data)
		}
		sums = append(sums, md5hex(s.data[off:end]))
	}
	return sums
}

func (s *chunksSuite) TestSplit(c *C) {
	payload, err := ota.SplitRootfs(context.Background(), s.src, s.chunks)
	c.Assert(err, IsNil)
	whole := md5hex(s.data)
	c.Check(payload, DeepEquals, &ota.Payload{Path: s.src, Size: int64(len(s.data)), MD5: whole})

	sums := s.chunkSums()
	c.Assert(sums, HasLen, 3)
	expected := []string{
		"ota_md5_rootfs.squashfs." + whole,
		"rootfs.squashfs.0000." + whole,
		"rootfs.squashfs.0001." + sums[0],
		"rootfs.squashfs.0002." + sums[1],
	}
	entries, err := os.ReadDir(s.chunks)
	c.Assert(err, IsNil)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	c.Check(names, DeepEquals, expected)

	c.Check(filepath.Join(s.chunks, expected[0]), testutil.FileEquals, fmt.Sprintf("%s\n%s\n%s\n", sums[0], sums[1], sums[2]))
	c.Check(filepath.Join(s.chunks, expected[3]), testutil.FileEquals, s.data[2*ota.ChunkSize:])
}

func (s *chunksSuite) TestSplitCancelled(c *C) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ota.SplitRootfs(ctx, s.src, s.chunks)
	c.Check(err, Equals, context.Canceled)
}

func (s *chunksSuite) TestAssembleRoundTrip(c *C) {
	_, err := ota.SplitRootfs(context.Background(), s.src, s.chunks)
	c.Assert(err, IsNil)

	out := filepath.Join(c.MkDir(), "assembled")
	payload, err := ota.AssembleRootfs(s.chunks, out)
	c.Assert(err, IsNil)
	c.Check(payload, DeepEquals, &ota.Payload{Path: out, Size: int64(len(s.data)), MD5: md5hex(s.data)})
	c.Check(out, testutil.FileEquals, s.data)
}

func (s *chunksSuite) TestAssembleWithoutList(c *C) {
	_, err := ota.SplitRootfs(context.Background(), s.src, s.chunks)
	c.Assert(err, IsNil)
	c.Assert(os.Remove(filepath.Join(s.chunks, "ota_md5_rootfs.squashfs."+md5hex(s.data))), IsNil)

	_, err = ota.AssembleRootfs(s.chunks, filepath.Join(c.MkDir(), "out"))
	c.Check(err, IsNil)
}

func (s *chunksSuite) TestAssembleErrors(c *C) {
	whole := md5hex(s.data)
	sums := s.chunkSums()
	chunk := func(n int, prev string) string {
		return filepath.Join(s.chunks, fmt.Sprintf("rootfs.squashfs.%04d.%s", n, prev))
	}
	for _, t := range []struct {
		mangle func()
		err    string
	}{
		{func() { os.Remove(chunk(1, sums[0])) }, "cannot assemble rootfs.squashfs: rootfs.squashfs chunk 0001 is missing"},
		{func() { os.WriteFile(chunk(1, sums[0]), []byte("evil"), 0644) }, "cannot assemble rootfs.squashfs: chunk rootfs.squashfs.0002.* does not follow a chunk with md5 .*"},
		{func() { os.Rename(chunk(0, whole), chunk(0, sums[2])) }, "cannot assemble rootfs.squashfs: checksum .* does not match first chunk .*"},
		{func() {
			os.WriteFile(filepath.Join(s.chunks, "ota_md5_rootfs.squashfs."+whole), []byte("0\n1\n2\n"), 0644)
		}, "cannot assemble rootfs.squashfs: chunk checksums do not match ota_md5_rootfs.squashfs.*"},
		{func() { os.WriteFile(filepath.Join(s.chunks, "rootfs.squashfs.0003.bad"), nil, 0644) }, `cannot assemble rootfs.squashfs: unexpected file "rootfs.squashfs.0003.bad" among rootfs.squashfs chunks`},
	} {
		c.Assert(os.RemoveAll(s.chunks), IsNil)
		c.Assert(os.Mkdir(s.chunks, 0755), IsNil)
		_, err := ota.SplitRootfs(context.Background(), s.src, s.chunks)
		c.Assert(err, IsNil)
		t.mangle()

		out := filepath.Join(c.MkDir(), "out")
		_, err = ota.AssembleRootfs(s.chunks, out)
		c.Check(err, ErrorMatches, t.err)
		c.Check(out, testutil.FileAbsent)
	}

	_, err := ota.AssembleRootfs(c.MkDir(), filepath.Join(c.MkDir(), "out"))
	c.Check(err, ErrorMatches, "cannot assemble rootfs.squashfs: no chunks found in .*")
}
