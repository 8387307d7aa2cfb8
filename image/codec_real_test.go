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
package image_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	. "gopkg.in/check.v1"

	"github.com/padroot/padroot/image"
	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/metadata"
	"github.com/padroot/padroot/squashfs"
	"github.com/padroot/padroot/testutil"
)

// realCodecSuite runs the codec against the squashfs-tools found on
// the host.
type realCodecSuite struct {
	testutil.BaseTest
}

var _ = Suite(&realCodecSuite{})

func (s *realCodecSuite) SetUpTest(c *C) {
	s.BaseTest.SetUpTest(c)
	for _, tool := range []string{"mksquashfs", "unsquashfs"} {
		if _, err := exec.LookPath(tool); err != nil {
			c.Skip(tool + " not available")
		}
	}
	s.Setenv("PADROOT_UNSAFE_IO", "1")
	_, restore := logger.MockLogger()
	s.AddCleanup(restore)
	s.AddCleanup(image.MockGeteuid(1000))
}

// buildFirmware makes a small rootfs image carrying a setuid binary, a
// group owned secret and a device node.
func (s *realCodecSuite) buildFirmware(c *C) string {
	src := c.MkDir()
	testutil.MakeTree(c, src, map[string]string{
		"bin/busybox": "#!/bin/true\n",
		"bin/sh":      "-> busybox",
		"etc/passwd":  "root:x:0:0:root:/root:/bin/sh\n",
		"etc/shadow":  "root::19000:0:99999:7:::\n",
		"dev/":        "",
		"var/empty/":  "",
	})
	pseudo := filepath.Join(c.MkDir(), "pseudo")
	c.Assert(os.WriteFile(pseudo, []byte(`/bin/busybox m 4755 0 0
/etc/shadow m 640 0 42
/dev/null c 666 0 0 1 3
`), 0644), IsNil)

	out := filepath.Join(c.MkDir(), "rootfs.squashfs")
	err := squashfs.New(out).Build(context.Background(), src, &squashfs.BuildOpts{
		Compression: "gzip",
		PseudoFile:  pseudo,
	})
	if err != nil {
		c.Skip("mksquashfs cannot build the fixture: " + err.Error())
	}
	return out
}

func (s *realCodecSuite) TestExtractRebuildKeepsMetadata(c *C) {
	input := s.buildFirmware(c)

	first := image.NewCodec(filepath.Join(c.MkDir(), "scratch"), nil)
	tree, idx, err := first.Extract(context.Background(), input)
	c.Assert(err, IsNil)
	defer first.Cleanup()

	c.Check(idx.Get("bin/busybox").Mode, Equals, metadata.Mode(04755))
	c.Check(idx.Get("etc/shadow").Mode, Equals, metadata.Mode(0640))
	c.Check(idx.Get("etc/shadow").GID, Equals, 42)
	c.Check(idx.Get("dev/null").Type, Equals, metadata.CharDevice)
	c.Check(idx.Get("dev/null").Major, Equals, uint32(1))
	c.Check(idx.Get("dev/null").Minor, Equals, uint32(3))
	c.Check(idx.Get("bin/sh").Target, Equals, "busybox")

	output := filepath.Join(c.MkDir(), "rootfs-rooted.squashfs")
	archive, err := first.Rebuild(context.Background(), tree, idx, output)
	c.Assert(err, IsNil)
	c.Check(archive.Info.Compression, Equals, "gzip")

	second := image.NewCodec(filepath.Join(c.MkDir(), "scratch"), nil)
	_, again, err := second.Extract(context.Background(), output)
	c.Assert(err, IsNil)
	defer second.Cleanup()

	c.Check(again.Records(), DeepEquals, idx.Records())
}
