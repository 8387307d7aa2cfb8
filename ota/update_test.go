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
	"bytes"
	"os"
	"path/filepath"
	"strings"

	. "gopkg.in/check.v1"

	"github.com/padroot/padroot/ota"
	"github.com/padroot/padroot/testutil"
)

type updateSuite struct{}

var _ = Suite(&updateSuite{})

const sampleUpdate = `ota_version=1.1.0.30

img_type=kernel
img_name=xImage
img_size=3145728
img_md5=0cc175b9c0f1b6a831c399e269772661

img_type=rootfs
img_name=rootfs.squashfs
img_size=96
img_md5=92eb5ffee6ae2fec3ad71c777531578f

`

func (s *updateSuite) TestParseWrite(c *C) {
	u, err := ota.ParseUpdate(strings.NewReader(sampleUpdate))
	c.Assert(err, IsNil)
	c.Check(u.Version, Equals, "1.1.0.30")
	c.Assert(u.Partitions, HasLen, 2)
	c.Check(u.Partition("kernel"), DeepEquals, &ota.Partition{
		Type: "kernel", Name: "xImage", Size: 3145728, MD5: "0cc175b9c0f1b6a831c399e269772661",
	})
	c.Check(u.Partition("rootfs").Size, Equals, int64(96))
	c.Check(u.Partition("data"), IsNil)

	var buf bytes.Buffer
	c.Assert(ota.WriteUpdate(&buf, u), IsNil)
	c.Check(buf.String(), Equals, sampleUpdate)
}

func (s *updateSuite) TestParseTolerant(c *C) {
	// no trailing blank line, CRLF endings and an unknown key
	in := "ota_version=2.0\r\n\r\nimg_type=rootfs\r\nimg_name=rootfs.squashfs\r\nimg_size=1\r\nimg_md5=x\r\nimg_flags=fast"
	u, err := ota.ParseUpdate(strings.NewReader(in))
	c.Assert(err, IsNil)
	c.Check(u.Version, Equals, "2.0")
	c.Check(u.Partition("rootfs").MD5, Equals, "x")
}

func (s *updateSuite) TestParseErrors(c *C) {
	for _, t := range []struct{ in, err string }{
		{"", "no ota_version found"},
		{"ota_version=1\n\nimg_type=rootfs\nimg_name=r\nimg_size=1\n", "partition ending on line 5 has no img_md5"},
		{"ota_version=1\n\nimg_type=rootfs\nimg_name=r\nimg_size=big\nimg_md5=x\n", `invalid img_size "big" on line 5`},
		{"ota_version=1\n\nimg_type=rootfs\nimg_type=kernel\n", "repeated img_type on line 4"},
		{"ota_version=1\nota_version=2\n", "unexpected ota_version on line 2"},
		{"ota_version=1\n\nnonsense\n", `invalid line 3: "nonsense"`},
		{"ota_version=1\n\nimg_type=a\nimg_name=a\nimg_size=1\nimg_md5=a\n\nimg_type=a\nimg_name=b\nimg_size=1\nimg_md5=b\n", `duplicate partition "a"`},
	} {
		_, err := ota.ParseUpdate(strings.NewReader(t.in))
		c.Check(err, ErrorMatches, t.err, Commentf("%q", t.in))
	}
}

func (s *updateSuite) TestLoadSave(c *C) {
	dir := c.MkDir()
	p := filepath.Join(dir, "ota_update.in")
	c.Assert(os.WriteFile(p, []byte(sampleUpdate), 0644), IsNil)
	u, err := ota.LoadUpdate(p)
	c.Assert(err, IsNil)

	u.Version = "6.1.0.30"
	u.Partition("rootfs").Size = 4096
	out := filepath.Join(dir, "new.in")
	c.Assert(ota.SaveUpdate(out, u), IsNil)
	c.Check(out, testutil.FileContains, "ota_version=6.1.0.30\n\nimg_type=kernel\n")
	c.Check(out, testutil.FileContains, "img_name=rootfs.squashfs\nimg_size=4096\n")

	c.Assert(os.WriteFile(p, []byte("junk"), 0644), IsNil)
	_, err = ota.LoadUpdate(p)
	c.Check(err, ErrorMatches, `cannot parse .*/ota_update.in: invalid line 1: "junk"`)
}

func (s *updateSuite) TestConfig(c *C) {
	p := filepath.Join(c.MkDir(), "ota_config.in")
	c.Assert(ota.WriteConfig(p, "6.1.0.30"), IsNil)
	c.Check(p, testutil.FileEquals, "current_version=6.1.0.30\n")

	v, err := ota.ReadConfigVersion(p)
	c.Assert(err, IsNil)
	c.Check(v, Equals, "6.1.0.30")

	c.Assert(os.WriteFile(p, []byte("# stock\nboard=NEBULA\ncurrent_version = 1.1.0.30\n"), 0644), IsNil)
	v, err = ota.ReadConfigVersion(p)
	c.Assert(err, IsNil)
	c.Check(v, Equals, "1.1.0.30")

	c.Assert(os.WriteFile(p, []byte("board=NEBULA\n"), 0644), IsNil)
	_, err = ota.ReadConfigVersion(p)
	c.Check(err, ErrorMatches, "cannot read version from .*")

	c.Assert(os.WriteFile(p, []byte("current_version=latest\n"), 0644), IsNil)
	_, err = ota.ReadConfigVersion(p)
	c.Check(err, ErrorMatches, `cannot read version from .*: invalid version "latest": .*`)
}
