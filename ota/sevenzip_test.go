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
	"errors"
	"os"
	"path/filepath"

	. "gopkg.in/check.v1"

	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/osutil"
	"github.com/padroot/padroot/ota"
	"github.com/padroot/padroot/testutil"
)

type sevenzipSuite struct {
	testutil.BaseTest
}

var _ = Suite(&sevenzipSuite{})

func (s *sevenzipSuite) SetUpTest(c *C) {
	s.BaseTest.SetUpTest(c)
	_, restore := logger.MockLogger()
	s.AddCleanup(restore)
}

func (s *sevenzipSuite) mock7z(c *C, script string) *testutil.MockCmd {
	cmd := testutil.MockCommand(c, "7z", script)
	s.AddCleanup(cmd.Restore)
	return cmd
}

func (s *sevenzipSuite) TestUnpack(c *C) {
	cmd := s.mock7z(c, "")
	dest := filepath.Join(c.MkDir(), "stock")
	c.Assert(ota.Unpack(context.Background(), "/fw/NEBULA.img", "s3cret", dest), IsNil)
	c.Check(cmd.Calls(), DeepEquals, [][]string{
		{"7z", "x", "-ps3cret", "-o" + dest, "-y", "-bso0", "-bsp0", "/fw/NEBULA.img"},
	})
	c.Check(osutil.IsDirectory(dest), Equals, true)
}

func (s *sevenzipSuite) TestUnpackWrongPassword(c *C) {
	s.mock7z(c, `echo "ERROR: /fw/NEBULA.img : Can not open encrypted archive. Wrong password?" >&2; exit 2`)
	err := ota.Unpack(context.Background(), "/fw/NEBULA.img", "nope", c.MkDir())
	c.Check(errors.Is(err, ota.ErrWrongPassword), Equals, true)
	c.Check(err, ErrorMatches, `cannot extract "/fw/NEBULA.img": wrong password`)
}

func (s *sevenzipSuite) TestUnpackFailure(c *C) {
	s.mock7z(c, "echo 'ERROR: No more files' >&2; exit 2")
	err := ota.Unpack(context.Background(), "/fw/NEBULA.img", "pw", c.MkDir())
	c.Check(err, ErrorMatches, `cannot extract "/fw/NEBULA.img": ERROR: No more files`)
}

func (s *sevenzipSuite) TestPack(c *C) {
	cmd := s.mock7z(c, `[ -d "$9" ] || exit 7; echo 7z > "$8"`)
	parent := c.MkDir()
	dir := filepath.Join(parent, "NEBULA_ota_img_V6.1.0.30")
	c.Assert(os.Mkdir(dir, 0755), IsNil)
	img := filepath.Join(c.MkDir(), "out.img")
	c.Assert(os.WriteFile(img+".partial", []byte("stale"), 0644), IsNil)

	c.Assert(ota.Pack(context.Background(), dir, img, "pw"), IsNil)
	c.Check(cmd.Calls(), DeepEquals, [][]string{
		{"7z", "a", "-t7z", "-ppw", "-mhe=on", "-y", "-bso0", "-bsp0", img + ".partial", "NEBULA_ota_img_V6.1.0.30"},
	})
	c.Check(img, testutil.FileEquals, "7z\n")
	c.Check(img+".partial", testutil.FileAbsent)
}

func (s *sevenzipSuite) TestPackFailure(c *C) {
	s.mock7z(c, `echo 7z > "$8"; echo "disk full" >&2; exit 2`)
	dir := c.MkDir()
	img := filepath.Join(c.MkDir(), "out.img")
	err := ota.Pack(context.Background(), dir, img, "pw")
	c.Check(err, ErrorMatches, `cannot create ".*/out.img": disk full`)
	c.Check(img, testutil.FileAbsent)
	c.Check(img+".partial", testutil.FileAbsent)
}
