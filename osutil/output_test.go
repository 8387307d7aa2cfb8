// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2016-2025 Canonical Ltd
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

package osutil_test

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"

	. "gopkg.in/check.v1"

	"github.com/padroot/padroot/osutil"
)

type outputSuite struct{}

var _ = Suite(&outputSuite{})

func (s *outputSuite) TestOutputErr(c *C) {
	orig := errors.New("exit status 1")
	c.Check(osutil.OutputErr(nil, orig), Equals, orig)
	c.Check(osutil.OutputErr([]byte("  \n"), orig), Equals, orig)
	c.Check(osutil.OutputErr([]byte("boom\n"), orig), ErrorMatches, "boom")
	c.Check(osutil.OutputErr([]byte("a\nb"), orig), ErrorMatches, "\n-----\na\nb\n-----")
}

func (s *outputSuite) TestExitCode(c *C) {
	err := exec.Command("/bin/sh", "-c", "exit 7").Run()
	code, err := osutil.ExitCode(err)
	c.Assert(err, IsNil)
	c.Check(code, Equals, 7)

	other := errors.New("not an exit error")
	_, err = osutil.ExitCode(other)
	c.Check(err, Equals, other)
}

func (s *outputSuite) TestFileExistsAndIsDirectory(c *C) {
	dir := c.MkDir()
	f := filepath.Join(dir, "f")
	c.Assert(os.WriteFile(f, nil, 0644), IsNil)
	dangling := filepath.Join(dir, "dangling")
	c.Assert(os.Symlink("/nowhere", dangling), IsNil)
	dirlink := filepath.Join(dir, "dirlink")
	c.Assert(os.Symlink(dir, dirlink), IsNil)

	c.Check(osutil.FileExists(f), Equals, true)
	c.Check(osutil.FileExists(dangling), Equals, true)
	c.Check(osutil.FileExists(filepath.Join(dir, "missing")), Equals, false)

	c.Check(osutil.IsDirectory(dir), Equals, true)
	c.Check(osutil.IsDirectory(f), Equals, false)
	c.Check(osutil.IsDirectory(dirlink), Equals, false)
}

func (s *outputSuite) TestIsDirEmpty(c *C) {
	dir := c.MkDir()

	empty, err := osutil.IsDirEmpty(dir)
	c.Assert(err, IsNil)
	c.Check(empty, Equals, true)

	empty, err = osutil.IsDirEmpty(filepath.Join(dir, "missing"))
	c.Assert(err, IsNil)
	c.Check(empty, Equals, true)

	c.Assert(os.WriteFile(filepath.Join(dir, "f"), nil, 0644), IsNil)
	empty, err = osutil.IsDirEmpty(dir)
	c.Assert(err, IsNil)
	c.Check(empty, Equals, false)
}
