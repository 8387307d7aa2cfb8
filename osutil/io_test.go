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

package osutil_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/check.v1"

	"github.com/padroot/padroot/osutil"
)

type AtomicWriteTestSuite struct{}

var _ = check.Suite(&AtomicWriteTestSuite{})

func (ts *AtomicWriteTestSuite) TestAtomicWriteFile(c *check.C) {
	tmpdir := c.MkDir()

	p := filepath.Join(tmpdir, "foo")
	err := osutil.AtomicWriteFile(p, []byte("canary"), 0644)
	c.Assert(err, check.IsNil)

	content, err := os.ReadFile(p)
	c.Assert(err, check.IsNil)
	c.Check(string(content), check.Equals, "canary")

	st, err := os.Stat(p)
	c.Assert(err, check.IsNil)
	c.Check(st.Mode().Perm(), check.Equals, os.FileMode(0644))

	// no temporary files left behind
	entries, err := os.ReadDir(tmpdir)
	c.Assert(err, check.IsNil)
	c.Check(entries, check.HasLen, 1)
}

func (ts *AtomicWriteTestSuite) TestAtomicWriteFilePermissionsIgnoreUmask(c *check.C) {
	tmpdir := c.MkDir()

	p := filepath.Join(tmpdir, "shadow")
	err := osutil.AtomicWriteFile(p, []byte("root:*:1::::::\n"), 0640)
	c.Assert(err, check.IsNil)

	st, err := os.Stat(p)
	c.Assert(err, check.IsNil)
	c.Check(st.Mode().Perm(), check.Equals, os.FileMode(0640))
}

func (ts *AtomicWriteTestSuite) TestAtomicWriteFileOverwrite(c *check.C) {
	tmpdir := c.MkDir()
	p := filepath.Join(tmpdir, "foo")
	c.Assert(os.WriteFile(p, []byte("hello"), 0644), check.IsNil)
	c.Assert(osutil.AtomicWriteFile(p, []byte("hi"), 0600), check.IsNil)

	content, err := os.ReadFile(p)
	c.Assert(err, check.IsNil)
	c.Check(string(content), check.Equals, "hi")
}

func (ts *AtomicWriteTestSuite) TestAtomicWriteFileReplacesSymlink(c *check.C) {
	tmpdir := c.MkDir()
	// an absolute symlink inside a firmware tree points at the host
	outside := filepath.Join(tmpdir, "outside")
	c.Assert(os.WriteFile(outside, []byte("host"), 0644), check.IsNil)

	p := filepath.Join(tmpdir, "link")
	c.Assert(os.Symlink(outside, p), check.IsNil)

	c.Assert(osutil.AtomicWriteFile(p, []byte("tree"), 0644), check.IsNil)

	st, err := os.Lstat(p)
	c.Assert(err, check.IsNil)
	c.Check(st.Mode().IsRegular(), check.Equals, true)

	content, err := os.ReadFile(outside)
	c.Assert(err, check.IsNil)
	c.Check(string(content), check.Equals, "host")
}

func (ts *AtomicWriteTestSuite) TestAtomicWriteCancel(c *check.C) {
	tmpdir := c.MkDir()
	p := filepath.Join(tmpdir, "foo")

	aw, err := osutil.NewAtomicFile(p, 0644, -1, -1)
	c.Assert(err, check.IsNil)
	_, err = aw.Write([]byte("partial"))
	c.Assert(err, check.IsNil)
	c.Assert(aw.Cancel(), check.IsNil)

	entries, err := os.ReadDir(tmpdir)
	c.Assert(err, check.IsNil)
	c.Check(entries, check.HasLen, 0)
}

func (ts *AtomicWriteTestSuite) TestAtomicWriteCannotCancelAfterFinalize(c *check.C) {
	p := filepath.Join(c.MkDir(), "foo")

	aw, err := osutil.NewAtomicFile(p, 0644, -1, -1)
	c.Assert(err, check.IsNil)
	c.Assert(aw.Finalize(), check.IsNil)
	c.Check(aw.Cancel(), check.Equals, osutil.ErrCannotCancel)
}

func (ts *AtomicWriteTestSuite) TestAtomicFileChownNeedsBoth(c *check.C) {
	p := filepath.Join(c.MkDir(), "foo")
	_, err := osutil.NewAtomicFile(p, 0644, 0, -1)
	c.Check(err, check.ErrorMatches, "internal error: AtomicFile needs none or both of uid and gid set")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }

func (ts *AtomicWriteTestSuite) TestAtomicWriteReaderErrorCleansUp(c *check.C) {
	tmpdir := c.MkDir()
	p := filepath.Join(tmpdir, "foo")

	err := osutil.AtomicWrite(p, failingReader{}, 0644)
	c.Check(err, check.ErrorMatches, "read failed")

	entries, err := os.ReadDir(tmpdir)
	c.Assert(err, check.IsNil)
	for _, e := range entries {
		c.Check(strings.HasPrefix(e.Name(), "foo."), check.Equals, false)
	}
	c.Check(entries, check.HasLen, 0)
}
