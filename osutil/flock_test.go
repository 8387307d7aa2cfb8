// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2017-2025 Canonical Ltd
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
	"os"
	"path/filepath"

	. "gopkg.in/check.v1"

	"github.com/padroot/padroot/osutil"
)

type flockSuite struct{}

var _ = Suite(&flockSuite{})

func (s *flockSuite) TestOpenDirLock(c *C) {
	dir := c.MkDir()

	lock, err := osutil.OpenDirLock(dir)
	c.Assert(err, IsNil)
	defer lock.Close()

	c.Check(lock.Path(), Equals, dir)
	c.Check(lock.TryLock(), IsNil)
	c.Check(lock.Unlock(), IsNil)
}

func (s *flockSuite) TestTryLockContended(c *C) {
	dir := c.MkDir()

	lock1, err := osutil.OpenDirLock(dir)
	c.Assert(err, IsNil)
	defer lock1.Close()
	c.Assert(lock1.TryLock(), IsNil)

	// flock locks belong to the open file description, so a second open
	// in the same process is enough to see the contention
	lock2, err := osutil.OpenDirLock(dir)
	c.Assert(err, IsNil)
	defer lock2.Close()
	c.Check(lock2.TryLock(), Equals, osutil.ErrAlreadyLocked)

	c.Assert(lock1.Unlock(), IsNil)
	c.Check(lock2.TryLock(), IsNil)
}

func (s *flockSuite) TestOpenDirLockNotDir(c *C) {
	p := filepath.Join(c.MkDir(), "file")
	c.Assert(os.WriteFile(p, nil, 0600), IsNil)

	_, err := osutil.OpenDirLock(p)
	c.Check(err, ErrorMatches, ".*not a directory")
}
