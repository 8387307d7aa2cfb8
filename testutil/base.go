// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2016 Canonical Ltd
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

package testutil

import (
	"os"
	"path/filepath"

	"gopkg.in/check.v1"
)

// BaseTest is a structure used as a base test suite for many of the
// padroot tests.
type BaseTest struct {
	cleanupHandlers []func()
}

// SetUpTest prepares the cleanup
func (s *BaseTest) SetUpTest(c *check.C) {
	s.cleanupHandlers = nil
}

// TearDownTest runs the cleanup handlers
func (s *BaseTest) TearDownTest(c *check.C) {
	// run cleanup handlers in reverse order
	for i := len(s.cleanupHandlers) - 1; i >= 0; i-- {
		s.cleanupHandlers[i]()
	}
	s.cleanupHandlers = nil
}

// AddCleanup adds a new cleanup function to the test
func (s *BaseTest) AddCleanup(f func()) {
	s.cleanupHandlers = append(s.cleanupHandlers, f)
}

// Setenv sets an environment variable for the duration of the test.
func (s *BaseTest) Setenv(key, value string) {
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	s.AddCleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

// MakeTree populates root with the given files. Keys ending in "/" are
// created as directories, keys with a "->" value prefix as symlinks and
// everything else as regular files with mode 0644.
func MakeTree(c *check.C, root string, files map[string]string) {
	for name, content := range files {
		p := filepath.Join(root, name)
		if name[len(name)-1] == '/' {
			c.Assert(os.MkdirAll(p, 0755), check.IsNil)
			continue
		}
		c.Assert(os.MkdirAll(filepath.Dir(p), 0755), check.IsNil)
		if len(content) > 3 && content[:3] == "-> " {
			c.Assert(os.Symlink(content[3:], p), check.IsNil)
			continue
		}
		c.Assert(os.WriteFile(p, []byte(content), 0644), check.IsNil)
	}
}
