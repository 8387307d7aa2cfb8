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
package metadata

import (
	"os"
)

func MockLchown(f func(name string, uid, gid int) error) (restore func()) {
	old := lchown
	lchown = f
	return func() { lchown = old }
}

func MockChmod(f func(name string, mode os.FileMode) error) (restore func()) {
	old := chmod
	chmod = f
	return func() { chmod = old }
}

func MockMknod(f func(path string, mode uint32, dev int) error) (restore func()) {
	old := mknod
	mknod = f
	return func() { mknod = old }
}
