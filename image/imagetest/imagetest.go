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
// Package imagetest provides fake squashfs firmware and tools for tests.
package imagetest

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"gopkg.in/check.v1"

	"github.com/padroot/padroot/squashfs"
	"github.com/padroot/padroot/testutil"
)

// Superblock returns a squashfs 4.0 superblock with the given
// compression id and block size.
func Superblock(comp uint16, blockSize uint32) []byte {
	sb := make([]byte, 96)
	copy(sb, squashfs.Magic)
	binary.LittleEndian.PutUint32(sb[4:], 8)
	binary.LittleEndian.PutUint32(sb[8:], 1700000000)
	binary.LittleEndian.PutUint32(sb[12:], blockSize)
	binary.LittleEndian.PutUint16(sb[20:], comp)
	binary.LittleEndian.PutUint16(sb[28:], 4)
	binary.LittleEndian.PutUint64(sb[40:], 4096)
	return sb
}

// WriteArchive writes an xz compressed fake archive to path.
func WriteArchive(c *check.C, path string) {
	c.Assert(os.MkdirAll(filepath.Dir(path), 0755), check.IsNil)
	c.Assert(os.WriteFile(path, Superblock(4, 131072), 0644), check.IsNil)
}

// Listing is the numeric long listing of the tree created by Populate.
const Listing = `drwxr-xr-x 0/0                  55 2023-03-01 10:00 .
drwxr-xr-x 0/0                  27 2023-03-01 10:00 ./bin
-rwsr-xr-x 0/0                   3 2023-03-01 10:00 ./bin/busybox
lrwxrwxrwx 0/0                   7 2023-03-01 10:00 ./bin/sh -> busybox
lrwxrwxrwx 0/0                   7 2023-03-01 10:00 ./bin/ash -> busybox
drwxr-xr-x 0/0                  45 2023-03-01 10:00 ./dev
crw-rw-rw- 0/0               1,  3 2023-03-01 10:00 ./dev/null
drwxr-xr-x 0/0                  45 2023-03-01 10:00 ./etc
drwxr-xr-x 0/0                  45 2023-03-01 10:00 ./etc/init.d
-rw-r--r-- 0/0                  10 2023-03-01 10:00 ./etc/init.d/K50dropbear
-rw-r--r-- 0/0                  29 2023-03-01 10:00 ./etc/passwd
-rw-r----- 0/42                 24 2023-03-01 10:00 ./etc/shadow
drwx------ 0/0                   3 2023-03-01 10:00 ./root
drwxrwxrwt 0/0                   3 2023-03-01 10:00 ./tmp
`

// Populate is a shell fragment creating the tree of Listing in "$dest",
// the way an unprivileged unsquashfs would.
const Populate = `mkdir -p "$dest/bin" "$dest/dev" "$dest/etc/init.d" "$dest/root" "$dest/tmp"
printf 'elf' > "$dest/bin/busybox"
chmod 4755 "$dest/bin/busybox"
ln -s busybox "$dest/bin/sh"
ln -s busybox "$dest/bin/ash"
printf '#!/bin/sh\n' > "$dest/etc/init.d/K50dropbear"
printf 'root::0:0:root:/root:/bin/sh\n' > "$dest/etc/passwd"
printf 'root::19000:0:99999:7:::\n' > "$dest/etc/shadow"
chmod 0640 "$dest/etc/shadow"
chmod 0700 "$dest/root"
chmod 1777 "$dest/tmp"
echo "create_inode: could not create character device $dest/dev/null, because you're not superuser!" >&2
exit 2
`

// Tools are fake unsquashfs and mksquashfs commands.
type Tools struct {
	Unsquashfs *testutil.MockCmd
	Mksquashfs *testutil.MockCmd

	// Built receives a copy of the last tree given to mksquashfs.
	Built string
	// Pseudo receives a copy of the last pseudo file.
	Pseudo string
}

// MockTools installs fake squashfs tools. unsquashfs prints listing for
// -lln and otherwise runs populate with $dest set to the destination;
// mksquashfs keeps a copy of its input and writes a fake image.
func MockTools(c *check.C, listing, populate string) *Tools {
	dir := c.MkDir()
	fixture := filepath.Join(dir, "built.squashfs")
	c.Assert(os.WriteFile(fixture, Superblock(4, 131072), 0644), check.IsNil)
	t := &Tools{
		Built:  filepath.Join(dir, "built"),
		Pseudo: filepath.Join(dir, "pseudo"),
	}

	t.Unsquashfs = testutil.MockCommand(c, "unsquashfs", `
case "$*" in
*-lln*)
	cat <<'LISTING'
`+listing+`LISTING
	exit 0
	;;
esac
dest="$4"
`+populate)

	t.Mksquashfs = testutil.MockCommand(c, "mksquashfs", `
src="$1"
out="$2"
rm -rf "`+t.Built+`"
cp -a "$src" "`+t.Built+`"
while [ $# -gt 0 ]; do
	if [ "$1" = "-pf" ]; then
		cp "$2" "`+t.Pseudo+`"
	fi
	shift
done
cp "`+fixture+`" "$out"
`)
	return t
}

// Restore removes the fake tools.
func (t *Tools) Restore() {
	t.Unsquashfs.Restore()
	t.Mksquashfs.Restore()
}
