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
	"sort"
	"strings"

	. "gopkg.in/check.v1"

	"github.com/padroot/padroot/credential"
	"github.com/padroot/padroot/image"
	"github.com/padroot/padroot/image/imagetest"
	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/osutil"
	"github.com/padroot/padroot/ota"
	"github.com/padroot/padroot/patch"
	"github.com/padroot/padroot/pipeline"
	"github.com/padroot/padroot/testutil"
)

type bundleSuite struct {
	testutil.BaseTest

	dir     string
	stock   string
	packed  string
	scratch string
	input   string
	sevenz  *testutil.MockCmd
	tools   *imagetest.Tools

	rootfsMD5 string
}

var _ = Suite(&bundleSuite{})

const stockVersion = "1.1.0.30"

func (s *bundleSuite) SetUpTest(c *C) {
	s.BaseTest.SetUpTest(c)
	s.Setenv("PADROOT_UNSAFE_IO", "1")
	_, restore := logger.MockLogger()
	s.AddCleanup(restore)
	s.AddCleanup(image.MockGeteuid(1000))

	s.dir = c.MkDir()
	s.stock = filepath.Join(c.MkDir(), "stock")
	s.packed = filepath.Join(c.MkDir(), "packed")
	s.scratch = filepath.Join(s.dir, "work")
	s.input = filepath.Join(s.dir, ota.ImageName("NEBULA", stockVersion))
	c.Assert(os.WriteFile(s.input, []byte("7z\n"), 0644), IsNil)

	s.makeStock(c)

	s.sevenz = testutil.MockCommand(c, "7z", `
case "$1" in
x)
	cp -a "`+s.stock+`/." "${3#-o}/"
	;;
a)
	rm -rf "`+s.packed+`"
	cp -a "$9" "`+s.packed+`"
	echo 7z > "$8"
	;;
esac
`)
	s.AddCleanup(s.sevenz.Restore)
	s.tools = imagetest.MockTools(c, imagetest.Listing, imagetest.Populate)
	s.AddCleanup(s.tools.Restore)
}

func (s *bundleSuite) otaDir(version string) string {
	return filepath.Join(ota.BaseName("NEBULA", version), "ota_v"+version)
}

func (s *bundleSuite) writePayload(c *C, dir, base, content string) *ota.Partition {
	sum := md5hex([]byte(content))
	c.Assert(os.WriteFile(filepath.Join(dir, base+".0000."+sum), []byte(content), 0644), IsNil)
	c.Assert(os.WriteFile(filepath.Join(dir, "ota_md5_"+base+"."+sum), []byte(md5hex([]byte(content))+"\n"), 0644), IsNil)
	return &ota.Partition{Name: base, Size: int64(len(content)), MD5: sum}
}

func (s *bundleSuite) makeStock(c *C) {
	otaDir := filepath.Join(s.stock, s.otaDir(stockVersion))
	c.Assert(os.MkdirAll(otaDir, 0755), IsNil)

	rootfs := filepath.Join(c.MkDir(), "rootfs.squashfs")
	imagetest.WriteArchive(c, rootfs)
	payload, err := ota.SplitRootfs(context.Background(), rootfs, otaDir)
	c.Assert(err, IsNil)
	s.rootfsMD5 = payload.MD5

	kernel := s.writePayload(c, otaDir, "xImage", "kernel")
	kernel.Type = "kernel"
	zero := s.writePayload(c, otaDir, "zero.bin", "zero")
	zero.Type = "zero"
	update := &ota.Update{
		Version: stockVersion,
		Partitions: []*ota.Partition{
			kernel,
			{Type: "rootfs", Name: "rootfs.squashfs", Size: payload.Size, MD5: payload.MD5},
			zero,
		},
	}
	c.Assert(ota.SaveUpdate(filepath.Join(otaDir, "ota_update.in"), update), IsNil)
	c.Assert(os.WriteFile(filepath.Join(otaDir, "ota_v"+stockVersion+".ok"), []byte("\n"), 0644), IsNil)
	c.Assert(ota.WriteConfig(filepath.Join(s.stock, ota.BaseName("NEBULA", stockVersion), "ota_config.in"), stockVersion), IsNil)
}

func (s *bundleSuite) patchOptions(c *C) *ota.PatchOptions {
	set, err := patch.Canonical(&patch.Options{Password: patch.DefaultPassword})
	c.Assert(err, IsNil)
	return &ota.PatchOptions{Scratch: s.scratch, Patches: set}
}

func (s *bundleSuite) TestPatch(c *C) {
	var steps []string
	opts := s.patchOptions(c)
	opts.Progress = func(step string) { steps = append(steps, step) }

	b := &ota.Bundle{Path: s.input, Board: "NEBULA"}
	out, err := b.Patch(context.Background(), opts)
	c.Assert(err, IsNil)
	c.Check(out, Equals, filepath.Join(s.dir, "NEBULA_ota_img_V6.1.0.30.img"))
	c.Check(out, testutil.FileEquals, "7z\n")
	c.Check(s.scratch, testutil.FileAbsent)
	c.Check(steps, testutil.Contains, "applying set-root-credential")
	c.Check(steps, testutil.Contains, "applying update-ota-info")

	password, err := ota.Password("NEBULA")
	c.Assert(err, IsNil)
	calls := s.sevenz.Calls()
	c.Assert(calls, HasLen, 2)
	c.Check(calls[0][:3], DeepEquals, []string{"7z", "x", "-p" + password})
	c.Check(calls[0][3], Equals, "-o"+filepath.Join(s.scratch, "stock"))
	c.Check(calls[1][:5], DeepEquals, []string{"7z", "a", "-t7z", "-p" + password, "-mhe=on"})
	c.Check(calls[1][9], Equals, "NEBULA_ota_img_V6.1.0.30")

	c.Check(filepath.Join(s.packed, "ota_config.in"), testutil.FileEquals, "current_version=6.1.0.30\n")
	otaDir := filepath.Join(s.packed, "ota_v6.1.0.30")
	entries, err := os.ReadDir(otaDir)
	c.Assert(err, IsNil)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	kernelMD5, zeroMD5 := md5hex([]byte("kernel")), md5hex([]byte("zero"))
	c.Check(names, DeepEquals, []string{
		"ota_md5_rootfs.squashfs." + s.rootfsMD5,
		"ota_md5_xImage." + kernelMD5,
		"ota_md5_zero.bin." + zeroMD5,
		"ota_update.in",
		"ota_v6.1.0.30.ok",
		"rootfs.squashfs.0000." + s.rootfsMD5,
		"xImage.0000." + kernelMD5,
		"zero.bin.0000." + zeroMD5,
	})
	c.Check(filepath.Join(otaDir, "ota_v6.1.0.30.ok"), testutil.FileEquals, "\n")
	c.Check(filepath.Join(otaDir, "ota_update.in"), testutil.FileEquals, `ota_version=6.1.0.30

img_type=kernel
img_name=xImage
img_size=6
img_md5=`+kernelMD5+`

img_type=rootfs
img_name=rootfs.squashfs
img_size=96
img_md5=`+s.rootfsMD5+`

img_type=zero
img_name=zero.bin
img_size=4
img_md5=`+zeroMD5+`

`)

	data, err := os.ReadFile(filepath.Join(s.tools.Built, "etc/shadow"))
	c.Assert(err, IsNil)
	c.Check(credential.Verify(strings.Split(string(data), ":")[1], "creality"), Equals, true)
}

func (s *bundleSuite) TestPatchUpdatesOTAInfo(c *C) {
	listing := imagetest.Listing + "-rw-r--r-- 0/0                  60 2023-03-01 10:00 ./etc/ota_info\n"
	populate := strings.Replace(imagetest.Populate, "chmod 0700", `printf 'ota_board_name=NEBULA\nota_version=1.1.0.30\nota_compile_time=2023 03.01 10:00:00\n' > "$dest/etc/ota_info"
chmod 0700`, 1)
	tools := imagetest.MockTools(c, listing, populate)
	s.AddCleanup(tools.Restore)

	_, err := (&ota.Bundle{Path: s.input, Board: "NEBULA"}).Patch(context.Background(), s.patchOptions(c))
	c.Assert(err, IsNil)
	c.Check(filepath.Join(tools.Built, "etc/ota_info"), testutil.FileEquals,
		"ota_board_name=NEBULA\nota_version=6.1.0.30\nota_compile_time=2023 03.01 10:00:00\n")
	c.Check(tools.Pseudo, testutil.FileContains, "/etc/ota_info m 0644 0 0\n")
}

func (s *bundleSuite) TestPatchExplicitVersionAndOutput(c *C) {
	opts := s.patchOptions(c)
	opts.Version = stockVersion
	opts.Prefix = "9"
	opts.Output = filepath.Join(s.dir, "custom.img")

	out, err := (&ota.Bundle{Path: s.input}).Patch(context.Background(), opts)
	c.Assert(err, IsNil)
	c.Check(out, Equals, opts.Output)
	c.Check(filepath.Join(s.packed, "ota_config.in"), testutil.FileEquals, "current_version=9.1.0.30\n")
}

func (s *bundleSuite) TestPatchRefusesExistingOutput(c *C) {
	existing := filepath.Join(s.dir, "NEBULA_ota_img_V6.1.0.30.img")
	c.Assert(os.WriteFile(existing, []byte("old"), 0644), IsNil)

	_, err := (&ota.Bundle{Path: s.input}).Patch(context.Background(), s.patchOptions(c))
	c.Check(err, ErrorMatches, `cannot write ".*/NEBULA_ota_img_V6.1.0.30.img": file exists`)
	c.Check(existing, testutil.FileEquals, "old")
	c.Check(s.scratch, testutil.FileAbsent)

	opts := s.patchOptions(c)
	opts.Force = true
	_, err = (&ota.Bundle{Path: s.input}).Patch(context.Background(), opts)
	c.Assert(err, IsNil)
	c.Check(existing, testutil.FileEquals, "7z\n")
}

func (s *bundleSuite) TestPatchWrongVersion(c *C) {
	opts := s.patchOptions(c)
	opts.Version = "1.1.0.31"
	_, err := (&ota.Bundle{Path: s.input}).Patch(context.Background(), opts)
	c.Check(err, ErrorMatches, "cannot find ota_v1.1.0.31 in .*")
	c.Check(s.scratch, testutil.FileAbsent)

	opts.Prefix = "1"
	opts.Version = stockVersion
	_, err = (&ota.Bundle{Path: s.input}).Patch(context.Background(), opts)
	c.Check(err, ErrorMatches, "patched version 1.1.0.30 must differ from the stock one")
}

func (s *bundleSuite) TestPatchChecksumMismatch(c *C) {
	p := filepath.Join(s.stock, s.otaDir(stockVersion), "ota_update.in")
	u, err := ota.LoadUpdate(p)
	c.Assert(err, IsNil)
	u.Partition("rootfs").MD5 = md5hex([]byte("other"))
	c.Assert(ota.SaveUpdate(p, u), IsNil)

	_, err = (&ota.Bundle{Path: s.input}).Patch(context.Background(), s.patchOptions(c))
	c.Check(err, ErrorMatches, "assembled rootfs.squashfs does not match ota_update.in")
	c.Check(s.tools.Unsquashfs.Calls(), HasLen, 0)
	c.Check(s.scratch, testutil.FileAbsent)
}

func (s *bundleSuite) TestPatchLayoutFailure(c *C) {
	s.tools.Restore()
	s.tools = imagetest.MockTools(c, without(imagetest.Listing, "K50dropbear"), without(imagetest.Populate, "K50dropbear"))
	s.AddCleanup(s.tools.Restore)

	_, err := (&ota.Bundle{Path: s.input}).Patch(context.Background(), s.patchOptions(c))
	var serr *pipeline.StageError
	c.Assert(errors.As(err, &serr), Equals, true)
	c.Check(serr.Stage, Equals, pipeline.Patching)
	c.Check(patch.IsUnrecognizedLayout(err), Equals, true)
	c.Check(s.sevenz.Calls(), HasLen, 1)
	c.Check(s.scratch, testutil.FileAbsent)
	c.Check(filepath.Join(s.dir, "NEBULA_ota_img_V6.1.0.30.img"), testutil.FileAbsent)
}

func (s *bundleSuite) TestPatchScratchInUse(c *C) {
	c.Assert(os.MkdirAll(s.scratch, 0755), IsNil)
	c.Assert(os.WriteFile(filepath.Join(s.scratch, "x"), nil, 0644), IsNil)
	_, err := (&ota.Bundle{Path: s.input}).Patch(context.Background(), s.patchOptions(c))
	c.Check(image.IsScratchNotEmpty(err), Equals, true)
	c.Check(s.sevenz.Calls(), HasLen, 0)
	c.Check(filepath.Join(s.scratch, "x"), testutil.FilePresent)
}

func (s *bundleSuite) TestPatchScratchLocked(c *C) {
	c.Assert(os.MkdirAll(s.scratch, 0755), IsNil)
	lock, err := osutil.OpenDirLock(s.scratch)
	c.Assert(err, IsNil)
	defer lock.Close()
	c.Assert(lock.TryLock(), IsNil)

	_, err = (&ota.Bundle{Path: s.input}).Patch(context.Background(), s.patchOptions(c))
	c.Check(image.IsScratchNotEmpty(err), Equals, true)
	c.Check(err, ErrorMatches, `scratch directory ".*" is in use by another run`)
	c.Check(s.sevenz.Calls(), HasLen, 0)

	// released once the other run is done
	c.Assert(lock.Unlock(), IsNil)
	_, err = (&ota.Bundle{Path: s.input}).Patch(context.Background(), s.patchOptions(c))
	c.Check(err, IsNil)
}

// without drops the lines containing substr.
func without(text, substr string) string {
	var kept []string
	for _, l := range strings.SplitAfter(text, "\n") {
		if !strings.Contains(l, substr) {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "")
}
