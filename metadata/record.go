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

// Package metadata keeps the ownership, permission and file type
// information of a firmware root filesystem that the host it is unpacked
// on cannot be trusted to preserve.
package metadata

import (
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileType is the type of a filesystem object.
type FileType string

const (
	Regular     FileType = "regular"
	Directory   FileType = "dir"
	Symlink     FileType = "symlink"
	CharDevice  FileType = "char"
	BlockDevice FileType = "block"
	Fifo        FileType = "fifo"
	Socket      FileType = "socket"
)

func (t FileType) valid() bool {
	switch t {
	case Regular, Directory, Symlink, CharDevice, BlockDevice, Fifo, Socket:
		return true
	}
	return false
}

// IsSpecial is true for types that unprivileged hosts may be unable to
// create: devices, fifos and sockets.
func (t FileType) IsSpecial() bool {
	switch t {
	case CharDevice, BlockDevice, Fifo, Socket:
		return true
	}
	return false
}

// Mode holds permission bits, including setuid (04000), setgid (02000)
// and sticky (01000). It is persisted as an octal string.
type Mode uint32

const permMask = 07777

func (m Mode) String() string {
	return fmt.Sprintf("%04o", uint32(m))
}

// FileMode converts to the os.FileMode permission and special bits.
func (m Mode) FileMode() os.FileMode {
	fm := os.FileMode(m & 0777)
	if m&04000 != 0 {
		fm |= os.ModeSetuid
	}
	if m&02000 != 0 {
		fm |= os.ModeSetgid
	}
	if m&01000 != 0 {
		fm |= os.ModeSticky
	}
	return fm
}

// ModeFromFileMode extracts the permission and special bits of an
// os.FileMode.
func ModeFromFileMode(fm os.FileMode) Mode {
	m := Mode(fm.Perm())
	if fm&os.ModeSetuid != 0 {
		m |= 04000
	}
	if fm&os.ModeSetgid != 0 {
		m |= 02000
	}
	if fm&os.ModeSticky != 0 {
		m |= 01000
	}
	return m
}

func (m Mode) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

func (m *Mode) UnmarshalYAML(value *yaml.Node) error {
	v, err := strconv.ParseUint(value.Value, 8, 32)
	if err != nil || v&^permMask != 0 {
		return fmt.Errorf("invalid mode %q", value.Value)
	}
	*m = Mode(v)
	return nil
}

// Record is the metadata of one filesystem object.
type Record struct {
	// Path is relative to the tree root, "." being the root itself.
	Path string   `yaml:"path"`
	Type FileType `yaml:"type"`
	Mode Mode     `yaml:"mode"`
	UID  int      `yaml:"uid"`
	GID  int      `yaml:"gid"`
	// Target of a symlink, verbatim.
	Target string `yaml:"target,omitempty"`
	// Major and Minor device numbers.
	Major uint32 `yaml:"major,omitempty"`
	Minor uint32 `yaml:"minor,omitempty"`
}

func (r *Record) String() string {
	s := fmt.Sprintf("%s %s %s %d:%d", r.Path, r.Type, r.Mode, r.UID, r.GID)
	switch r.Type {
	case Symlink:
		s += " -> " + r.Target
	case CharDevice, BlockDevice:
		s += fmt.Sprintf(" %d,%d", r.Major, r.Minor)
	}
	return s
}

func (r *Record) validate() error {
	if !r.Type.valid() {
		return fmt.Errorf("invalid type %q for %q", r.Type, r.Path)
	}
	if r.Mode&^permMask != 0 {
		return fmt.Errorf("invalid mode %s for %q", r.Mode, r.Path)
	}
	if r.UID < 0 || r.GID < 0 {
		return fmt.Errorf("invalid owner %d:%d for %q", r.UID, r.GID, r.Path)
	}
	if r.Type == Symlink && r.Target == "" {
		return fmt.Errorf("symlink %q has no target", r.Path)
	}
	if r.Type != Symlink && r.Target != "" {
		return fmt.Errorf("%s %q cannot have a target", r.Type, r.Path)
	}
	return nil
}

// CleanPath returns the canonical form of a tree relative path. A
// leading slash is accepted and dropped; paths escaping the root are
// rejected.
func CleanPath(p string) (string, error) {
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	p = path.Clean(strings.TrimLeft(p, "/"))
	if p == "" {
		p = "."
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("path %q escapes the tree root", p)
	}
	return p, nil
}

// depth is the number of components of a clean relative path.
func depth(p string) int {
	if p == "." {
		return 0
	}
	return strings.Count(p, "/") + 1
}
