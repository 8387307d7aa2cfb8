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

package squashfs

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// Entry is one line of an `unsquashfs -lln` listing.
type Entry struct {
	// Path is relative to the image root, "." being the root itself.
	Path string
	// Type is the ls(1) type character: '-', 'd', 'l', 'c', 'b', 'p'
	// or 's'.
	Type byte
	// Perm holds the permission bits, including setuid (04000), setgid
	// (02000) and sticky (01000).
	Perm  uint32
	UID   int
	GID   int
	Size  int64
	Major uint32
	Minor uint32
	// Target is the symlink target, verbatim.
	Target string
}

// the size column is replaced by "major, minor" for devices, and the
// columns are padded with a variable amount of spaces
var listingLine = regexp.MustCompile(`^([-dlcbps])([-rwxsStT]{9}) +(\d+)/(\d+) +(?:(\d+),\s*(\d+)|(\d+)) \d{4}-\d\d-\d\d \d\d:\d\d (.+)$`)

func parsePerm(s string) (uint32, error) {
	if len(s) != 9 {
		return 0, fmt.Errorf("bad mode %q", s)
	}
	var perm uint32
	bits := []uint32{0400, 0200, 0100, 040, 020, 010, 04, 02, 01}
	for i, ch := range s {
		switch {
		case ch == '-':
		case i%3 == 0 && ch == 'r', i%3 == 1 && ch == 'w', i%3 == 2 && ch == 'x':
			perm |= bits[i]
		case i == 2 && (ch == 's' || ch == 'S'):
			perm |= 04000
			if ch == 's' {
				perm |= bits[i]
			}
		case i == 5 && (ch == 's' || ch == 'S'):
			perm |= 02000
			if ch == 's' {
				perm |= bits[i]
			}
		case i == 8 && (ch == 't' || ch == 'T'):
			perm |= 01000
			if ch == 't' {
				perm |= bits[i]
			}
		default:
			return 0, fmt.Errorf("bad mode %q", s)
		}
	}
	return perm, nil
}

func cleanListingPath(p string) (string, error) {
	if p == "." {
		return ".", nil
	}
	if !strings.HasPrefix(p, "./") {
		return "", fmt.Errorf("unexpected path %q", p)
	}
	return path.Clean(p[2:]), nil
}

func parseEntry(line string) (*Entry, error) {
	m := listingLine.FindStringSubmatch(line)
	if m == nil {
		return nil, fmt.Errorf("cannot parse listing line %q", line)
	}
	perm, err := parsePerm(m[2])
	if err != nil {
		return nil, err
	}
	e := &Entry{Type: m[1][0], Perm: perm}
	if e.UID, err = strconv.Atoi(m[3]); err != nil {
		return nil, err
	}
	if e.GID, err = strconv.Atoi(m[4]); err != nil {
		return nil, err
	}

	isDevice := e.Type == 'c' || e.Type == 'b'
	switch {
	case isDevice && m[5] != "":
		major, err := strconv.ParseUint(m[5], 10, 32)
		if err != nil {
			return nil, err
		}
		minor, err := strconv.ParseUint(m[6], 10, 32)
		if err != nil {
			return nil, err
		}
		e.Major, e.Minor = uint32(major), uint32(minor)
	case !isDevice && m[7] != "":
		if e.Size, err = strconv.ParseInt(m[7], 10, 64); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("cannot parse listing line %q: size column does not match type", line)
	}

	name := m[8]
	if e.Type == 'l' {
		idx := strings.Index(name, " -> ")
		if idx < 0 {
			return nil, fmt.Errorf("cannot parse listing line %q: symlink without target", line)
		}
		name, e.Target = name[:idx], name[idx+len(" -> "):]
	}
	if e.Path, err = cleanListingPath(name); err != nil {
		return nil, err
	}
	return e, nil
}

// ParseListing parses the output of `unsquashfs -dest . -lln`. Header
// lines printed by squashfs-tools before 4.5 are skipped; any unparsable
// line after the first entry is an error.
func ParseListing(r io.Reader) ([]*Entry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var entries []*Entry
	seen := make(map[string]bool)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		e, err := parseEntry(line)
		if err != nil {
			if len(entries) == 0 {
				// header
				continue
			}
			return nil, err
		}
		if seen[e.Path] {
			return nil, fmt.Errorf("duplicate listing entry %q", e.Path)
		}
		seen[e.Path] = true
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("empty listing")
	}
	if entries[0].Path != "." || entries[0].Type != 'd' {
		return nil, fmt.Errorf("listing does not start with the root directory")
	}
	return entries, nil
}
