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
package ota

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/osutil"
)

// Partition describes the payload of one partition in ota_update.in.
type Partition struct {
	Type string
	Name string
	// Size and MD5 are those of the whole payload, before splitting.
	Size int64
	MD5  string
}

// Update is the content of ota_update.in.
type Update struct {
	Version    string
	Partitions []*Partition
}

// Partition returns the partition of the given type, or nil.
func (u *Update) Partition(typ string) *Partition {
	for _, p := range u.Partitions {
		if p.Type == typ {
			return p
		}
	}
	return nil
}

// ParseUpdate reads an ota_update.in file. It starts with an
// ota_version line, followed by one block of img_ keys per partition,
// blocks being separated by blank lines.
func ParseUpdate(r io.Reader) (*Update, error) {
	u := &Update{}
	var cur *Partition
	var seen map[string]bool
	finish := func(lineno int) error {
		if cur == nil {
			return nil
		}
		for _, k := range []string{"type", "name", "size", "md5"} {
			if !seen[k] {
				return fmt.Errorf("partition ending on line %d has no img_%s", lineno, k)
			}
		}
		if u.Partition(cur.Type) != nil {
			return fmt.Errorf("duplicate partition %q", cur.Type)
		}
		u.Partitions = append(u.Partitions, cur)
		cur = nil
		return nil
	}

	sc := bufio.NewScanner(r)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			if err := finish(lineno); err != nil {
				return nil, err
			}
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid line %d: %q", lineno, line)
		}
		if key == "ota_version" {
			if cur != nil || u.Version != "" {
				return nil, fmt.Errorf("unexpected ota_version on line %d", lineno)
			}
			u.Version = value
			continue
		}
		if !strings.HasPrefix(key, "img_") {
			logger.Debugf("ignoring unknown ota_update.in key %q", key)
			continue
		}
		if cur == nil {
			cur = &Partition{}
			seen = make(map[string]bool)
		}
		k := strings.TrimPrefix(key, "img_")
		if seen[k] {
			return nil, fmt.Errorf("repeated %s on line %d", key, lineno)
		}
		seen[k] = true
		switch k {
		case "type":
			cur.Type = value
		case "name":
			cur.Name = value
		case "size":
			size, err := strconv.ParseInt(value, 10, 64)
			if err != nil || size < 0 {
				return nil, fmt.Errorf("invalid img_size %q on line %d", value, lineno)
			}
			cur.Size = size
		case "md5":
			cur.MD5 = value
		default:
			logger.Debugf("ignoring unknown ota_update.in key %q", key)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if err := finish(lineno); err != nil {
		return nil, err
	}
	if u.Version == "" {
		return nil, fmt.Errorf("no ota_version found")
	}
	return u, nil
}

// WriteUpdate writes u in the ota_update.in format.
func WriteUpdate(w io.Writer, u *Update) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ota_version=%s\n\n", u.Version)
	for _, p := range u.Partitions {
		fmt.Fprintf(bw, "img_type=%s\nimg_name=%s\nimg_size=%d\nimg_md5=%s\n\n", p.Type, p.Name, p.Size, p.MD5)
	}
	return bw.Flush()
}

// LoadUpdate reads the ota_update.in file at path.
func LoadUpdate(path string) (*Update, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	u, err := ParseUpdate(f)
	if err != nil {
		return nil, fmt.Errorf("cannot parse %s: %v", path, err)
	}
	return u, nil
}

// SaveUpdate writes u to path.
func SaveUpdate(path string, u *Update) error {
	var buf bytes.Buffer
	if err := WriteUpdate(&buf, u); err != nil {
		return err
	}
	return osutil.AtomicWriteFile(path, buf.Bytes(), 0644)
}
