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
// Package accountdb edits colon separated account databases such as
// /etc/passwd and /etc/shadow, leaving every line it does not touch
// exactly as it was.
package accountdb

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/padroot/padroot/osutil"
)

// Kind describes the layout of a database.
type Kind struct {
	Name   string
	Fields int
}

var (
	Passwd = Kind{Name: "passwd", Fields: 7}
	Shadow = Kind{Name: "shadow", Fields: 9}
)

// Field indexes.
const (
	FieldName     = 0
	FieldPassword = 1

	PasswdUID   = 2
	PasswdGID   = 3
	PasswdGecos = 4
	PasswdHome  = 5
	PasswdShell = 6

	ShadowLastChange = 2
)

type line struct {
	raw    string
	fields []string
}

func (l *line) isEntry() bool {
	return l.fields != nil
}

// Database is an in-memory account database.
type Database struct {
	kind  Kind
	lines []*line
	// noEOL is set when the last line had no newline.
	noEOL bool
}

// Parse parses database content. Comments, blank lines and anything
// else that is not an entry are carried through unmodified.
func Parse(data []byte, kind Kind) (*Database, error) {
	db := &Database{kind: kind}
	if len(data) == 0 {
		return db, nil
	}
	db.noEOL = data[len(data)-1] != '\n'
	text := strings.TrimSuffix(string(data), "\n")
	seen := make(map[string]bool)
	for i, raw := range strings.Split(text, "\n") {
		l := &line{raw: raw}
		if raw != "" && !strings.HasPrefix(raw, "#") && strings.Contains(raw, ":") {
			l.fields = strings.Split(raw, ":")
			if len(l.fields) > kind.Fields {
				return nil, fmt.Errorf("cannot parse %s line %d: too many fields", kind.Name, i+1)
			}
			name := l.fields[FieldName]
			if name == "" {
				return nil, fmt.Errorf("cannot parse %s line %d: empty name", kind.Name, i+1)
			}
			if seen[name] {
				return nil, fmt.Errorf("cannot parse %s line %d: duplicate entry for %q", kind.Name, i+1, name)
			}
			seen[name] = true
		}
		db.lines = append(db.lines, l)
	}
	return db, nil
}

// Load reads and parses the database at path.
func Load(path string, kind Kind) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	db, err := Parse(data, kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return db, nil
}

func (db *Database) find(name string) *line {
	for _, l := range db.lines {
		if l.isEntry() && l.fields[FieldName] == name {
			return l
		}
	}
	return nil
}

// Names returns the entry names in file order.
func (db *Database) Names() []string {
	var names []string
	for _, l := range db.lines {
		if l.isEntry() {
			names = append(names, l.fields[FieldName])
		}
	}
	return names
}

// Lookup returns a copy of the fields of the named entry, padded to the
// number of fields of the database kind.
func (db *Database) Lookup(name string) ([]string, bool) {
	l := db.find(name)
	if l == nil {
		return nil, false
	}
	fields := make([]string, db.kind.Fields)
	copy(fields, l.fields)
	return fields, true
}

// Field returns one field of the named entry.
func (db *Database) Field(name string, field int) (string, error) {
	fields, ok := db.Lookup(name)
	if !ok {
		return "", fmt.Errorf("no %s entry for %q", db.kind.Name, name)
	}
	if field < 0 || field >= len(fields) {
		return "", fmt.Errorf("internal error: %s has no field %d", db.kind.Name, field)
	}
	return fields[field], nil
}

// Set replaces one field of the named entry. Only that line of the
// database changes.
func (db *Database) Set(name string, field int, value string) error {
	l := db.find(name)
	if l == nil {
		return fmt.Errorf("no %s entry for %q", db.kind.Name, name)
	}
	if field <= FieldName || field >= db.kind.Fields {
		return fmt.Errorf("internal error: cannot set field %d of %s", field, db.kind.Name)
	}
	if strings.ContainsAny(value, ":\n") {
		return fmt.Errorf("invalid %s field value %q", db.kind.Name, value)
	}
	if field < len(l.fields) && l.fields[field] == value {
		return nil
	}
	for len(l.fields) <= field {
		l.fields = append(l.fields, "")
	}
	l.fields[field] = value
	l.raw = strings.Join(l.fields, ":")
	return nil
}

// Bytes renders the database.
func (db *Database) Bytes() []byte {
	var buf bytes.Buffer
	for i, l := range db.lines {
		buf.WriteString(l.raw)
		if i < len(db.lines)-1 || !db.noEOL {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes()
}

// Save writes the database atomically to path, keeping the permissions
// of an existing file.
func (db *Database) Save(path string, defaultPerm os.FileMode) error {
	perm := defaultPerm
	if fi, err := os.Stat(path); err == nil {
		perm = fi.Mode().Perm()
	}
	return osutil.AtomicWriteFile(path, db.Bytes(), perm)
}

// PasswdEntry is a decoded passwd line.
type PasswdEntry struct {
	Name  string
	UID   int
	GID   int
	Home  string
	Shell string
}

// PasswdEntry decodes the named entry of a passwd database.
func (db *Database) PasswdEntry(name string) (*PasswdEntry, error) {
	if db.kind != Passwd {
		return nil, fmt.Errorf("internal error: %s is not a passwd database", db.kind.Name)
	}
	fields, ok := db.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("no passwd entry for %q", name)
	}
	uid, err := strconv.Atoi(fields[PasswdUID])
	if err != nil {
		return nil, fmt.Errorf("invalid uid %q for %q", fields[PasswdUID], name)
	}
	gid, err := strconv.Atoi(fields[PasswdGID])
	if err != nil {
		return nil, fmt.Errorf("invalid gid %q for %q", fields[PasswdGID], name)
	}
	return &PasswdEntry{
		Name:  name,
		UID:   uid,
		GID:   gid,
		Home:  fields[PasswdHome],
		Shell: fields[PasswdShell],
	}, nil
}
