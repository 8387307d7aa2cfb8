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
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/padroot/padroot/osutil"
	"github.com/padroot/padroot/squashfs"
)

// Index holds one Record per path of a tree.
type Index struct {
	records map[string]*Record
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{records: make(map[string]*Record)}
}

// Add adds or replaces the record for its path. The path is cleaned and
// the parent directory must already be recorded.
func (idx *Index) Add(r *Record) error {
	p, err := CleanPath(r.Path)
	if err != nil {
		return err
	}
	rec := *r
	rec.Path = p
	if err := rec.validate(); err != nil {
		return err
	}
	if p == "." && rec.Type != Directory {
		return fmt.Errorf("tree root must be a directory, not %s", rec.Type)
	}
	if p != "." {
		parent := idx.records[path.Dir(p)]
		if parent == nil {
			return fmt.Errorf("cannot record %q: parent directory not recorded", p)
		}
		if parent.Type != Directory {
			return fmt.Errorf("cannot record %q: parent is a %s", p, parent.Type)
		}
	}
	if old := idx.records[p]; old != nil && old.Type == Directory && rec.Type != Directory && idx.hasChildren(p) {
		return fmt.Errorf("cannot replace non-empty directory %q with a %s", p, rec.Type)
	}
	idx.records[p] = &rec
	return nil
}

func (idx *Index) hasChildren(p string) bool {
	prefix := p + "/"
	if p == "." {
		return len(idx.records) > 1
	}
	for k := range idx.records {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// Get returns the record for the given path, or nil. The returned record
// is owned by the index and may be modified in place, except for its
// Path.
func (idx *Index) Get(p string) *Record {
	p, err := CleanPath(p)
	if err != nil {
		return nil
	}
	return idx.records[p]
}

// Remove drops the record of the given path and of everything below it.
func (idx *Index) Remove(p string) error {
	p, err := CleanPath(p)
	if err != nil {
		return err
	}
	if p == "." {
		return fmt.Errorf("cannot remove the tree root")
	}
	if idx.records[p] == nil {
		return fmt.Errorf("cannot remove %q: not recorded", p)
	}
	prefix := p + "/"
	for k := range idx.records {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(idx.records, k)
		}
	}
	return nil
}

// Rename moves the record of oldPath, and of everything below it, to
// newPath. An existing record at newPath is replaced.
func (idx *Index) Rename(oldPath, newPath string) error {
	oldPath, err := CleanPath(oldPath)
	if err != nil {
		return err
	}
	newPath, err = CleanPath(newPath)
	if err != nil {
		return err
	}
	if oldPath == "." || newPath == "." {
		return fmt.Errorf("cannot rename the tree root")
	}
	if idx.records[oldPath] == nil {
		return fmt.Errorf("cannot rename %q: not recorded", oldPath)
	}
	if oldPath == newPath {
		return nil
	}
	if strings.HasPrefix(newPath, oldPath+"/") {
		return fmt.Errorf("cannot rename %q into itself", oldPath)
	}
	parent := idx.records[path.Dir(newPath)]
	if parent == nil || parent.Type != Directory {
		return fmt.Errorf("cannot rename %q to %q: parent directory not recorded", oldPath, newPath)
	}

	if idx.records[newPath] != nil {
		idx.Remove(newPath)
	}
	oldPrefix := oldPath + "/"
	moved := make(map[string]*Record)
	for k, r := range idx.records {
		switch {
		case k == oldPath:
			moved[newPath] = r
		case strings.HasPrefix(k, oldPrefix):
			moved[newPath+"/"+k[len(oldPrefix):]] = r
		default:
			continue
		}
		delete(idx.records, k)
	}
	for k, r := range moved {
		r.Path = k
		idx.records[k] = r
	}
	return nil
}

// Len returns the number of records.
func (idx *Index) Len() int {
	return len(idx.records)
}

// Paths returns the recorded paths, sorted.
func (idx *Index) Paths() []string {
	paths := make([]string, 0, len(idx.records))
	for p := range idx.records {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Records returns copies of all records sorted by path.
func (idx *Index) Records() []Record {
	recs := make([]Record, 0, len(idx.records))
	for _, p := range idx.Paths() {
		recs = append(recs, *idx.records[p])
	}
	return recs
}

// FromListing builds an index from the listing of a squashfs image.
func FromListing(entries []*squashfs.Entry) (*Index, error) {
	idx := NewIndex()
	for _, e := range entries {
		r := &Record{
			Path:   e.Path,
			Mode:   Mode(e.Perm),
			UID:    e.UID,
			GID:    e.GID,
			Target: e.Target,
			Major:  e.Major,
			Minor:  e.Minor,
		}
		switch e.Type {
		case '-':
			r.Type = Regular
		case 'd':
			r.Type = Directory
		case 'l':
			r.Type = Symlink
			// symlink permissions are meaningless
			r.Mode = 0777
		case 'c':
			r.Type = CharDevice
		case 'b':
			r.Type = BlockDevice
		case 'p':
			r.Type = Fifo
		case 's':
			r.Type = Socket
		default:
			return nil, fmt.Errorf("unknown file type %q for %q", e.Type, e.Path)
		}
		if idx.records[r.Path] != nil {
			return nil, fmt.Errorf("duplicate entry %q", r.Path)
		}
		if err := idx.Add(r); err != nil {
			return nil, err
		}
	}
	if idx.records["."] == nil {
		return nil, fmt.Errorf("listing has no root directory")
	}
	return idx, nil
}

const indexFormat = 1

type indexDocument struct {
	Format  int      `yaml:"format"`
	Records []Record `yaml:"records"`
}

// Save persists the index as YAML at the given path.
func (idx *Index) Save(p string) error {
	data, err := yaml.Marshal(&indexDocument{Format: indexFormat, Records: idx.Records()})
	if err != nil {
		return fmt.Errorf("cannot marshal metadata index: %v", err)
	}
	return osutil.AtomicWriteFile(p, data, 0600)
}

// Load reads an index persisted with Save.
func Load(p string) (*Index, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var doc indexDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("cannot parse metadata index %q: %v", p, err)
	}
	if doc.Format != indexFormat {
		return nil, fmt.Errorf("cannot parse metadata index %q: unsupported format %d", p, doc.Format)
	}
	// parents sort before their children
	sort.SliceStable(doc.Records, func(i, j int) bool {
		return depth(doc.Records[i].Path) < depth(doc.Records[j].Path)
	})
	idx := NewIndex()
	for i := range doc.Records {
		if err := idx.Add(&doc.Records[i]); err != nil {
			return nil, fmt.Errorf("cannot parse metadata index %q: %v", p, err)
		}
	}
	return idx, nil
}
