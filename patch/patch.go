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
// Package patch implements the modifications applied to an extracted
// firmware root filesystem.
package patch

import (
	"errors"
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/padroot/padroot/image"
	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/metadata"
)

// Patch is a named, idempotent modification of a root tree. Applying a
// patch twice leaves the tree as applying it once does.
type Patch interface {
	Name() string
	// Manifest describes what the tree must contain for the patch to
	// apply.
	Manifest() Manifest
	// Apply modifies the tree, recording every created, renamed or
	// re-moded path in the index.
	Apply(tree *image.RootTree, idx *metadata.Index) error
}

// Requirement is met when any of the patterns matches a recorded path.
// Patterns are doublestar globs relative to the tree root.
type Requirement struct {
	Description string
	AnyOf       []string
}

// Manifest lists the requirements of a patch.
type Manifest struct {
	Requires []Requirement
}

// UnrecognizedLayoutError is returned when the tree does not look like
// the firmware a patch knows how to modify.
type UnrecognizedLayoutError struct {
	Patch  string
	Reason string
	Err    error
}

func (e *UnrecognizedLayoutError) Error() string {
	reason := e.Reason
	if reason == "" && e.Err != nil {
		reason = e.Err.Error()
	} else if e.Err != nil {
		reason += ": " + e.Err.Error()
	}
	return fmt.Sprintf("cannot apply %s: unrecognized firmware layout: %s", e.Patch, reason)
}

func (e *UnrecognizedLayoutError) Unwrap() error {
	return e.Err
}

// IsUnrecognizedLayout returns true if err is or wraps an
// UnrecognizedLayoutError.
func IsUnrecognizedLayout(err error) bool {
	var e *UnrecognizedLayoutError
	return errors.As(err, &e)
}

func layoutErrorf(patch string, format string, v ...interface{}) error {
	return &UnrecognizedLayoutError{Patch: patch, Reason: fmt.Sprintf(format, v...)}
}

// rank gives the position of each known patch in the application order.
var rank = map[string]int{
	InstallOverlayName:       0,
	EnableRemoteShellName:    1,
	EnsureRootLoginShellName: 2,
	SetRootCredentialName:    3,
	InstallTrustedKeyName:    4,
	UpdateOTAInfoName:        5,
}

func rankOf(p Patch) int {
	if r, ok := rank[p.Name()]; ok {
		return r
	}
	return len(rank)
}

// Set is an ordered list of patches.
type Set struct {
	patches []Patch
}

// NewSet returns a set applying the given patches in their canonical
// order, whatever the order they are passed in. Unknown patches run last,
// in the order given.
func NewSet(patches ...Patch) *Set {
	ps := append([]Patch(nil), patches...)
	sort.SliceStable(ps, func(i, j int) bool {
		return rankOf(ps[i]) < rankOf(ps[j])
	})
	return &Set{patches: ps}
}

// Patches returns the patches in application order.
func (s *Set) Patches() []Patch {
	return append([]Patch(nil), s.patches...)
}

// Names returns the patch names in application order.
func (s *Set) Names() []string {
	names := make([]string, len(s.patches))
	for i, p := range s.patches {
		names[i] = p.Name()
	}
	return names
}

func requirementMet(req Requirement, paths []string) (bool, error) {
	for _, pattern := range req.AnyOf {
		if !doublestar.ValidatePattern(pattern) {
			return false, fmt.Errorf("internal error: invalid pattern %q", pattern)
		}
		for _, p := range paths {
			if ok, _ := doublestar.Match(pattern, p); ok {
				return true, nil
			}
		}
	}
	return false, nil
}

// Validate checks the manifests of all patches against the index, so
// that no patch runs on a tree some other patch cannot handle.
func (s *Set) Validate(idx *metadata.Index) error {
	paths := idx.Paths()
	for _, p := range s.patches {
		for _, req := range p.Manifest().Requires {
			ok, err := requirementMet(req, paths)
			if err != nil {
				return err
			}
			if !ok {
				return layoutErrorf(p.Name(), "cannot find %s", req.Description)
			}
		}
	}
	return nil
}

// Apply validates the set and then applies every patch in order.
// progress, if not nil, is called before each patch.
func (s *Set) Apply(tree *image.RootTree, idx *metadata.Index, progress func(name string)) error {
	if err := s.Validate(idx); err != nil {
		return err
	}
	for _, p := range s.patches {
		if progress != nil {
			progress(p.Name())
		}
		logger.Debugf("applying patch %s", p.Name())
		if err := p.Apply(tree, idx); err != nil {
			if IsUnrecognizedLayout(err) || metadata.IsApplyError(err) {
				return err
			}
			return fmt.Errorf("cannot apply %s: %w", p.Name(), err)
		}
	}
	return nil
}
