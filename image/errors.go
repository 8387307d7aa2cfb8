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
package image

import (
	"errors"
	"fmt"
)

// ArchiveCorruptError is returned when the input archive cannot be parsed
// or unpacked.
type ArchiveCorruptError struct {
	Path string
	Err  error
}

func (e *ArchiveCorruptError) Error() string {
	return fmt.Sprintf("cannot read firmware archive %q: %v", e.Path, e.Err)
}

func (e *ArchiveCorruptError) Unwrap() error {
	return e.Err
}

// ExtractionIOError is returned when the scratch directory cannot be
// created or written.
type ExtractionIOError struct {
	Path string
	Err  error
}

func (e *ExtractionIOError) Error() string {
	return fmt.Sprintf("cannot extract into %q: %v", e.Path, e.Err)
}

func (e *ExtractionIOError) Unwrap() error {
	return e.Err
}

// ScratchNotEmptyError is returned when the scratch directory holds
// content not created by this codec, or is locked by another run.
type ScratchNotEmptyError struct {
	Path   string
	Locked bool
}

func (e *ScratchNotEmptyError) Error() string {
	if e.Locked {
		return fmt.Sprintf("scratch directory %q is in use by another run", e.Path)
	}
	return fmt.Sprintf("scratch directory %q is not empty", e.Path)
}

// RebuildIOError is returned when the output archive cannot be written.
type RebuildIOError struct {
	Path string
	Err  error
}

func (e *RebuildIOError) Error() string {
	return fmt.Sprintf("cannot write firmware archive %q: %v", e.Path, e.Err)
}

func (e *RebuildIOError) Unwrap() error {
	return e.Err
}

func IsArchiveCorrupt(err error) bool {
	var e *ArchiveCorruptError
	return errors.As(err, &e)
}

func IsExtractionIO(err error) bool {
	var e *ExtractionIOError
	return errors.As(err, &e)
}

func IsScratchNotEmpty(err error) bool {
	var e *ScratchNotEmptyError
	return errors.As(err, &e)
}

func IsRebuildIO(err error) bool {
	var e *RebuildIOError
	return errors.As(err, &e)
}
