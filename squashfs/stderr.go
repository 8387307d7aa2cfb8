// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2018-2025 Canonical Ltd
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
	"bytes"
	"strings"

	"github.com/padroot/padroot/strutil"
)

// max number of failure lines kept, unsquashfs may report an error on
// every single file (e.g. on out-of-diskspace)
const maxFailedLines = 10

// unsquashfsStderrWriter captures errors from unsquashfs on stderr.
//
// unsquashfs does not exit with an exit code for write errors (e.g. no
// space left on device), but it pretty consistently uses "failed" in its
// error messages.
//
// Failures caused by missing privilege (device nodes, ownership) are kept
// apart: an unprivileged extraction is expected to hit them.
type unsquashfsStderrWriter struct {
	failures     []string
	unprivileged []string
	writeFailure bool

	output   *strutil.LimitedBuffer
	prevLine []byte
}

func newUnsquashfsStderrWriter() *unsquashfsStderrWriter {
	return &unsquashfsStderrWriter{output: strutil.NewLimitedBuffer(20, 4096)}
}

var privilegeMarkers = []string{
	"Operation not permitted",
	"not superuser",
}

var writeFailureMarkers = []string{
	"No space left on device",
	"Write on output file failed",
	"failed to write",
	"Failed to write",
}

func containsAny(l string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(l, m) {
			return true
		}
	}
	return false
}

func (u *unsquashfsStderrWriter) pushLine(l string) {
	if !strings.Contains(l, "failed") && !strings.Contains(l, "Failed") &&
		!strings.Contains(l, "not superuser") {
		return
	}
	if containsAny(l, privilegeMarkers) {
		u.unprivileged = append(u.unprivileged, l)
		return
	}
	if containsAny(l, writeFailureMarkers) {
		u.writeFailure = true
	}
	if len(u.failures) >= maxFailedLines {
		return
	}
	u.failures = append(u.failures, l)
}

func (u *unsquashfsStderrWriter) Write(data []byte) (int, error) {
	u.output.Write(data)

	buf := append(u.prevLine, data...)
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			break
		}
		u.pushLine(string(buf[:idx]))
		buf = buf[idx+1:]
	}
	u.prevLine = append([]byte(nil), buf...)
	return len(data), nil
}

// Flush processes a trailing line without a newline.
func (u *unsquashfsStderrWriter) Flush() {
	if len(u.prevLine) > 0 {
		u.pushLine(string(u.prevLine))
		u.prevLine = nil
	}
}
