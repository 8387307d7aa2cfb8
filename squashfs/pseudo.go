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

package squashfs

import (
	"fmt"
	"strings"
)

// QuotePseudoPath renders an image relative path for use in a mksquashfs
// pseudo definition file. The root is "/". Spaces, quotes and
// backslashes are escaped; newlines cannot be represented.
func QuotePseudoPath(p string) (string, error) {
	if strings.ContainsAny(p, "\n\r") {
		return "", fmt.Errorf("cannot represent path %q in a pseudo file", p)
	}
	if p == "." || p == "" {
		return "/", nil
	}
	var b strings.Builder
	b.WriteByte('/')
	for _, r := range p {
		switch r {
		case ' ', '\t', '"', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}
