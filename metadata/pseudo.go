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
	"bufio"
	"fmt"
	"io"

	"github.com/padroot/padroot/squashfs"
)

// WritePseudo writes mksquashfs pseudo definitions for the index: a
// modify ("m") definition carrying the exact mode and ownership of every
// record present on the host, and a creating definition for device
// nodes, fifos and sockets that are not. present reports whether a
// recorded path exists in the tree being built.
func WritePseudo(w io.Writer, idx *Index, present func(path string) bool) error {
	bw := bufio.NewWriter(w)
	for _, p := range idx.Paths() {
		r := idx.records[p]
		q, err := squashfs.QuotePseudoPath(p)
		if err != nil {
			return err
		}
		if present(p) {
			fmt.Fprintf(bw, "%s m %s %d %d\n", q, r.Mode, r.UID, r.GID)
			continue
		}
		switch r.Type {
		case CharDevice:
			fmt.Fprintf(bw, "%s c %s %d %d %d %d\n", q, r.Mode, r.UID, r.GID, r.Major, r.Minor)
		case BlockDevice:
			fmt.Fprintf(bw, "%s b %s %d %d %d %d\n", q, r.Mode, r.UID, r.GID, r.Major, r.Minor)
		case Fifo:
			fmt.Fprintf(bw, "%s i %s %d %d f\n", q, r.Mode, r.UID, r.GID)
		case Socket:
			fmt.Fprintf(bw, "%s i %s %d %d s\n", q, r.Mode, r.UID, r.GID)
		default:
			return &ApplyError{Path: p, Err: fmt.Errorf("recorded %s is missing", r.Type)}
		}
	}
	return bw.Flush()
}
