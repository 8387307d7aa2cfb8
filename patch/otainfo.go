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
package patch

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"

	"github.com/padroot/padroot/image"
	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/metadata"
)

const (
	UpdateOTAInfoName = "update-ota-info"

	otaInfoFile = "etc/ota_info"
)

// versionKeys and boardKeys are the ota_info entries the updater and the
// device UI read the installed version and board from.
var (
	versionKeys = map[string]bool{"ota_version": true, "version": true}
	boardKeys   = map[string]bool{"ota_board_name": true, "board_name": true}
)

// UpdateOTAInfo makes etc/ota_info announce the version of the image
// being built, so that the device does not offer the stock version as
// an update over it. Trees without the file are left alone.
type UpdateOTAInfo struct {
	Version string
	// Board is only written when set.
	Board string
}

func (p *UpdateOTAInfo) Name() string {
	return UpdateOTAInfoName
}

func (p *UpdateOTAInfo) Manifest() Manifest {
	return Manifest{}
}

func (p *UpdateOTAInfo) rewrite(data []byte) ([]byte, error) {
	var out bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		key, _, found := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		switch {
		case found && versionKeys[key]:
			line = key + "=" + p.Version
		case found && boardKeys[key] && p.Board != "":
			line = key + "=" + p.Board
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		out.Truncate(out.Len() - 1)
	}
	return out.Bytes(), nil
}

func (p *UpdateOTAInfo) Apply(tree *image.RootTree, idx *metadata.Index) error {
	if p.Version == "" {
		return fmt.Errorf("internal error: no version to announce")
	}
	if !exists(tree, idx, otaInfoFile, metadata.Regular) {
		logger.Debugf("no %s, not updating it", otaInfoFile)
		return nil
	}
	changed, err := editRecorded(tree, idx, otaInfoFile, p.rewrite)
	if err != nil {
		return err
	}
	if changed {
		logger.Noticef("%s now announces version %s", otaInfoFile, p.Version)
	}
	return nil
}
