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
	"path"
	"regexp"
	"strings"

	"github.com/coreos/go-systemd/unit"

	"github.com/padroot/padroot/image"
	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/metadata"
	"github.com/padroot/padroot/strutil"
)

const EnableRemoteShellName = "enable-remote-shell"

// DefaultSSHServices are the SSH servers looked for, in order of
// preference.
var DefaultSSHServices = []string{"dropbear", "sshd"}

const (
	initDir            = "etc/init.d"
	systemdConfDir     = "etc/systemd/system"
	defaultWantedBy    = "multi-user.target"
	sshdConfig         = "etc/ssh/sshd_config"
	dropbearDefaults   = "etc/default/dropbear"
	defaultSysvOrdinal = "50"
)

var systemdUnitDirs = []string{"lib/systemd/system", "usr/lib/systemd/system", systemdConfDir}

// EnableRemoteShell makes the firmware start an SSH server at boot that
// accepts root logins.
type EnableRemoteShell struct {
	Services []string
}

func (p *EnableRemoteShell) services() []string {
	if len(p.Services) == 0 {
		return DefaultSSHServices
	}
	return p.Services
}

func (p *EnableRemoteShell) Name() string {
	return EnableRemoteShellName
}

func (p *EnableRemoteShell) Manifest() Manifest {
	var patterns []string
	for _, svc := range p.services() {
		patterns = append(patterns, initDir+"/*"+svc+"*")
		for _, dir := range systemdUnitDirs {
			patterns = append(patterns, dir+"/"+svc+".service")
		}
	}
	return Manifest{Requires: []Requirement{{
		Description: "a start-up script or systemd unit for " + strutil.Quoted(p.services()),
		AnyOf:       patterns,
	}}}
}

// sysvScript is an init script of one of the services.
type sysvScript struct {
	rel      string
	ordinal  string
	disabled bool
}

func sysvScriptRe(svc string) *regexp.Regexp {
	return regexp.MustCompile(`^(_?)(?:([SK])([0-9]{2}))?` + regexp.QuoteMeta(svc) + `(\.disabled|\.off)?$`)
}

func findSysvScripts(idx *metadata.Index, svc string) []sysvScript {
	re := sysvScriptRe(svc)
	var scripts []sysvScript
	for _, p := range idx.Paths() {
		if path.Dir(p) != initDir {
			continue
		}
		r := idx.Get(p)
		if r.Type != metadata.Regular {
			continue
		}
		m := re.FindStringSubmatch(path.Base(p))
		if m == nil {
			continue
		}
		s := sysvScript{rel: p, ordinal: m[3]}
		// only S?? scripts run at boot
		s.disabled = m[1] != "" || m[2] != "S" || m[4] != "" || r.Mode&0111 == 0
		scripts = append(scripts, s)
	}
	return scripts
}

func findUnit(idx *metadata.Index, svc string) string {
	for _, dir := range systemdUnitDirs {
		p := dir + "/" + svc + ".service"
		if r := idx.Get(p); r != nil && r.Type == metadata.Regular {
			return p
		}
	}
	return ""
}

func unitWanted(idx *metadata.Index, unitName string) bool {
	for _, p := range idx.Paths() {
		if path.Base(p) == unitName && strings.HasPrefix(p, systemdConfDir+"/") && strings.HasSuffix(path.Dir(p), ".wants") {
			return true
		}
	}
	return false
}

func unitMasked(idx *metadata.Index, unitName string) bool {
	r := idx.Get(systemdConfDir + "/" + unitName)
	return r != nil && r.Type == metadata.Symlink && r.Target == "/dev/null"
}

func (p *EnableRemoteShell) enabled(idx *metadata.Index, svc string) bool {
	for _, s := range findSysvScripts(idx, svc) {
		if !s.disabled {
			return true
		}
	}
	if u := findUnit(idx, svc); u != "" {
		return unitWanted(idx, path.Base(u)) && !unitMasked(idx, path.Base(u))
	}
	return false
}

func (p *EnableRemoteShell) enableSysv(tree *image.RootTree, idx *metadata.Index, s sysvScript, svc string) error {
	ordinal := s.ordinal
	if ordinal == "" {
		ordinal = defaultSysvOrdinal
	}
	newRel := path.Join(initDir, "S"+ordinal+svc)
	if newRel != s.rel {
		if r := idx.Get(newRel); r != nil {
			return layoutErrorf(p.Name(), "cannot enable %s: %s already exists", s.rel, newRel)
		}
		if err := renameRecorded(tree, idx, s.rel, newRel); err != nil {
			return err
		}
	}
	r := idx.Get(newRel)
	r.Mode |= 0111
	logger.Noticef("enabled %s at boot as %s", svc, newRel)
	return nil
}

func wantedBy(tree *image.RootTree, idx *metadata.Index, unitRel string) ([]string, error) {
	data, _, _, err := readRecorded(tree, idx, unitRel)
	if err != nil {
		return nil, err
	}
	opts, err := unit.Deserialize(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("cannot parse %s: %v", unitRel, err)
	}
	var targets []string
	for _, opt := range opts {
		if opt.Section == "Install" && opt.Name == "WantedBy" {
			targets = append(targets, strings.Fields(opt.Value)...)
		}
	}
	if len(targets) == 0 {
		targets = []string{defaultWantedBy}
	}
	return targets, nil
}

func (p *EnableRemoteShell) enableUnit(tree *image.RootTree, idx *metadata.Index, unitRel string) error {
	unitName := path.Base(unitRel)
	if unitMasked(idx, unitName) {
		if err := removeRecorded(tree, idx, systemdConfDir+"/"+unitName); err != nil {
			return err
		}
	}
	targets, err := wantedBy(tree, idx, unitRel)
	if err != nil {
		return &UnrecognizedLayoutError{Patch: p.Name(), Err: err}
	}
	if _, err := mkdirAllRecorded(tree, idx, systemdConfDir, 0755, 0, 0); err != nil {
		return err
	}
	for _, target := range targets {
		wants := path.Join(systemdConfDir, target+".wants")
		if _, err := mkdirRecorded(tree, idx, wants, 0755, 0, 0); err != nil {
			return err
		}
		if err := symlinkRecorded(tree, idx, path.Join(wants, unitName), "/"+unitRel); err != nil {
			return err
		}
	}
	logger.Noticef("enabled %s for %s", unitName, strutil.Quoted(targets))
	return nil
}

func (p *EnableRemoteShell) enableService(tree *image.RootTree, idx *metadata.Index) error {
	for _, svc := range p.services() {
		if p.enabled(idx, svc) {
			logger.Debugf("%s already enabled", svc)
			return nil
		}
	}
	for _, svc := range p.services() {
		if u := findUnit(idx, svc); u != "" {
			return p.enableUnit(tree, idx, u)
		}
		if scripts := findSysvScripts(idx, svc); len(scripts) > 0 {
			return p.enableSysv(tree, idx, scripts[0], svc)
		}
	}
	return layoutErrorf(p.Name(), "cannot find %s", p.Manifest().Requires[0].Description)
}

// setSSHDOption sets a global sshd_config keyword, replacing an active or
// commented out occurrence, or adding it before the first Match block.
func setSSHDOption(data []byte, key, value string) []byte {
	want := key + " " + value
	lines := strings.SplitAfter(string(data), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	keyOf := func(l string) string {
		f := strings.Fields(strings.TrimSpace(l))
		if len(f) == 0 {
			return ""
		}
		return strings.ToLower(f[0])
	}
	lkey := strings.ToLower(key)

	active, commented, match := -1, -1, len(lines)
	for i, l := range lines {
		k := keyOf(l)
		switch {
		case k == "match":
			if match == len(lines) {
				match = i
			}
		case match < len(lines):
			// inside a Match block
		case k == lkey && active < 0:
			active = i
		case strings.HasPrefix(k, "#") && keyOf(strings.TrimLeft(strings.TrimSpace(l), "#")) == lkey && commented < 0:
			commented = i
		}
	}
	switch {
	case active >= 0:
		lines[active] = want + "\n"
	case commented >= 0:
		lines[commented] = want + "\n"
	default:
		if match == len(lines) && len(lines) > 0 && !strings.HasSuffix(lines[len(lines)-1], "\n") {
			lines[len(lines)-1] += "\n"
		}
		lines = append(lines[:match], append([]string{want + "\n"}, lines[match:]...)...)
	}
	return []byte(strings.Join(lines, ""))
}

var dropbearArgsRe = regexp.MustCompile(`^(\s*(?:export\s+)?DROPBEAR_ARGS=)(["']?)(.*?)(["']?)\s*$`)

// allowDropbearRoot drops the dropbear flags refusing root logins (-w)
// and root password logins (-g).
func allowDropbearRoot(data []byte) []byte {
	var out bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		l := sc.Text()
		if m := dropbearArgsRe.FindStringSubmatch(l); m != nil {
			var kept []string
			for _, arg := range strings.Fields(m[3]) {
				if arg == "-w" || arg == "-g" {
					continue
				}
				kept = append(kept, arg)
			}
			if len(kept) != len(strings.Fields(m[3])) {
				l = m[1] + m[2] + strings.Join(kept, " ") + m[4]
			}
		}
		out.WriteString(l)
		out.WriteByte('\n')
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		out.Truncate(out.Len() - 1)
	}
	return out.Bytes()
}

func (p *EnableRemoteShell) Apply(tree *image.RootTree, idx *metadata.Index) error {
	if err := p.enableService(tree, idx); err != nil {
		return err
	}
	if exists(tree, idx, sshdConfig, metadata.Regular) {
		_, err := editRecorded(tree, idx, sshdConfig, func(data []byte) ([]byte, error) {
			return setSSHDOption(data, "PermitRootLogin", "yes"), nil
		})
		if err != nil {
			return err
		}
	}
	if exists(tree, idx, dropbearDefaults, metadata.Regular) {
		_, err := editRecorded(tree, idx, dropbearDefaults, func(data []byte) ([]byte, error) {
			return allowDropbearRoot(data), nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
