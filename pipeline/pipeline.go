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
// Package pipeline runs one firmware patching job: the archive is
// extracted to a scratch directory, patched, and rebuilt into a new
// archive. A failed run leaves neither a tree nor an output behind.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/padroot/padroot/image"
	"github.com/padroot/padroot/logger"
	"github.com/padroot/padroot/metadata"
	"github.com/padroot/padroot/osutil"
	"github.com/padroot/padroot/patch"
)

// State is the stage a run is in.
type State int

const (
	Idle State = iota
	Extracting
	Patching
	Rebuilding
	Done
	Failed
)

var stateNames = map[State]string{
	Idle:       "idle",
	Extracting: "extracting",
	Patching:   "patching",
	Rebuilding: "rebuilding",
	Done:       "done",
	Failed:     "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// StageError reports the stage at which a run failed.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", stageVerb[e.Stage], e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

var stageVerb = map[State]string{
	Extracting: "extraction",
	Patching:   "patching",
	Rebuilding: "rebuild",
}

// Options configure a run.
type Options struct {
	// Input is the firmware archive to patch.
	Input string
	// Output is where the patched archive is written.
	Output string
	// Scratch is the directory the tree is extracted into. It must be
	// empty or absent, and is not shared with other runs.
	Scratch string
	// Patches are applied to the extracted tree.
	Patches *patch.Set
	// Codec tunes the rebuilt archive, defaults follow the input.
	Codec *image.Options
	// Progress, if set, is told about every stage and patch.
	Progress func(state State, detail string)
	// Force allows replacing an existing output.
	Force bool
}

// Run is a single patching job.
type Run struct {
	opts Options

	mu    sync.Mutex
	state State
}

// New checks the options and returns a run ready to be executed.
func New(opts *Options) (*Run, error) {
	if opts == nil {
		opts = &Options{}
	}
	switch {
	case opts.Input == "":
		return nil, errors.New("no input archive given")
	case opts.Output == "":
		return nil, errors.New("no output archive given")
	case opts.Scratch == "":
		return nil, errors.New("no scratch directory given")
	case opts.Patches == nil:
		return nil, errors.New("internal error: no patch set given")
	}
	if osutil.FileExists(opts.Output) && !opts.Force {
		return nil, fmt.Errorf("cannot write %q: file exists", opts.Output)
	}
	if dir := filepath.Dir(opts.Output); !osutil.IsDirectory(dir) {
		return nil, fmt.Errorf("cannot write %q: %q is not a directory", opts.Output, dir)
	}
	return &Run{opts: *opts}, nil
}

// State returns the current stage of the run.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Run) progress(state State, detail string) {
	if r.opts.Progress != nil {
		r.opts.Progress(state, detail)
	}
}

func (r *Run) enter(state State) {
	r.mu.Lock()
	r.state = state
	r.mu.Unlock()
	logger.StageTimestamp(state.String())
	logger.Debugf("%s %s", state, r.opts.Input)
	r.progress(state, "")
}

func (r *Run) fail(stage State, err error) error {
	r.mu.Lock()
	r.state = Failed
	r.mu.Unlock()
	r.progress(Failed, stage.String())
	return &StageError{Stage: stage, Err: err}
}

// Execute runs all stages in order and returns the path of the patched
// archive. The scratch tree is removed whatever the outcome. On error
// no output archive is left behind.
func (r *Run) Execute(ctx context.Context) (output string, err error) {
	r.mu.Lock()
	if r.state != Idle {
		r.mu.Unlock()
		return "", fmt.Errorf("internal error: run already executed")
	}
	r.mu.Unlock()

	codec := image.NewCodec(r.opts.Scratch, r.opts.Codec)
	defer func() {
		if cerr := codec.Cleanup(); cerr != nil {
			logger.Noticef("cannot remove scratch directory %s: %v", r.opts.Scratch, cerr)
		}
	}()

	r.enter(Extracting)
	tree, idx, err := codec.Extract(ctx, r.opts.Input)
	if err != nil {
		return "", r.fail(Extracting, err)
	}

	r.enter(Patching)
	if err := ctx.Err(); err != nil {
		return "", r.fail(Patching, err)
	}
	err = r.opts.Patches.Apply(tree, idx, func(name string) {
		r.progress(Patching, name)
	})
	if err != nil {
		return "", r.fail(Patching, err)
	}
	if err := idx.Save(codec.MetadataPath()); err != nil {
		return "", r.fail(Patching, err)
	}

	r.enter(Rebuilding)
	if err := ctx.Err(); err != nil {
		return "", r.fail(Rebuilding, err)
	}
	// the image is built from the index as persisted next to the tree
	idx, err = metadata.Load(codec.MetadataPath())
	if err != nil {
		return "", r.fail(Rebuilding, err)
	}
	archive, err := codec.Rebuild(ctx, tree, idx, r.opts.Output)
	if err != nil {
		return "", r.fail(Rebuilding, err)
	}

	r.enter(Done)
	logger.Noticef("wrote %s (%s)", archive.Path, archive.Info)
	return archive.Path, nil
}
