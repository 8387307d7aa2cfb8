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

package osutil_test

import (
	"context"
	"errors"
	"os/exec"
	"sync/atomic"
	"time"

	"gopkg.in/check.v1"

	"github.com/padroot/padroot/osutil"
)

type ctxSuite struct{}

var _ = check.Suite(&ctxSuite{})

func (ctxSuite) TestRun(c *check.C) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second/100)
	defer cancel()
	cmd := exec.Command("/bin/sleep", "1")
	err := osutil.RunWithContext(ctx, cmd)
	c.Check(err, check.Equals, context.DeadlineExceeded)
}

func (ctxSuite) TestRunDone(c *check.C) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cmd := exec.Command("/bin/sleep", "1")
	err := osutil.RunWithContext(ctx, cmd)
	c.Check(err, check.Equals, context.Canceled)
	// the command was never started
	c.Check(cmd.Process, check.IsNil)
}

func (ctxSuite) TestRunSuccess(c *check.C) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cmd := exec.Command("/bin/true")
	c.Check(osutil.RunWithContext(ctx, cmd), check.IsNil)
}

func (ctxSuite) TestRunFailure(c *check.C) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	cmd := exec.Command("/bin/false")
	err := osutil.RunWithContext(ctx, cmd)
	c.Check(err, check.ErrorMatches, "exit status 1")
}

func (ctxSuite) TestRunManyAllRun(c *check.C) {
	var n int32
	tasks := make([]func(context.Context) error, 5)
	for i := range tasks {
		tasks[i] = func(context.Context) error {
			atomic.AddInt32(&n, 1)
			return nil
		}
	}
	err := osutil.RunManyWithContext(context.Background(), 2, tasks)
	c.Assert(err, check.IsNil)
	c.Check(atomic.LoadInt32(&n), check.Equals, int32(5))
}

func (ctxSuite) TestRunManyFirstErrorCancels(c *check.C) {
	boom := errors.New("boom")
	tasks := []func(context.Context) error{
		func(context.Context) error { return boom },
		func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	err := osutil.RunManyWithContext(context.Background(), 0, tasks)
	c.Check(err, check.Equals, boom)
}
