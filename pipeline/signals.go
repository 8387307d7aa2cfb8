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
package pipeline

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/tomb.v2"

	"github.com/padroot/padroot/logger"
)

var notifySignals = func(ch chan<- os.Signal) (stop func()) {
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return func() { signal.Stop(ch) }
}

// WithSignals calls f with a context that is cancelled when the process
// is told to stop with SIGINT or SIGTERM, and returns what f returns.
func WithSignals(ctx context.Context, f func(ctx context.Context) (string, error)) (string, error) {
	sigs := make(chan os.Signal, 1)
	stop := notifySignals(sigs)
	defer stop()

	var t tomb.Tomb
	var result string
	t.Go(func() error {
		var err error
		result, err = f(t.Context(ctx))
		return err
	})

	select {
	case sig := <-sigs:
		logger.Noticef("received %v, cancelling", sig)
		// f reports the cancellation itself
		t.Kill(nil)
	case <-t.Dying():
	}
	if err := t.Wait(); err != nil {
		return "", err
	}
	return result, nil
}

// RunWithSignals executes the run and cancels it when the process is
// told to stop. A cancelled run fails like any other, removing what it
// created.
func (r *Run) RunWithSignals(ctx context.Context) (string, error) {
	return WithSignals(ctx, r.Execute)
}
