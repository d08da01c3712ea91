// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package worker supervises the external numerical workers.

Every Freeze stage ultimately shells out to an opaque worker process
(trainer, disagreement scorer, selector, labeler, convergence checker).
This package abstracts spawning and supervising those processes behind
the Supervisor interface so stage logic can be tested with a mock
instead of real subprocesses.

# Design Rationale

Direct exec.Command calls are not testable and scatter the environment
and lifecycle contract across call sites. Supervisor centralizes:
  - the invocation contract (command, args, flat env overlay, cwd)
  - newline-safe delivery of stdout/stderr lines, exactly once each,
    in arrival order, regardless of how the pipe chunks them
  - cancellation (SIGTERM, SIGKILL after a grace period) and timeouts
  - exit classification (spawn failure vs timeout vs non-zero exit)

The supervisor deals only in raw lines; interpreting them as structured
events is the stage layer's job.
*/
package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// =============================================================================
// Contract
// =============================================================================

// DefaultGracePeriod bounds how long a canceled worker may linger
// between SIGTERM and SIGKILL.
const DefaultGracePeriod = 10 * time.Second

// maxLineBytes bounds a single worker output line. Trainer logs can be
// long but a 1 MiB line is already malformed output.
const maxLineBytes = 1 << 20

// Spec describes one worker invocation.
type Spec struct {
	// Command is the executable path or name.
	Command string

	// Args is the ordered argument list.
	Args []string

	// Env is a flat overlay merged over the parent environment.
	Env map[string]string

	// Dir is the working directory (workspace root or script dir).
	Dir string

	// GracePeriod overrides DefaultGracePeriod when positive.
	GracePeriod time.Duration
}

// Callbacks receive worker output. Either callback may be nil.
// OnLine and OnStderrLine are each invoked from a single goroutine, in
// arrival order, exactly once per line; no ordering is guaranteed
// between the two streams.
type Callbacks struct {
	OnLine       func(line string)
	OnStderrLine func(line string)
}

// Handle tracks one running worker.
type Handle interface {
	// Wait blocks until the worker exits and all output lines have
	// been delivered. Returns nil on exit 0; *ExitError on a non-zero
	// exit; an ErrTimeout or ErrCanceled wrap when the context ended
	// the worker. Must be called exactly once.
	Wait() error

	// Cancel requests graceful termination (SIGTERM, then SIGKILL
	// after the grace period). Idempotent; a no-op after natural exit.
	Cancel()
}

// Supervisor spawns workers.
type Supervisor interface {
	// Spawn starts the worker described by spec. The returned Handle
	// is live; output delivery has already begun. A nil Handle with an
	// ErrSpawnFailed wrap means the process never started.
	Spawn(ctx context.Context, spec Spec, cb Callbacks) (Handle, error)
}

// =============================================================================
// Exec Implementation
// =============================================================================

// ExecSupervisor is the production Supervisor backed by os/exec.
type ExecSupervisor struct{}

// NewExecSupervisor returns the production supervisor.
func NewExecSupervisor() *ExecSupervisor {
	return &ExecSupervisor{}
}

// Spawn starts the worker and begins pumping its output.
func (s *ExecSupervisor) Spawn(ctx context.Context, spec Spec, cb Callbacks) (Handle, error) {
	grace := spec.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)

	// Context cancellation (timeout or caller abandonment) terminates
	// gracefully first; WaitDelay escalates to SIGKILL.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = grace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrSpawnFailed, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawnFailed, spec.Command, err)
	}

	h := &execHandle{ctx: ctx, cmd: cmd, grace: grace}
	h.pumps.Go(func() error {
		return scanStream(stdout, cb.OnLine)
	})
	h.pumps.Go(func() error {
		return scanStream(stderr, cb.OnStderrLine)
	})
	return h, nil
}

// execHandle supervises one started process.
type execHandle struct {
	ctx    context.Context
	cmd    *exec.Cmd
	grace  time.Duration
	pumps  errgroup.Group
	cancel sync.Once
}

// Wait drains both output pumps, reaps the process, and classifies the
// outcome. Pipes must be fully read before exec.Cmd.Wait.
func (h *execHandle) Wait() error {
	pumpErr := h.pumps.Wait()
	waitErr := h.cmd.Wait()

	if waitErr != nil {
		// A worker killed because the context ended reports the
		// context's classification, not its raw exit status.
		if ctxErr := h.ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return fmt.Errorf("%w after deadline", ErrTimeout)
			}
			return fmt.Errorf("%w: caller went away", ErrCanceled)
		}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode()}
		}
		return waitErr
	}

	// Scanner failures (oversized line) surface only when the process
	// itself succeeded; a worker that exits 0 but produced undecodable
	// output is still a failure worth reporting.
	if pumpErr != nil && !errors.Is(pumpErr, io.ErrClosedPipe) {
		return fmt.Errorf("read worker output: %w", pumpErr)
	}
	return nil
}

// Cancel sends SIGTERM once; a lingering process is killed after the
// grace period. Safe after natural exit (signal errors are ignored).
func (h *execHandle) Cancel() {
	h.cancel.Do(func() {
		if h.cmd.Process == nil {
			return
		}
		_ = h.cmd.Process.Signal(syscall.SIGTERM)
		go func() {
			time.Sleep(h.grace)
			_ = h.cmd.Process.Kill()
		}()
	})
}

// =============================================================================
// Line Delivery
// =============================================================================

// scanStream delivers r's content line by line. The scanner owns the
// buffering, so lines split arbitrarily across read chunks arrive
// whole, and a trailing line without a newline is flushed at EOF.
func scanStream(r io.Reader, fn func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if fn != nil {
			fn(scanner.Text())
		}
	}
	return scanner.Err()
}

// mergeEnv overlays kv pairs onto a parent environment.
func mergeEnv(parent []string, overlay map[string]string) []string {
	if len(overlay) == 0 {
		return parent
	}
	env := make([]string, 0, len(parent)+len(overlay))
	env = append(env, parent...)
	for k, v := range overlay {
		env = append(env, k+"="+v)
	}
	return env
}

// Compile-time interface compliance check.
var _ Supervisor = (*ExecSupervisor)(nil)
