// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worker

import (
	"errors"
	"strconv"
)

// Sentinel errors for worker supervision.
var (
	// ErrSpawnFailed indicates the worker executable could not be
	// started at all (not found, not executable).
	ErrSpawnFailed = errors.New("worker spawn failed")

	// ErrTimeout indicates the worker exceeded its wall-clock limit
	// and was terminated by the supervisor.
	ErrTimeout = errors.New("worker timed out")

	// ErrCanceled indicates the caller abandoned the invocation (for a
	// streamed stage, by closing the connection) and the worker was
	// terminated rather than left running unattended.
	ErrCanceled = errors.New("worker canceled")
)

// ExitError reports a worker that ran and exited non-zero without the
// supervisor itself failing. Whether a richer worker-reported message
// replaces it is decided by the stage layer, which watched the output.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return "process exited with code " + strconv.Itoa(e.Code)
}
