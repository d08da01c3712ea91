// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stage

import (
	"errors"
	"fmt"
)

// ErrPreconditionFailed marks a stage invoked before the artifact it
// consumes exists. Client-correctable: the message names the missing
// artifact and the stage that produces it.
var ErrPreconditionFailed = errors.New("precondition failed")

// missingArtifact wraps ErrPreconditionFailed with the missing path
// and the producing stage.
func missingArtifact(path, producer string) error {
	return fmt.Errorf("%w: %s does not exist; run the %s stage first", ErrPreconditionFailed, path, producer)
}

// WorkerError carries the worker's own last structured error message,
// verbatim. A non-empty Hint marks a recognized configuration problem
// the caller can fix, so handlers classify those as client errors.
type WorkerError struct {
	Message string
	Hint    string
}

func (e *WorkerError) Error() string {
	if e.Hint != "" {
		return e.Message + " (hint: " + e.Hint + ")"
	}
	return e.Message
}

// Recognized reports whether the message matched a known
// configuration problem.
func (e *WorkerError) Recognized() bool {
	return e.Hint != ""
}
