// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package workspace defines the on-disk layout for Freeze runs.
//
// # Description
//
// Every active-learning run owns a workspace under a configured root:
//
//	<root>/runs/<runID>/
//	    data/
//	        train.xyz       growing training set (append stage mutates it)
//	        valid.xyz       validation set (fixed after split)
//	        pool.xyz        candidate pool (fixed unless regenerated)
//	    iter_<NN>/
//	        c<i>/checkpoints/   committee replica checkpoint dirs
//	        to_label.xyz        top-K selection for this iteration
//	        labeled_new.xyz     reference-labeled selection
//	        train_next.xyz      snapshot written before train.xyz update
//	        pool_disagreement.json
//
// Path computation is pure: no function here performs I/O except the
// explicit Ensure* helpers, and none can fail for a well-formed
// identifier. Identifiers are validated against a safe character set
// before they are ever interpolated into a path, so path traversal is
// rejected up front rather than detected after the fact.
//
// # Thread Safety
//
// Layout is immutable after construction and safe for concurrent use.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// =============================================================================
// Errors
// =============================================================================

// ErrInvalidIdentifier indicates a run or iteration identifier failed the
// safe-character check. Raised before any path construction or I/O.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// =============================================================================
// Identifier Validation
// =============================================================================

// runIDPattern is the full safe character set for run identifiers.
// Letters, digits, hyphen, underscore; nothing that can alter a path.
var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateRunID rejects run identifiers outside the safe character set.
//
// # Inputs
//
//   - runID: Candidate run identifier (client-supplied).
//
// # Outputs
//
//   - error: ErrInvalidIdentifier-wrapped error for empty or unsafe IDs.
func ValidateRunID(runID string) error {
	if runID == "" {
		return fmt.Errorf("%w: run id is empty", ErrInvalidIdentifier)
	}
	if !runIDPattern.MatchString(runID) {
		return fmt.Errorf("%w: run id %q contains characters outside [A-Za-z0-9_-]", ErrInvalidIdentifier, runID)
	}
	return nil
}

// ValidateIteration rejects negative iteration numbers.
func ValidateIteration(iter int) error {
	if iter < 0 {
		return fmt.Errorf("%w: iteration %d is negative", ErrInvalidIdentifier, iter)
	}
	return nil
}

// =============================================================================
// Layout
// =============================================================================

// Layout computes workspace paths from (runID, iteration, replica) inputs.
//
// All path methods assume their identifiers were validated with
// ValidateRunID / ValidateIteration; callers at the service boundary do
// that once per request before touching a Layout.
type Layout struct {
	// Root is the workspace root directory (absolute path).
	Root string
}

// NewLayout creates a Layout rooted at the given directory.
func NewLayout(root string) *Layout {
	return &Layout{Root: root}
}

// RunDir returns the workspace directory for a run.
func (l *Layout) RunDir(runID string) string {
	return filepath.Join(l.Root, "runs", runID)
}

// DataDir returns the dataset directory for a run.
func (l *Layout) DataDir(runID string) string {
	return filepath.Join(l.RunDir(runID), "data")
}

// TrainPath returns the path of the growing training set.
func (l *Layout) TrainPath(runID string) string {
	return filepath.Join(l.DataDir(runID), "train.xyz")
}

// ValidPath returns the path of the validation set.
func (l *Layout) ValidPath(runID string) string {
	return filepath.Join(l.DataDir(runID), "valid.xyz")
}

// PoolPath returns the path of the candidate pool.
func (l *Layout) PoolPath(runID string) string {
	return filepath.Join(l.DataDir(runID), "pool.xyz")
}

// IterDir returns the directory for one active-learning iteration.
// Iterations are zero-padded to two digits (iter_00, iter_01, ...) so
// directory listings sort in loop order.
func (l *Layout) IterDir(runID string, iter int) string {
	return filepath.Join(l.RunDir(runID), fmt.Sprintf("iter_%02d", iter))
}

// ReplicaDir returns the directory owned by one committee replica.
func (l *Layout) ReplicaDir(runID string, iter, replica int) string {
	return filepath.Join(l.IterDir(runID, iter), fmt.Sprintf("c%d", replica))
}

// ReplicaCheckpointsDir returns a replica's checkpoints directory.
func (l *Layout) ReplicaCheckpointsDir(runID string, iter, replica int) string {
	return filepath.Join(l.ReplicaDir(runID, iter, replica), "checkpoints")
}

// ToLabelPath returns the iteration-scoped selection output.
func (l *Layout) ToLabelPath(runID string, iter int) string {
	return filepath.Join(l.IterDir(runID, iter), "to_label.xyz")
}

// LabeledNewPath returns the iteration-scoped labeling output.
func (l *Layout) LabeledNewPath(runID string, iter int) string {
	return filepath.Join(l.IterDir(runID, iter), "labeled_new.xyz")
}

// TrainNextPath returns the iteration-scoped snapshot the append stage
// writes fully before replacing train.xyz in place.
func (l *Layout) TrainNextPath(runID string, iter int) string {
	return filepath.Join(l.IterDir(runID, iter), "train_next.xyz")
}

// FrozenCheckpointPath returns the export stage's rewritten checkpoint
// for one committee replica.
func (l *Layout) FrozenCheckpointPath(runID string, iter, replica int) string {
	return filepath.Join(l.IterDir(runID, iter), fmt.Sprintf("c%d_frozen.pt", replica))
}

// FreezePlanPath returns the JSON freeze-plan report written alongside
// a replica's exported checkpoint.
func (l *Layout) FreezePlanPath(runID string, iter, replica int) string {
	return filepath.Join(l.IterDir(runID, iter), fmt.Sprintf("c%d_freeze_plan.json", replica))
}

// DisagreementPath returns the iteration-scoped disagreement result.
func (l *Layout) DisagreementPath(runID string, iter int) string {
	return filepath.Join(l.IterDir(runID, iter), "pool_disagreement.json")
}

// =============================================================================
// Directory Creation
// =============================================================================

// EnsureRun creates the run and data directories.
// Only I/O errors (permissions, disk full) can surface here.
func (l *Layout) EnsureRun(runID string) error {
	if err := os.MkdirAll(l.DataDir(runID), 0o755); err != nil {
		return fmt.Errorf("create run workspace: %w", err)
	}
	return nil
}

// EnsureIter creates the directory for one iteration.
func (l *Layout) EnsureIter(runID string, iter int) error {
	if err := os.MkdirAll(l.IterDir(runID, iter), 0o755); err != nil {
		return fmt.Errorf("create iteration workspace: %w", err)
	}
	return nil
}

// EnsureReplicaCheckpoints creates one replica's checkpoint directory.
// Training creates these before starting the checkpoint watcher; the
// worker would create them too, but by then the watcher has already
// tried to register paths that did not exist.
func (l *Layout) EnsureReplicaCheckpoints(runID string, iter, replica int) error {
	if err := os.MkdirAll(l.ReplicaCheckpointsDir(runID, iter, replica), 0o755); err != nil {
		return fmt.Errorf("create replica checkpoint directory: %w", err)
	}
	return nil
}

// Exists reports whether a path exists. Convenience for precondition
// checks; does not distinguish files from directories.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
