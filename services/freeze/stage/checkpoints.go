// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stage

import (
	"fmt"

	"github.com/latticeforge/macefreeze/services/freeze/checkpoint"
	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
	"github.com/latticeforge/macefreeze/services/freeze/workspace"
)

// resolveCommittee resolves each replica's canonical checkpoint.
// Replicas are enumerated from the filesystem (c0, c1, ... up to the
// first missing directory), not from a request field, so any stage can
// find the committee regardless of what trained it. Resolution is
// repeated fresh on every call; nothing is cached between stages.
func (s *Service) resolveCommittee(runID string, iter int) ([]datatypes.ReplicaCheckpoint, []string, error) {
	var replicas []datatypes.ReplicaCheckpoint
	var found []string
	for i := 0; ; i++ {
		dir := s.layout.ReplicaDir(runID, iter, i)
		if !workspace.Exists(dir) {
			break
		}
		path, err := checkpoint.Resolve(s.layout.ReplicaCheckpointsDir(runID, iter, i))
		if err != nil {
			return nil, nil, fmt.Errorf("resolving replica c%d checkpoint: %w", i, err)
		}
		replicas = append(replicas, datatypes.ReplicaCheckpoint{Replica: i, Path: path, Found: path != ""})
		if path != "" {
			found = append(found, path)
		}
	}
	return replicas, found, nil
}

// resolveReplicaCheckpoint resolves the canonical checkpoint of a
// single replica, validating identifiers first. Failing to resolve one
// is a precondition failure: there is nothing to freeze until the
// train stage has produced a checkpoint.
func (s *Service) resolveReplicaCheckpoint(runID string, iter, replica int) (string, error) {
	if err := validateIDs(runID, iter); err != nil {
		return "", err
	}
	if replica < 0 {
		return "", fmt.Errorf("%w: replica %d is negative", workspace.ErrInvalidIdentifier, replica)
	}
	path, err := checkpoint.Resolve(s.layout.ReplicaCheckpointsDir(runID, iter, replica))
	if err != nil {
		return "", fmt.Errorf("resolving replica c%d checkpoint: %w", replica, err)
	}
	if path == "" {
		return "", fmt.Errorf("%w: no resolvable checkpoint for replica c%d in %s; run the train stage first",
			ErrPreconditionFailed, replica, s.layout.IterDir(runID, iter))
	}
	return path, nil
}

// requireCommittee resolves the committee and fails the precondition
// when fewer than two replicas have a usable checkpoint.
func (s *Service) requireCommittee(runID string, iter int) ([]string, error) {
	_, found, err := s.resolveCommittee(runID, iter)
	if err != nil {
		return nil, err
	}
	if len(found) < minCommitteeModels {
		return nil, fmt.Errorf("%w: found %d resolvable committee checkpoints in %s, need at least %d; run the train stage first",
			ErrPreconditionFailed, len(found), s.layout.IterDir(runID, iter), minCommitteeModels)
	}
	return found, nil
}

// Checkpoints reports each replica's resolver result for inspection.
func (s *Service) Checkpoints(runID string, iter int) (*datatypes.CheckpointsResponse, error) {
	if err := validateIDs(runID, iter); err != nil {
		return nil, err
	}
	replicas, _, err := s.resolveCommittee(runID, iter)
	if err != nil {
		return nil, err
	}
	if replicas == nil {
		replicas = []datatypes.ReplicaCheckpoint{}
	}
	return &datatypes.CheckpointsResponse{RunID: runID, Iter: iter, Replicas: replicas}, nil
}
