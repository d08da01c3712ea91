// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stage

import (
	"context"

	"github.com/latticeforge/macefreeze/services/freeze/checkpoint"
	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
	"github.com/latticeforge/macefreeze/services/freeze/worker"
	"github.com/latticeforge/macefreeze/services/freeze/workspace"
)

// TrainPrecheck validates identifiers and input artifacts for a train
// request without side effects. The train handler calls it before
// committing the NDJSON status line, so bad requests still get a plain
// error envelope instead of a 200 stream carrying a single error event.
func (s *Service) TrainPrecheck(runID string, iter int, req datatypes.TrainRequest) error {
	if err := validateIDs(runID, iter); err != nil {
		return err
	}
	if trainPath := s.layout.TrainPath(runID); !workspace.Exists(trainPath) {
		return missingArtifact(trainPath, "split")
	}
	if validPath := s.layout.ValidPath(runID); !workspace.Exists(validPath) {
		return missingArtifact(validPath, "split")
	}
	if req.ModelPath != "" && !workspace.Exists(req.ModelPath) {
		return missingArtifact(req.ModelPath, "fine-tune checkpoint export")
	}
	return nil
}

// TrainCommittee runs committee training and relays worker events to
// emit in the exact order the worker wrote them.
//
// # Description
//
// The returned error is terminal stream state: the handler converts it
// into a final error event because by the time training fails the
// response status line is long gone. Canceling ctx (client disconnect
// or timeout) terminates the worker. A checkpoint watcher reports, as
// advisory log events, checkpoint files appearing while the worker
// trains; watcher failures never affect the stage.
func (s *Service) TrainCommittee(ctx context.Context, runID string, iter int, req datatypes.TrainRequest, emit func(datatypes.Event)) error {
	if err := s.TrainPrecheck(runID, iter, req); err != nil {
		return err
	}
	if err := s.layout.EnsureIter(runID, iter); err != nil {
		return err
	}

	committeeSize := req.CommitteeSize
	if committeeSize <= 0 {
		committeeSize = defaultCommitteeSize
	}
	maxEpochs := req.MaxEpochs
	if maxEpochs <= 0 {
		maxEpochs = defaultMaxEpochs
	}
	device := req.Device
	if device == "" {
		device = defaultDevice
	}

	// The watcher cannot register directories that do not exist yet,
	// which is every replica dir on a fresh iteration.
	var watchDirs []string
	for i := 0; i < committeeSize; i++ {
		if err := s.layout.EnsureReplicaCheckpoints(runID, iter, i); err != nil {
			return err
		}
		watchDirs = append(watchDirs, s.layout.ReplicaCheckpointsDir(runID, iter, i))
	}
	watcher := checkpoint.Watch(ctx, watchDirs, func(path string) {
		emit(datatypes.LogEvent("checkpoint written: " + path))
	}, s.logger)
	defer watcher.Close()

	env := worker.CommitteeEnv{
		RunID:            runID,
		Iter:             iter,
		DataDir:          s.layout.DataDir(runID),
		WorkDir:          s.layout.IterDir(runID, iter),
		Device:           device,
		CommitteeSize:    committeeSize,
		MaxEpochs:        maxEpochs,
		QuickDemo:        req.QuickDemo,
		ModelPath:        req.ModelPath,
		FreezePatterns:   req.FreezePatterns,
		UnfreezePatterns: req.UnfreezePatterns,
	}

	state, err := s.runWorker(ctx, "train", s.cfg.Timeouts.Train,
		s.scriptSpec(scriptTrainCommittee, nil, env.Flatten()), emit)
	if err != nil {
		return err
	}

	// Older trainer scripts exit 0 without a completion record; close
	// the stream with one so callers always see a done event.
	if !state.doneSeen {
		_, found, rerr := s.resolveCommittee(runID, iter)
		if rerr != nil {
			s.logger.Warn("post-train checkpoint resolution failed", "run_id", runID, "iter", iter, "error", rerr)
		}
		it := iter
		emit(datatypes.Event{
			Kind:        datatypes.KindDone,
			RunID:       runID,
			Iter:        &it,
			WorkDir:     s.layout.IterDir(runID, iter),
			Checkpoints: found,
		})
	}
	return nil
}
