// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stage

import (
	"context"
	"strconv"

	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
	"github.com/latticeforge/macefreeze/services/freeze/workspace"
)

// Select picks the top-K most uncertain pool structures into the
// iteration's to_label file.
//
// Checkpoints are re-resolved here rather than reusing whatever the
// disagreement stage saw. Resolving twice is cheap and guards against
// serving scores for checkpoints replaced between the two calls.
func (s *Service) Select(ctx context.Context, runID string, iter int, req datatypes.SelectRequest) (*datatypes.SelectResponse, error) {
	if err := validateIDs(runID, iter); err != nil {
		return nil, err
	}
	poolPath := s.layout.PoolPath(runID)
	if !workspace.Exists(poolPath) {
		return nil, missingArtifact(poolPath, "split")
	}
	models, err := s.requireCommittee(runID, iter)
	if err != nil {
		return nil, err
	}
	if err := s.layout.EnsureIter(runID, iter); err != nil {
		return nil, err
	}

	k := req.K
	if k <= 0 {
		k = defaultSelectK
	}
	device := req.Device
	if device == "" {
		device = defaultDevice
	}

	toLabelPath := s.layout.ToLabelPath(runID, iter)
	args := []string{"--models"}
	args = append(args, models...)
	args = append(args, "--pool_xyz", poolPath, "--out_selected", toLabelPath,
		"--k", strconv.Itoa(k), "--device", device)

	if _, err := s.runWorker(ctx, "select", s.cfg.Timeouts.Select,
		s.scriptSpec(scriptSelect, args, nil), nil); err != nil {
		return nil, err
	}

	return &datatypes.SelectResponse{
		RunID:       runID,
		Iter:        iter,
		K:           k,
		Models:      models,
		ToLabelPath: toLabelPath,
	}, nil
}
