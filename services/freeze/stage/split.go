// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stage

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
	"github.com/latticeforge/macefreeze/services/freeze/worker"
	"github.com/latticeforge/macefreeze/services/freeze/workspace"
)

const (
	defaultValidFraction = 0.1
	defaultPoolFraction  = 0.2
	defaultSplitSeed     = 42
)

// splitSummaryPattern matches the split worker's summary line:
//
//	Total: 120 | Train: 84 | Valid: 12 | Pool: 24
var splitSummaryPattern = regexp.MustCompile(
	`Total:\s*(\d+)\s*\|\s*Train:\s*(\d+)\s*\|\s*Valid:\s*(\d+)(?:\s*\|\s*Pool:\s*(\d+))?`)

// Split divides an input dataset into train/valid(/pool) files under
// the run's data directory.
func (s *Service) Split(ctx context.Context, runID string, req datatypes.SplitRequest) (*datatypes.SplitResponse, error) {
	if err := workspace.ValidateRunID(runID); err != nil {
		return nil, err
	}
	if !workspace.Exists(req.InputPath) {
		return nil, fmt.Errorf("%w: input dataset %s does not exist", ErrPreconditionFailed, req.InputPath)
	}
	if err := s.layout.EnsureRun(runID); err != nil {
		return nil, err
	}

	validFraction := req.ValidFraction
	if validFraction <= 0 {
		validFraction = defaultValidFraction
	}
	poolFraction := req.PoolFraction
	if poolFraction <= 0 {
		poolFraction = defaultPoolFraction
	}
	seed := req.Seed
	if seed == 0 {
		seed = defaultSplitSeed
	}

	env := worker.SplitEnv{
		RunID:         runID,
		InputPath:     req.InputPath,
		TrainPath:     s.layout.TrainPath(runID),
		ValidPath:     s.layout.ValidPath(runID),
		ValidFraction: validFraction,
		WithPool:      req.WithPool,
		Seed:          seed,
	}
	script := scriptSplit
	if req.WithPool {
		script = scriptSplitPool
		env.PoolPath = s.layout.PoolPath(runID)
		env.PoolFraction = poolFraction
	}

	resp := &datatypes.SplitResponse{RunID: runID}
	_, err := s.runWorker(ctx, "split", s.cfg.Timeouts.Split, s.scriptSpec(script, nil, env.Flatten()),
		func(ev datatypes.Event) {
			m := splitSummaryPattern.FindStringSubmatch(ev.Message)
			if m == nil {
				return
			}
			resp.Total, _ = strconv.Atoi(m[1])
			resp.Train, _ = strconv.Atoi(m[2])
			resp.Valid, _ = strconv.Atoi(m[3])
			if m[4] != "" {
				resp.Pool, _ = strconv.Atoi(m[4])
			}
		})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
