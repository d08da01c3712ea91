// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
	"github.com/latticeforge/macefreeze/services/freeze/workspace"
)

// defaultFreezePatterns matches the export worker's own default when no
// patterns are requested.
var defaultFreezePatterns = []string{"embedding"}

// Export rewrites a replica's canonical checkpoint with a recorded
// freeze plan.
//
// # Description
//
// The source is the resolved canonical checkpoint of the requested
// replica; the frozen copy and a JSON plan report land at fixed paths
// in the iteration directory, so re-running an export overwrites the
// previous result. The worker records the same plan inside the
// checkpoint metadata, which the trainer honors when the checkpoint
// seeds a fine-tuning run.
func (s *Service) Export(ctx context.Context, runID string, iter int, req datatypes.ExportRequest) (*datatypes.ExportResponse, error) {
	src, err := s.resolveReplicaCheckpoint(runID, iter, req.Replica)
	if err != nil {
		return nil, err
	}

	freeze := req.FreezePatterns
	if len(freeze) == 0 {
		freeze = defaultFreezePatterns
	}

	outCkpt := s.layout.FrozenCheckpointPath(runID, iter, req.Replica)
	planPath := s.layout.FreezePlanPath(runID, iter, req.Replica)

	args := []string{"--in_ckpt", src, "--out_ckpt", outCkpt, "--out_plan", planPath}
	args = append(args, "--freeze")
	args = append(args, freeze...)
	if len(req.UnfreezePatterns) > 0 {
		args = append(args, "--unfreeze")
		args = append(args, req.UnfreezePatterns...)
	}

	if _, err := s.runWorker(ctx, "export", s.cfg.Timeouts.Export,
		s.scriptSpec(scriptExport, args, nil), nil); err != nil {
		return nil, err
	}

	if !workspace.Exists(outCkpt) {
		return nil, fmt.Errorf("export worker exited cleanly but wrote no checkpoint at %s", outCkpt)
	}

	plan, err := readFreezePlan(planPath)
	if err != nil {
		return nil, err
	}

	s.logger.Info("freeze export complete", "run_id", runID, "iter", iter,
		"replica", req.Replica, "source", src, "frozen", outCkpt,
		"frozen_params", plan.NumFrozenParams, "total_params", plan.NumTotalParams)

	return &datatypes.ExportResponse{
		RunID:            runID,
		Iter:             iter,
		Replica:          req.Replica,
		SourceCheckpoint: src,
		FrozenCheckpoint: outCkpt,
		PlanPath:         planPath,
		Plan:             *plan,
	}, nil
}

// readFreezePlan loads the plan report the worker mirrored to disk.
func readFreezePlan(path string) (*datatypes.FreezePlan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading freeze plan %s: %w", path, err)
	}
	var plan datatypes.FreezePlan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("parsing freeze plan %s: %w", path, err)
	}
	return &plan, nil
}
