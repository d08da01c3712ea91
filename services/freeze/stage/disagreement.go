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

// disagreementArtifact is the scorer's output file shape.
type disagreementArtifact struct {
	Models       []string                   `json:"models"`
	PerStructure []datatypes.StructureScore `json:"per_structure"`
}

// Disagreement scores the candidate pool for committee uncertainty and
// writes the per-iteration disagreement artifact.
//
// Convergence advice is a best-effort tail step: when the advisor
// fails or is absent the response simply omits the field.
func (s *Service) Disagreement(ctx context.Context, runID string, iter int, req datatypes.DisagreementRequest) (*datatypes.DisagreementResponse, error) {
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

	device := req.Device
	if device == "" {
		device = defaultDevice
	}
	score := req.Score
	if score == "" {
		score = defaultScore
	}

	outPath := s.layout.DisagreementPath(runID, iter)
	args := []string{"--models"}
	args = append(args, models...)
	args = append(args, "--xyz", poolPath, "--out_json", outPath, "--device", device, "--score", score)

	if _, err := s.runWorker(ctx, "disagreement", s.cfg.Timeouts.Disagreement,
		s.scriptSpec(scriptDisagreement, args, nil), nil); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("reading disagreement artifact %s: %w", outPath, err)
	}
	var artifact disagreementArtifact
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, fmt.Errorf("parsing disagreement artifact %s: %w", outPath, err)
	}

	scores := make([]float64, 0, len(artifact.PerStructure))
	stats := datatypes.DisagreementStats{Count: len(artifact.PerStructure)}
	for i, ps := range artifact.PerStructure {
		scores = append(scores, ps.Score)
		stats.Mean += ps.Score
		if i == 0 || ps.Score > stats.Max {
			stats.Max = ps.Score
		}
		if i == 0 || ps.Score < stats.Min {
			stats.Min = ps.Score
		}
	}
	if stats.Count > 0 {
		stats.Mean /= float64(stats.Count)
	}

	resp := &datatypes.DisagreementResponse{
		RunID:  runID,
		Iter:   iter,
		Models: artifact.Models,
		Scores: scores,
		Stats:  stats,
	}
	if !req.SkipConvergence && s.advisor != nil {
		resp.Convergence = s.advisor.Advise(runID, iter)
	}
	return resp, nil
}
