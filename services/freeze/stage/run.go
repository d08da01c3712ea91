// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stage

import (
	"github.com/google/uuid"

	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
	"github.com/latticeforge/macefreeze/services/freeze/workspace"
)

// CreateRun provisions a run workspace. When the client supplies no
// identifier a UUID is minted server-side.
func (s *Service) CreateRun(req datatypes.CreateRunRequest) (*datatypes.CreateRunResponse, error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	if err := workspace.ValidateRunID(runID); err != nil {
		return nil, err
	}
	if err := s.layout.EnsureRun(runID); err != nil {
		return nil, err
	}
	s.logger.Info("run created", "run_id", runID, "run_dir", s.layout.RunDir(runID))
	return &datatypes.CreateRunResponse{RunID: runID, RunDir: s.layout.RunDir(runID)}, nil
}

// validateIDs applies the identifier rules before any path is built.
func validateIDs(runID string, iter int) error {
	if err := workspace.ValidateRunID(runID); err != nil {
		return err
	}
	return workspace.ValidateIteration(iter)
}
