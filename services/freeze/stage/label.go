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

// Label attaches reference energies and forces to the iteration's
// selected structures, writing labeled_new.
//
// The labeler may shell out to a quantum chemistry code; its error
// messages about missing executables or pseudopotential directories
// are recognized configuration problems, reclassified for the caller
// with a remediation hint.
func (s *Service) Label(ctx context.Context, runID string, iter int, req datatypes.LabelRequest) (*datatypes.LabelResponse, error) {
	if err := validateIDs(runID, iter); err != nil {
		return nil, err
	}
	toLabelPath := s.layout.ToLabelPath(runID, iter)
	if !workspace.Exists(toLabelPath) {
		return nil, missingArtifact(toLabelPath, "select")
	}

	reference := req.Reference
	if reference == "" {
		reference = defaultReference
	}
	device := req.Device
	if device == "" {
		device = defaultDevice
	}

	labeledNewPath := s.layout.LabeledNewPath(runID, iter)
	args := []string{
		"--input", toLabelPath,
		"--output", labeledNewPath,
		"--reference", reference,
		"--device", device,
	}
	if req.QECommand != "" {
		args = append(args, "--qe_command", req.QECommand)
	}
	if req.PseudoDir != "" {
		args = append(args, "--pseudo_dir", req.PseudoDir)
	}
	if req.Kpts != "" {
		args = append(args, "--kpts", req.Kpts)
	}
	if req.Ecutwfc > 0 {
		args = append(args, "--ecutwfc", strconv.FormatFloat(req.Ecutwfc, 'g', -1, 64))
	}
	if req.Ecutrho > 0 {
		args = append(args, "--ecutrho", strconv.FormatFloat(req.Ecutrho, 'g', -1, 64))
	}

	if _, err := s.runWorker(ctx, "label", s.cfg.Timeouts.Label,
		s.scriptSpec(scriptLabel, args, nil), nil); err != nil {
		return nil, err
	}

	return &datatypes.LabelResponse{
		RunID:          runID,
		Iter:           iter,
		Reference:      reference,
		LabeledNewPath: labeledNewPath,
	}, nil
}
