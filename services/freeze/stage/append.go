// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stage

import (
	"fmt"
	"os"
	"strings"

	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
	"github.com/latticeforge/macefreeze/services/freeze/workspace"
)

// Append folds the iteration's labeled structures into the training
// set. No worker is involved; this is pure controller file I/O.
//
// The combined content is written to the iteration's train_next
// snapshot first, then to train itself, so a crash between the two
// writes leaves the snapshot as the recovery point. Appending is
// deliberately not idempotent in place: running it twice on the same
// labeled_new doubles those structures in the training set.
func (s *Service) Append(runID string, iter int) (*datatypes.AppendResponse, error) {
	if err := validateIDs(runID, iter); err != nil {
		return nil, err
	}
	trainPath := s.layout.TrainPath(runID)
	if !workspace.Exists(trainPath) {
		return nil, missingArtifact(trainPath, "split")
	}
	labeledNewPath := s.layout.LabeledNewPath(runID, iter)
	if !workspace.Exists(labeledNewPath) {
		return nil, missingArtifact(labeledNewPath, "label")
	}

	trainRaw, err := os.ReadFile(trainPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", trainPath, err)
	}
	labeledRaw, err := os.ReadFile(labeledNewPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", labeledNewPath, err)
	}

	combined := make([]byte, 0, len(trainRaw)+len(labeledRaw)+1)
	combined = append(combined, trainRaw...)
	if len(combined) > 0 && combined[len(combined)-1] != '\n' {
		combined = append(combined, '\n')
	}
	combined = append(combined, labeledRaw...)

	trainNextPath := s.layout.TrainNextPath(runID, iter)
	if err := os.WriteFile(trainNextPath, combined, 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", trainNextPath, err)
	}
	if err := os.WriteFile(trainPath, combined, 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", trainPath, err)
	}

	s.logger.Info("training set extended",
		"run_id", runID, "iter", iter, "train_bytes", len(combined))

	return &datatypes.AppendResponse{
		RunID:           runID,
		Iter:            iter,
		TrainPath:       trainPath,
		TrainNextPath:   trainNextPath,
		StructuresAdded: countStructures(string(labeledRaw)),
	}, nil
}

// countStructures counts XYZ atom-count marker lines in labeled
// content: lines that are digits (with surrounding whitespace) only.
// Advisory, not a structural parse; 1 when no marker is found.
func countStructures(content string) int {
	count := 0
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		digitsOnly := true
		for _, r := range trimmed {
			if r < '0' || r > '9' {
				digitsOnly = false
				break
			}
		}
		if digitsOnly {
			count++
		}
	}
	if count == 0 {
		return 1
	}
	return count
}
