// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worker

import (
	"strconv"
	"strings"
)

// CommitteeEnv is the typed configuration handed to the committee
// training worker. The struct is the single source of truth inside the
// controller; Flatten serializes it to the flat string map the worker
// reads from its environment.
type CommitteeEnv struct {
	RunID         string
	Iter          int
	DataDir       string
	WorkDir       string
	Device        string
	CommitteeSize int
	MaxEpochs     int
	QuickDemo     bool

	// ModelPath seeds replicas from an existing checkpoint. Empty
	// means train from scratch.
	ModelPath string

	// FreezePatterns / UnfreezePatterns are list-of-strings values,
	// comma-joined at the boundary.
	FreezePatterns   []string
	UnfreezePatterns []string
}

// Flatten serializes the typed config to the worker's env contract.
func (e CommitteeEnv) Flatten() map[string]string {
	env := map[string]string{
		"RUN_ID":         e.RunID,
		"ITER":           strconv.Itoa(e.Iter),
		"DATA_DIR":       e.DataDir,
		"WORK_DIR":       e.WorkDir,
		"DEVICE":         e.Device,
		"COMMITTEE_SIZE": strconv.Itoa(e.CommitteeSize),
		"MAX_EPOCHS":     strconv.Itoa(e.MaxEpochs),
		"QUICK_DEMO":     boolFlag(e.QuickDemo),
	}
	if e.ModelPath != "" {
		env["MODEL_PATH"] = e.ModelPath
	}
	if len(e.FreezePatterns) > 0 {
		env["FREEZE_PATTERNS"] = strings.Join(e.FreezePatterns, ",")
	}
	if len(e.UnfreezePatterns) > 0 {
		env["UNFREEZE_PATTERNS"] = strings.Join(e.UnfreezePatterns, ",")
	}
	return env
}

// SplitEnv configures the dataset split worker.
type SplitEnv struct {
	RunID         string
	InputPath     string
	TrainPath     string
	ValidPath     string
	PoolPath      string
	ValidFraction float64
	PoolFraction  float64
	WithPool      bool
	Seed          int
}

// Flatten serializes the typed config to the worker's env contract.
func (e SplitEnv) Flatten() map[string]string {
	env := map[string]string{
		"RUN_ID":         e.RunID,
		"INPUT_PATH":     e.InputPath,
		"TRAIN_OUT":      e.TrainPath,
		"VALID_OUT":      e.ValidPath,
		"VALID_FRACTION": formatFloat(e.ValidFraction),
		"SEED":           strconv.Itoa(e.Seed),
		"WITH_POOL":      boolFlag(e.WithPool),
	}
	if e.WithPool {
		env["POOL_OUT"] = e.PoolPath
		env["POOL_FRACTION"] = formatFloat(e.PoolFraction)
	}
	return env
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
