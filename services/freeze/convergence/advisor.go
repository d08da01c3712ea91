// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package convergence evaluates whether an active learning run looks
// finished. The check is strictly advisory: it reads iteration
// artifacts already on disk, never writes run state, and every failure
// path is swallowed so a broken or missing artifact can never fail the
// stage that asked.
package convergence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
	"github.com/latticeforge/macefreeze/services/freeze/workspace"
)

// evPerAngToMeV converts disagreement scores (eV/A) to the meV/A unit
// the thresholds and user-facing metrics use.
const evPerAngToMeV = 1000.0

// Thresholds are the convergence criteria. All force units are meV/A,
// energies meV/atom.
type Thresholds struct {
	DisagreementMax      float64
	DisagreementMean     float64
	MAEEnergy            float64
	MAEForce             float64
	PoolExhaustionCutoff float64
}

// DefaultThresholds returns the stock criteria.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DisagreementMax:      10.0,
		DisagreementMean:     5.0,
		MAEEnergy:            50.0,
		MAEForce:             50.0,
		PoolExhaustionCutoff: 1.0,
	}
}

// Advisor reads iteration artifacts and produces convergence verdicts.
type Advisor struct {
	layout     *workspace.Layout
	thresholds Thresholds
	logger     *slog.Logger
}

// NewAdvisor builds an Advisor over the given workspace layout.
func NewAdvisor(layout *workspace.Layout, thresholds Thresholds, logger *slog.Logger) *Advisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advisor{layout: layout, thresholds: thresholds, logger: logger}
}

// disagreementFile is the worker-written pool_disagreement.json shape.
// Older files carry only per_structure; stats are recomputed then.
type disagreementFile struct {
	Stats        *datatypes.DisagreementStats `json:"stats"`
	PerStructure []datatypes.StructureScore   `json:"per_structure"`
	PoolSize     int                          `json:"pool_size"`
}

// Advise evaluates convergence for one iteration.
//
// # Description
//
// Returns nil whenever the verdict could not be produced: missing
// disagreement artifact, unreadable JSON, anything. The caller treats
// nil as "no advice", not as an error. A non-nil verdict means every
// input it names was read successfully.
func (a *Advisor) Advise(runID string, iter int) *datatypes.ConvergenceVerdict {
	path := a.layout.DisagreementPath(runID, iter)
	raw, err := os.ReadFile(path)
	if err != nil {
		a.logger.Debug("convergence check skipped", "run_id", runID, "iter", iter, "reason", err)
		return nil
	}

	var data disagreementFile
	if err := json.Unmarshal(raw, &data); err != nil {
		a.logger.Warn("convergence check skipped: malformed disagreement file",
			"run_id", runID, "iter", iter, "path", path, "error", err)
		return nil
	}

	mae := a.committeeValidationMAE(runID, iter)
	return a.evaluate(data, mae)
}

// maePair is the committee-averaged validation error for an iteration.
type maePair struct {
	Energy float64
	Force  float64
}

// evaluate applies the three criteria. Any single satisfied criterion
// marks the run converged (OR logic, matching how the loop is operated
// in practice: either the pool ran dry, or the committee agrees, or
// the model is already accurate enough).
func (a *Advisor) evaluate(data disagreementFile, mae *maePair) *datatypes.ConvergenceVerdict {
	t := a.thresholds
	reasons := []string{}
	metrics := map[string]any{}

	stats := data.Stats
	if stats == nil {
		stats = computeStats(data.PerStructure)
	}
	poolSize := data.PoolSize
	if poolSize == 0 {
		poolSize = len(data.PerStructure)
	}

	maxMeV := stats.Max * evPerAngToMeV
	meanMeV := stats.Mean * evPerAngToMeV
	metrics["disagreement_max"] = maxMeV
	metrics["disagreement_mean"] = meanMeV
	metrics["pool_size"] = poolSize

	if maxMeV <= t.DisagreementMax && meanMeV <= t.DisagreementMean {
		reasons = append(reasons, fmt.Sprintf(
			"Committee disagreement is low (max=%.2f, mean=%.2f meV/A <= %g/%g)",
			maxMeV, meanMeV, t.DisagreementMax, t.DisagreementMean))
	} else {
		metrics["disagreement_reason"] = fmt.Sprintf(
			"Disagreement above threshold (max=%.2f, mean=%.2f meV/A)", maxMeV, meanMeV)
	}

	cutoffEV := t.PoolExhaustionCutoff / evPerAngToMeV
	aboveCutoff := 0
	for _, s := range data.PerStructure {
		if s.Score > cutoffEV {
			aboveCutoff++
		}
	}
	metrics["structures_above_cutoff"] = aboveCutoff
	if aboveCutoff == 0 && stats.Count > 0 {
		reasons = append(reasons, fmt.Sprintf(
			"Pool exhausted: no structures with disagreement > %g meV/A", t.PoolExhaustionCutoff))
	}

	maeOK := false
	if mae != nil {
		metrics["validation_mae_energy"] = mae.Energy
		metrics["validation_mae_force"] = mae.Force
		maeOK = mae.Energy <= t.MAEEnergy && mae.Force <= t.MAEForce
		if maeOK {
			reasons = append(reasons, fmt.Sprintf(
				"Validation MAE is good (E=%.1f meV/atom, F=%.1f meV/A <= %g/%g)",
				mae.Energy, mae.Force, t.MAEEnergy, t.MAEForce))
		} else {
			metrics["mae_reason"] = fmt.Sprintf(
				"Validation MAE above threshold (E=%.1f, F=%.1f meV)", mae.Energy, mae.Force)
		}
	}

	converged := len(reasons) > 0
	return &datatypes.ConvergenceVerdict{
		Converged:   converged,
		SuggestStop: converged || maeOK,
		Reasons:     reasons,
		Metrics:     metrics,
	}
}

func computeStats(scores []datatypes.StructureScore) *datatypes.DisagreementStats {
	stats := &datatypes.DisagreementStats{Count: len(scores)}
	if len(scores) == 0 {
		return stats
	}
	stats.Min = scores[0].Score
	for _, s := range scores {
		stats.Mean += s.Score
		if s.Score > stats.Max {
			stats.Max = s.Score
		}
		if s.Score < stats.Min {
			stats.Min = s.Score
		}
	}
	stats.Mean /= float64(len(scores))
	return stats
}

// =============================================================================
// Validation MAE From Training Logs
// =============================================================================

// maceEpochPattern matches the per-epoch validation lines MACE training
// logs emit, in both MAE and RMSE flavors:
//
//	Epoch 4: head: Default, loss=0.00025959, MAE_E_per_atom=    0.15 meV, MAE_F=    1.86 meV / A
//	Epoch 0: head: Default, loss=0.02708193, RMSE_E_per_atom=   26.14 meV, RMSE_F=   10.06 meV / A
var maceEpochPattern = regexp.MustCompile(
	`(?is)Epoch\s+(\d+):\s+.*?(?:MAE_E_per_atom|RMSE_E_per_atom)\s*=\s*([\d.]+)\s*meV.*?(?:MAE_F|RMSE_F)\s*=\s*([\d.]+)\s*meV`)

// committeeValidationMAE averages the last-epoch validation MAE across
// however many replica logs exist and parse. Nil when no log yielded a
// value; partial committees still count.
func (a *Advisor) committeeValidationMAE(runID string, iter int) *maePair {
	var sum maePair
	n := 0
	for replica := 0; ; replica++ {
		dir := a.layout.ReplicaDir(runID, iter, replica)
		if !workspace.Exists(dir) {
			break
		}
		logPath := filepath.Join(dir, "logs", fmt.Sprintf("c%d_run-%d.log", replica, replica))
		if pair := parseValidationMAE(logPath); pair != nil {
			sum.Energy += pair.Energy
			sum.Force += pair.Force
			n++
		}
	}
	if n == 0 {
		return nil
	}
	return &maePair{Energy: sum.Energy / float64(n), Force: sum.Force / float64(n)}
}

// parseValidationMAE pulls the highest-epoch validation pair from one
// training log, or nil if the log is missing or has no such line.
func parseValidationMAE(logPath string) *maePair {
	raw, err := os.ReadFile(logPath)
	if err != nil {
		return nil
	}
	matches := maceEpochPattern.FindAllStringSubmatch(string(raw), -1)
	if len(matches) == 0 {
		return nil
	}

	best := matches[0]
	bestEpoch := -1
	for _, m := range matches {
		epoch, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if epoch > bestEpoch {
			bestEpoch = epoch
			best = m
		}
	}
	energy, errE := strconv.ParseFloat(best[2], 64)
	force, errF := strconv.ParseFloat(best[3], 64)
	if errE != nil || errF != nil {
		return nil
	}
	return &maePair{Energy: energy, Force: force}
}
