// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// ErrorResponse is the JSON error envelope for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse answers liveness probes.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// InfoResponse describes the API at the root path.
type InfoResponse struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// CreateRunResponse reports a freshly created run workspace.
type CreateRunResponse struct {
	RunID  string `json:"run_id"`
	RunDir string `json:"run_dir"`
}

// SplitResponse reports dataset split sizes.
type SplitResponse struct {
	RunID string `json:"run_id"`
	Total int    `json:"total"`
	Train int    `json:"train"`
	Valid int    `json:"valid"`
	Pool  int    `json:"pool,omitempty"`
}

// DisagreementStats aggregates per-structure scores.
type DisagreementStats struct {
	Mean  float64 `json:"mean"`
	Max   float64 `json:"max"`
	Min   float64 `json:"min"`
	Count int     `json:"count"`
}

// StructureScore is one pool structure's uncertainty score.
type StructureScore struct {
	Index     int     `json:"i"`
	Score     float64 `json:"score"`
	EnergyStd float64 `json:"energy_std,omitempty"`
}

// ConvergenceVerdict is the advisory result of the convergence check.
// Never persisted as run state; only returned to the caller, and only
// when the check succeeded.
type ConvergenceVerdict struct {
	Converged   bool           `json:"converged"`
	SuggestStop bool           `json:"suggest_stop"`
	Reasons     []string       `json:"reasons"`
	Metrics     map[string]any `json:"metrics,omitempty"`
}

// DisagreementResponse is the disagreement stage result.
type DisagreementResponse struct {
	RunID  string            `json:"run_id"`
	Iter   int               `json:"iter"`
	Models []string          `json:"models"`
	Scores []float64         `json:"scores"`
	Stats  DisagreementStats `json:"stats"`

	// Convergence is present only when the advisory check ran and
	// succeeded; its absence is not an error.
	Convergence *ConvergenceVerdict `json:"convergence,omitempty"`
}

// SelectResponse is the selection stage result.
type SelectResponse struct {
	RunID       string   `json:"run_id"`
	Iter        int      `json:"iter"`
	K           int      `json:"k"`
	Models      []string `json:"models"`
	ToLabelPath string   `json:"to_label_path"`
}

// LabelResponse is the labeling stage result.
type LabelResponse struct {
	RunID          string `json:"run_id"`
	Iter           int    `json:"iter"`
	Reference      string `json:"reference"`
	LabeledNewPath string `json:"labeled_new_path"`
}

// AppendResponse is the append stage result.
type AppendResponse struct {
	RunID         string `json:"run_id"`
	Iter          int    `json:"iter"`
	TrainPath     string `json:"train_path"`
	TrainNextPath string `json:"train_next_path"`

	// StructuresAdded is the advisory count of digit-only lines in
	// labeled_new (1 when none were found), not a structural parse.
	StructuresAdded int `json:"structures_added"`
}

// ReplicaCheckpoint is one replica's resolver result.
type ReplicaCheckpoint struct {
	Replica int    `json:"replica"`
	Path    string `json:"path,omitempty"`
	Found   bool   `json:"found"`
}

// CheckpointsResponse previews the committee's resolvable checkpoints.
type CheckpointsResponse struct {
	RunID    string              `json:"run_id"`
	Iter     int                 `json:"iter"`
	Replicas []ReplicaCheckpoint `json:"replicas"`
}

// PreviewResponse mirrors the freeze-preview worker output.
type PreviewResponse struct {
	Checkpoint         string   `json:"checkpoint"`
	FreezePatterns     []string `json:"freeze_patterns"`
	UnfreezePatterns   []string `json:"unfreeze_patterns"`
	NumTotalParams     int      `json:"num_total_params"`
	NumFrozenParams    int      `json:"num_frozen_params"`
	NumTrainableParams int      `json:"num_trainable_params"`
	FrozenKeysSample   []string `json:"frozen_keys_sample,omitempty"`
	AvailablePatterns  []string `json:"available_patterns,omitempty"`
	Warning            string   `json:"warning,omitempty"`
}

// FreezePlan is the report the export worker records inside the
// rewritten checkpoint and mirrors to a JSON file next to it.
type FreezePlan struct {
	FreezePatterns   []string `json:"freeze_patterns"`
	UnfreezePatterns []string `json:"unfreeze_patterns"`
	NumTotalParams   int      `json:"num_total_params"`
	NumFrozenParams  int      `json:"num_frozen_params"`
	FrozenKeysSample []string `json:"frozen_keys_sample,omitempty"`
}

// ExportResponse reports a completed freeze export.
type ExportResponse struct {
	RunID            string     `json:"run_id"`
	Iter             int        `json:"iter"`
	Replica          int        `json:"replica"`
	SourceCheckpoint string     `json:"source_checkpoint"`
	FrozenCheckpoint string     `json:"frozen_checkpoint"`
	PlanPath         string     `json:"plan_path"`
	Plan             FreezePlan `json:"plan"`
}
