// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// CreateRunRequest asks for a new run workspace. RunID is optional;
// the server mints a UUID when it is empty.
type CreateRunRequest struct {
	RunID string `json:"run_id,omitempty"`
}

// SplitRequest configures the optional dataset split preceding
// iteration 0. WithPool reserves a candidate pool for active learning.
type SplitRequest struct {
	// InputPath is the uploaded dataset (absolute path on the server).
	InputPath string `json:"input_path" binding:"required"`

	// ValidFraction defaults to 0.1, PoolFraction to 0.2 (pool splits only).
	ValidFraction float64 `json:"valid_fraction,omitempty"`
	PoolFraction  float64 `json:"pool_fraction,omitempty"`

	WithPool bool `json:"with_pool,omitempty"`
	Seed     int  `json:"seed,omitempty"`
}

// TrainRequest configures one committee-training invocation.
type TrainRequest struct {
	// CommitteeSize is the number of replicas (seeds 0..n-1). Defaults
	// to the configured committee size.
	CommitteeSize int `json:"committee_size,omitempty"`

	Device    string `json:"device,omitempty"`
	MaxEpochs int    `json:"max_epochs,omitempty"`
	QuickDemo bool   `json:"quick_demo,omitempty"`

	// ModelPath seeds each replica from an existing checkpoint
	// (fine-tuning). Optional.
	ModelPath string `json:"model_path,omitempty"`

	// FreezePatterns / UnfreezePatterns select which parameter groups
	// stay frozen during fine-tuning. Forwarded to the worker as
	// comma-joined lists.
	FreezePatterns   []string `json:"freeze_patterns,omitempty"`
	UnfreezePatterns []string `json:"unfreeze_patterns,omitempty"`
}

// DisagreementRequest configures committee disagreement scoring.
type DisagreementRequest struct {
	Device string `json:"device,omitempty"`

	// Score selects the disagreement metric understood by the worker
	// (force_rms_std, force_vec_std_mean, energy_std).
	Score string `json:"score,omitempty"`

	// SkipConvergence disables the advisory convergence check.
	SkipConvergence bool `json:"skip_convergence,omitempty"`
}

// SelectRequest configures active-learning top-K selection.
type SelectRequest struct {
	// K is the number of structures to select. Defaults to the
	// configured selection size.
	K      int    `json:"k,omitempty"`
	Device string `json:"device,omitempty"`
}

// LabelRequest configures reference labeling of the selection.
type LabelRequest struct {
	// Reference picks the labeling method: mace-mp, emt, or qe.
	Reference string `json:"reference,omitempty"`
	Device    string `json:"device,omitempty"`

	// Quantum ESPRESSO options, used only when Reference is qe.
	QECommand string  `json:"qe_command,omitempty"`
	PseudoDir string  `json:"pseudo_dir,omitempty"`
	Kpts      string  `json:"kpts,omitempty"`
	Ecutwfc   float64 `json:"ecutwfc,omitempty"`
	Ecutrho   float64 `json:"ecutrho,omitempty"`
}

// PreviewRequest asks for a freeze-plan preview of a checkpoint.
// Either CheckpointPath names the checkpoint explicitly, or the
// (run_id, iter, replica) form asks the server to resolve the
// canonical checkpoint of one committee replica.
type PreviewRequest struct {
	CheckpointPath string `json:"checkpoint_path,omitempty"`

	RunID   string `json:"run_id,omitempty"`
	Iter    int    `json:"iter,omitempty"`
	Replica int    `json:"replica,omitempty"`

	FreezePatterns   []string `json:"freeze_patterns,omitempty"`
	UnfreezePatterns []string `json:"unfreeze_patterns,omitempty"`
	Sample           int      `json:"sample,omitempty"`
}

// ExportRequest asks for a checkpoint rewritten with a recorded freeze
// plan. The source checkpoint is the canonical one resolved for the
// requested replica; the output lands in the iteration directory.
type ExportRequest struct {
	Replica int `json:"replica,omitempty"`

	// FreezePatterns defaults to ["embedding"] when empty, matching the
	// Freeze worker's own default.
	FreezePatterns   []string `json:"freeze_patterns,omitempty"`
	UnfreezePatterns []string `json:"unfreeze_patterns,omitempty"`
}
