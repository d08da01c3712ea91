// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package stage implements the active learning stage operations.

Each iteration of the Freeze loop is driven through five operations:
train a committee, score pool disagreement, select the most uncertain
structures, label them with a reference method, and append the labeled
structures back into the training set. Alongside the loop, the freeze
preview and export operations inspect and rewrite committee
checkpoints without training anything. There is no server-held state
machine; each stage checks its own file-existence preconditions, runs
(at most) one supervised worker, and writes its outputs to fixed
workspace paths so re-running a stage deterministically overwrites its
previous result.
*/
package stage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
	"github.com/latticeforge/macefreeze/services/freeze/worker"
	"github.com/latticeforge/macefreeze/services/freeze/workspace"
)

// Worker script names, resolved relative to Config.ScriptsDir.
const (
	scriptTrainCommittee = "run_committee_web.py"
	scriptSplit          = "split_dataset.py"
	scriptSplitPool      = "split_dataset_pool.py"
	scriptDisagreement   = "model_disagreement.py"
	scriptSelect         = "mace_active_learning.py"
	scriptLabel          = "label_with_reference.py"
	scriptPreview        = "freeze_preview.py"
	scriptExport         = "mace_freeze.py"
)

// Stage defaults applied when a request leaves the field zero.
const (
	defaultCommitteeSize = 2
	defaultMaxEpochs     = 50
	defaultDevice        = "cpu"
	defaultScore         = "force_rms_std"
	defaultSelectK       = 50
	defaultReference     = "mace-mp"
)

// minCommitteeModels is the smallest committee that can disagree.
const minCommitteeModels = 2

// Timeouts bound each stage's worker wall clock.
type Timeouts struct {
	Train        time.Duration
	Split        time.Duration
	Disagreement time.Duration
	Select       time.Duration
	Label        time.Duration
	Preview      time.Duration
	Export       time.Duration
}

// Config wires the stage service to its workers.
type Config struct {
	// PythonBin is the interpreter used to run worker scripts.
	PythonBin string

	// ScriptsDir holds the worker scripts and is each worker's cwd.
	ScriptsDir string

	// GracePeriod is the SIGTERM-to-SIGKILL window on cancellation.
	GracePeriod time.Duration

	Timeouts Timeouts
}

// Advisor produces optional convergence verdicts. A nil verdict means
// "no advice" and is never an error.
type Advisor interface {
	Advise(runID string, iter int) *datatypes.ConvergenceVerdict
}

// Service executes stage operations against one workspace.
type Service struct {
	layout  *workspace.Layout
	sup     worker.Supervisor
	advisor Advisor
	cfg     Config
	logger  *slog.Logger
}

// NewService builds a stage Service. advisor may be nil to disable
// convergence advice entirely.
func NewService(layout *workspace.Layout, sup worker.Supervisor, advisor Advisor, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{layout: layout, sup: sup, advisor: advisor, cfg: cfg, logger: logger}
}

// =============================================================================
// Worker Invocation
// =============================================================================

// streamState is the per-invocation capture slot. The last structured
// error message a worker emits beats its bare exit code; the slot
// lives only for one runWorker call and is read once after Wait.
type streamState struct {
	lastErrMsg string
	doneSeen   bool
}

// runWorker runs one worker to completion under the given timeout.
//
// Every stdout line is interpreted as a stream event: structured
// records pass through typed, anything else becomes an opaque log
// event, and stderr lines become log events too. emit (when non-nil)
// receives events serially, in worker output order per stream.
func (s *Service) runWorker(ctx context.Context, stageName string, timeout time.Duration, spec worker.Spec, emit func(datatypes.Event)) (*streamState, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if spec.GracePeriod == 0 {
		spec.GracePeriod = s.cfg.GracePeriod
	}

	state := &streamState{}

	// stdout and stderr arrive on separate goroutines; one mutex
	// serializes state updates and emit calls.
	var mu sync.Mutex
	handle, err := s.sup.Spawn(ctx, spec, worker.Callbacks{
		OnLine: func(line string) {
			mu.Lock()
			defer mu.Unlock()
			ev, ok := datatypes.ParseEventLine(line)
			if !ok {
				ev = datatypes.LogEvent(line)
			}
			switch ev.Kind {
			case datatypes.KindError:
				state.lastErrMsg = ev.Message
			case datatypes.KindDone:
				state.doneSeen = true
			}
			if emit != nil {
				emit(ev)
			}
		},
		OnStderrLine: func(line string) {
			mu.Lock()
			defer mu.Unlock()
			s.logger.Debug("worker stderr", "stage", stageName, "line", line)
			if emit != nil {
				emit(datatypes.LogEvent(line))
			}
		},
	})
	if err != nil {
		return nil, err
	}

	waitErr := handle.Wait()
	if waitErr == nil {
		return state, nil
	}

	// Timeout and cancellation outrank anything the worker said.
	if errors.Is(waitErr, worker.ErrTimeout) || errors.Is(waitErr, worker.ErrCanceled) {
		return state, waitErr
	}
	if state.lastErrMsg != "" {
		return state, &WorkerError{Message: state.lastErrMsg, Hint: recognizeHint(state.lastErrMsg)}
	}
	return state, waitErr
}

// scriptSpec builds the invocation for one worker script.
func (s *Service) scriptSpec(script string, args []string, env map[string]string) worker.Spec {
	return worker.Spec{
		Command: s.cfg.PythonBin,
		Args:    append([]string{script}, args...),
		Env:     env,
		Dir:     s.cfg.ScriptsDir,
	}
}
