// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
	"github.com/latticeforge/macefreeze/services/freeze/worker"
)

// scriptedExport installs a SpawnFunc that simulates the export worker:
// it writes the output checkpoint and plan report, then exits cleanly.
func (f *fixture) scriptedExport(t *testing.T, runID string, iter, replica int, plan string) {
	t.Helper()
	f.mock.SpawnFunc = func(ctx context.Context, spec worker.Spec, cb worker.Callbacks) (worker.Handle, error) {
		writeFile(t, f.layout.FrozenCheckpointPath(runID, iter, replica), "frozen-weights")
		writeFile(t, f.layout.FreezePlanPath(runID, iter, replica), plan)
		h := &worker.ScriptedHandle{}
		h.Play(cb, "Done.")
		return h, nil
	}
}

func TestExport_RewritesCanonicalCheckpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	paths := f.seedCommittee(t, "run-1", 0, 2)
	f.scriptedExport(t, "run-1", 0, 0,
		`{"freeze_patterns":["embedding"],"unfreeze_patterns":[],`+
			`"num_total_params":120,"num_frozen_params":40,`+
			`"frozen_keys_sample":["embedding.weight"]}`)

	resp, err := f.svc.Export(context.Background(), "run-1", 0, datatypes.ExportRequest{})
	require.NoError(t, err)

	assert.Equal(t, paths[0], resp.SourceCheckpoint)
	assert.Equal(t, f.layout.FrozenCheckpointPath("run-1", 0, 0), resp.FrozenCheckpoint)
	assert.FileExists(t, resp.FrozenCheckpoint)
	assert.Equal(t, 120, resp.Plan.NumTotalParams)
	assert.Equal(t, 40, resp.Plan.NumFrozenParams)
	assert.Equal(t, []string{"embedding.weight"}, resp.Plan.FrozenKeysSample)

	args := f.mock.GetCalls()[0].Args
	assert.Equal(t, scriptExport, args[0])
	assert.Contains(t, args, "--in_ckpt")
	assert.Contains(t, args, paths[0])
	assert.Contains(t, args, "--out_ckpt")
	assert.Contains(t, args, resp.FrozenCheckpoint)
	assert.Contains(t, args, "--freeze")
	assert.Contains(t, args, "embedding", "export should freeze embeddings when no pattern is given")
	assert.NotContains(t, args, "--unfreeze")
}

func TestExport_ForwardsPatterns(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedCommittee(t, "run-1", 3, 2)
	f.scriptedExport(t, "run-1", 3, 1,
		`{"freeze_patterns":["interactions"],"unfreeze_patterns":["readout"],`+
			`"num_total_params":50,"num_frozen_params":30}`)

	resp, err := f.svc.Export(context.Background(), "run-1", 3, datatypes.ExportRequest{
		Replica:          1,
		FreezePatterns:   []string{"interactions"},
		UnfreezePatterns: []string{"readout"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Replica)

	args := f.mock.GetCalls()[0].Args
	assert.Contains(t, args, "interactions")
	assert.Contains(t, args, "--unfreeze")
	assert.Contains(t, args, "readout")
	assert.NotContains(t, args, "embedding")
}

func TestExport_WithoutTrainedReplicaFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.Export(context.Background(), "run-1", 0, datatypes.ExportRequest{})
	require.ErrorIs(t, err, ErrPreconditionFailed)
	assert.Zero(t, f.mock.SpawnCount())
}

func TestExport_MissingOutputIsAnError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedCommittee(t, "run-1", 0, 2)
	// Worker exits cleanly without writing anything.
	f.scripted(nil, "Done.")

	_, err := f.svc.Export(context.Background(), "run-1", 0, datatypes.ExportRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wrote no checkpoint")
}

func TestExport_WorkerErrorRelays(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedCommittee(t, "run-1", 0, 2)
	f.scripted(&worker.ExitError{Code: 1},
		`{"kind":"error","message":"corrupt checkpoint header"}`)

	_, err := f.svc.Export(context.Background(), "run-1", 0, datatypes.ExportRequest{})
	var werr *WorkerError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, "corrupt checkpoint header", werr.Message)
}
