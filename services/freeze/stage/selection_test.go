// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
)

func TestSelect_Preconditions(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	_, err := f.svc.Select(context.Background(), "run-1", 0, datatypes.SelectRequest{})
	require.ErrorIs(t, err, ErrPreconditionFailed)

	f.seedDataset(t, "run-1")
	_, err = f.svc.Select(context.Background(), "run-1", 0, datatypes.SelectRequest{})
	require.ErrorIs(t, err, ErrPreconditionFailed)

	assert.Zero(t, f.mock.SpawnCount())
}

func TestSelect_TopK(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedDataset(t, "run-1")
	models := f.seedCommittee(t, "run-1", 1, 2)
	f.scripted(nil, "Selected 10 most uncertain structures.")

	resp, err := f.svc.Select(context.Background(), "run-1", 1, datatypes.SelectRequest{K: 10, Device: "cuda"})
	require.NoError(t, err)

	assert.Equal(t, 10, resp.K)
	assert.Equal(t, models, resp.Models)
	assert.Equal(t, f.layout.ToLabelPath("run-1", 1), resp.ToLabelPath)

	spec := f.mock.GetCalls()[0]
	assert.Equal(t, scriptSelect, spec.Args[0])
	assert.Contains(t, spec.Args, "--pool_xyz")
	assert.Contains(t, spec.Args, "--out_selected")
	assert.Contains(t, spec.Args, resp.ToLabelPath)
	assert.Contains(t, spec.Args, "--k")
	assert.Contains(t, spec.Args, "10")
	assert.Contains(t, spec.Args, "cuda")
}

func TestSelect_DefaultK(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedDataset(t, "run-1")
	f.seedCommittee(t, "run-1", 0, 2)
	f.scripted(nil)

	resp, err := f.svc.Select(context.Background(), "run-1", 0, datatypes.SelectRequest{})
	require.NoError(t, err)
	assert.Equal(t, defaultSelectK, resp.K)
}

// Selection resolves checkpoints itself at call time. A checkpoint
// replaced after disagreement ran must be the one selection hands to
// its worker.
func TestSelect_ReResolvesCheckpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.seedDataset(t, "run-1")
	f.seedCommittee(t, "run-1", 0, 2)

	// A later canonical file appears in replica c0 after the earlier
	// stage resolved.
	newBest := filepath.Join(f.layout.ReplicaCheckpointsDir("run-1", 0, 0), "best.pt")
	writeFile(t, newBest, "newer weights")

	f.scripted(nil)
	resp, err := f.svc.Select(context.Background(), "run-1", 0, datatypes.SelectRequest{})
	require.NoError(t, err)

	assert.Equal(t, newBest, resp.Models[0])
	assert.Contains(t, f.mock.GetCalls()[0].Args, newBest)
}
