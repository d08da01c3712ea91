// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worker

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkedReader re-segments its payload into fixed-size chunks so
// tests can prove line delivery is independent of chunk boundaries.
type chunkedReader struct {
	data  []byte
	chunk int
	pos   int
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := r.chunk
	if n > len(p) {
		n = len(p)
	}
	if r.pos+n > len(r.data) {
		n = len(r.data) - r.pos
	}
	copy(p, r.data[r.pos:r.pos+n])
	r.pos += n
	return n, nil
}

func TestScanStream_ChunkingDoesNotChangeLines(t *testing.T) {
	t.Parallel()

	payload := "first line\n{\"kind\":\"progress\",\"epoch\":3}\nlast line without newline"
	want := []string{
		"first line",
		`{"kind":"progress","epoch":3}`,
		"last line without newline",
	}

	// 1 byte at a time, odd sizes, and bigger than the payload must
	// all produce the identical line sequence.
	for _, chunk := range []int{1, 3, 7, 16, 1024} {
		var got []string
		err := scanStream(&chunkedReader{data: []byte(payload), chunk: chunk}, func(line string) {
			got = append(got, line)
		})
		require.NoError(t, err, "chunk size %d", chunk)
		assert.Equal(t, want, got, "chunk size %d", chunk)
	}
}

func TestScanStream_EmptyStream(t *testing.T) {
	t.Parallel()

	calls := 0
	err := scanStream(strings.NewReader(""), func(string) { calls++ })
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestMergeEnv(t *testing.T) {
	t.Parallel()

	parent := []string{"PATH=/usr/bin", "HOME=/home/u"}
	merged := mergeEnv(parent, map[string]string{"RUN_ID": "r1"})
	assert.Contains(t, merged, "PATH=/usr/bin")
	assert.Contains(t, merged, "RUN_ID=r1")

	// No overlay returns the parent untouched.
	assert.Equal(t, parent, mergeEnv(parent, nil))
}

func TestExecSupervisor_DeliversLinesInOrder(t *testing.T) {
	t.Parallel()

	sup := NewExecSupervisor()
	var lines []string
	h, err := sup.Spawn(context.Background(), Spec{
		Command: "sh",
		Args:    []string{"-c", `printf 'one\ntwo\n'; printf 'tail-no-newline'`},
	}, Callbacks{OnLine: func(line string) { lines = append(lines, line) }})
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	assert.Equal(t, []string{"one", "two", "tail-no-newline"}, lines)
}

func TestExecSupervisor_StderrIsSeparate(t *testing.T) {
	t.Parallel()

	sup := NewExecSupervisor()
	var out, errLines []string
	h, err := sup.Spawn(context.Background(), Spec{
		Command: "sh",
		Args:    []string{"-c", `echo out; echo diag >&2`},
	}, Callbacks{
		OnLine:       func(line string) { out = append(out, line) },
		OnStderrLine: func(line string) { errLines = append(errLines, line) },
	})
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	assert.Equal(t, []string{"out"}, out)
	assert.Equal(t, []string{"diag"}, errLines)
}

func TestExecSupervisor_SpawnFailure(t *testing.T) {
	t.Parallel()

	sup := NewExecSupervisor()
	_, err := sup.Spawn(context.Background(), Spec{
		Command: "/nonexistent/worker-binary",
	}, Callbacks{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawnFailed)
}

func TestExecSupervisor_NonZeroExit(t *testing.T) {
	t.Parallel()

	sup := NewExecSupervisor()
	h, err := sup.Spawn(context.Background(), Spec{
		Command: "sh",
		Args:    []string{"-c", "exit 3"},
	}, Callbacks{})
	require.NoError(t, err)

	err = h.Wait()
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.Code)
}

func TestExecSupervisor_Timeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	sup := NewExecSupervisor()
	h, err := sup.Spawn(ctx, Spec{
		Command:     "sleep",
		Args:        []string{"30"},
		GracePeriod: time.Second,
	}, Callbacks{})
	require.NoError(t, err)

	err = h.Wait()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExecSupervisor_CancelTerminatesWorker(t *testing.T) {
	t.Parallel()

	sup := NewExecSupervisor()
	h, err := sup.Spawn(context.Background(), Spec{
		Command:     "sleep",
		Args:        []string{"30"},
		GracePeriod: 2 * time.Second,
	}, Callbacks{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- h.Wait() }()

	h.Cancel()
	h.Cancel() // idempotent

	select {
	case err := <-done:
		require.Error(t, err, "SIGTERM must end the worker")
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not terminate within the grace period")
	}

	h.Cancel() // safe after exit
}

func TestExecSupervisor_CallerCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	sup := NewExecSupervisor()
	h, err := sup.Spawn(ctx, Spec{
		Command:     "sleep",
		Args:        []string{"30"},
		GracePeriod: time.Second,
	}, Callbacks{})
	require.NoError(t, err)

	cancel()
	err = h.Wait()
	assert.ErrorIs(t, err, ErrCanceled)
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestExecSupervisor_EnvOverlayReachesWorker(t *testing.T) {
	t.Parallel()

	sup := NewExecSupervisor()
	var lines []string
	h, err := sup.Spawn(context.Background(), Spec{
		Command: "sh",
		Args:    []string{"-c", `echo "$RUN_ID/$ITER"`},
		Env:     map[string]string{"RUN_ID": "r42", "ITER": "2"},
	}, Callbacks{OnLine: func(line string) { lines = append(lines, line) }})
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	assert.Equal(t, []string{"r42/2"}, lines)
}
