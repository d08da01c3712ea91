// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
	"github.com/latticeforge/macefreeze/services/freeze/handlers"
	"github.com/latticeforge/macefreeze/services/freeze/routes"
	"github.com/latticeforge/macefreeze/services/freeze/stage"
	"github.com/latticeforge/macefreeze/services/freeze/worker"
	"github.com/latticeforge/macefreeze/services/freeze/workspace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// webFixture runs the full router against a mock supervisor.
type webFixture struct {
	router *gin.Engine
	layout *workspace.Layout
	mock   *worker.MockSupervisor
}

func newWebFixture(t *testing.T) *webFixture {
	t.Helper()
	layout := workspace.NewLayout(t.TempDir())
	mock := &worker.MockSupervisor{}
	cfg := stage.Config{
		PythonBin:   "python3",
		ScriptsDir:  "/opt/freeze/scripts",
		GracePeriod: time.Second,
		Timeouts: stage.Timeouts{
			Train:        time.Minute,
			Split:        time.Minute,
			Disagreement: time.Minute,
			Select:       time.Minute,
			Label:        time.Minute,
			Preview:      time.Minute,
			Export:       time.Minute,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := stage.NewService(layout, mock, nil, cfg, logger)

	router := gin.New()
	routes.Register(router, handlers.New(svc, logger))

	return &webFixture{router: router, layout: layout, mock: mock}
}

func (f *webFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) datatypes.ErrorResponse {
	t.Helper()
	var resp datatypes.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func seedFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// seedCommittee gives the run two replicas with one checkpoint each.
func (f *webFixture) seedCommittee(t *testing.T, runID string, iter int) {
	t.Helper()
	for i := 0; i < 2; i++ {
		dir := f.layout.ReplicaCheckpointsDir(runID, iter, i)
		seedFile(t, filepath.Join(dir, "model_epoch-5.pt"), "weights")
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp datatypes.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "freeze", resp.Service)
}

func TestInfo(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	rec := f.do(t, http.MethodGet, "/", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp datatypes.InfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, handlers.ServiceVersion, resp.Version)
	assert.Contains(t, resp.Endpoints, "train")
	assert.Contains(t, resp.Endpoints, "preview")
}

func TestCreateRun_EmptyBody(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/freeze/runs", "")

	assert.Equal(t, http.StatusCreated, rec.Code)
	var resp datatypes.CreateRunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.RunID)
	assert.DirExists(t, resp.RunDir)
}

func TestCreateRun_MalformedBody(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/freeze/runs", "{not json")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, handlers.CodeInvalidRequest, decodeError(t, rec).Code)
}

func TestSplit_MissingInputPath(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/freeze/runs/demo/split", `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, handlers.CodeInvalidRequest, decodeError(t, rec).Code)
	assert.Zero(t, f.mock.SpawnCount())
}

func TestSplit_InvalidRunID(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	input := filepath.Join(t.TempDir(), "dataset.xyz")
	seedFile(t, input, "1\nframe\n")

	rec := f.do(t, http.MethodPost, "/v1/freeze/runs/bad!id/split",
		`{"input_path":"`+input+`"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, handlers.CodeInvalidIdentifier, decodeError(t, rec).Code)
	assert.Zero(t, f.mock.SpawnCount())
}

func TestIterParam_Rejected(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	for _, iter := range []string{"abc", "-1", "1.5"} {
		rec := f.do(t, http.MethodPost, "/v1/freeze/runs/demo/iterations/"+iter+"/select", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "iter=%s", iter)
		assert.Equal(t, handlers.CodeInvalidIdentifier, decodeError(t, rec).Code, "iter=%s", iter)
	}
	assert.Zero(t, f.mock.SpawnCount())
}

func TestDisagreement_PreconditionFailed(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/freeze/runs/demo/iterations/0/disagreement", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, handlers.CodePreconditionFailed, resp.Code)
	assert.Contains(t, resp.Error, "split")
	assert.Zero(t, f.mock.SpawnCount())
}

func TestDisagreement_EmptyBodySucceeds(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	seedFile(t, f.layout.PoolPath("demo"), "3\npool\n")
	f.seedCommittee(t, "demo", 0)

	artifact := `{"models":["a.pt","b.pt"],"per_structure":[{"i":0,"score":0.002},{"i":1,"score":0.004}]}`
	f.mock.SpawnFunc = func(ctx context.Context, spec worker.Spec, cb worker.Callbacks) (worker.Handle, error) {
		seedFile(t, f.layout.DisagreementPath("demo", 0), artifact)
		return &worker.ScriptedHandle{}, nil
	}

	rec := f.do(t, http.MethodPost, "/v1/freeze/runs/demo/iterations/0/disagreement", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp datatypes.DisagreementResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []float64{0.002, 0.004}, resp.Scores)
	assert.InDelta(t, 0.003, resp.Stats.Mean, 1e-12)
	// No advisor wired in this fixture.
	assert.Nil(t, resp.Convergence)
}

func TestSelect_WorkerTimeout(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	seedFile(t, f.layout.PoolPath("demo"), "3\npool\n")
	f.seedCommittee(t, "demo", 0)
	f.mock.SpawnFunc = func(ctx context.Context, spec worker.Spec, cb worker.Callbacks) (worker.Handle, error) {
		return &worker.ScriptedHandle{WaitErr: worker.ErrTimeout}, nil
	}

	rec := f.do(t, http.MethodPost, "/v1/freeze/runs/demo/iterations/0/select", "")

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Equal(t, handlers.CodeTimeout, decodeError(t, rec).Code)
}

func TestSelect_SpawnFailure(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	seedFile(t, f.layout.PoolPath("demo"), "3\npool\n")
	f.seedCommittee(t, "demo", 0)
	f.mock.SpawnFunc = func(ctx context.Context, spec worker.Spec, cb worker.Callbacks) (worker.Handle, error) {
		return nil, worker.ErrSpawnFailed
	}

	rec := f.do(t, http.MethodPost, "/v1/freeze/runs/demo/iterations/0/select", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, handlers.CodeSpawnFailed, decodeError(t, rec).Code)
}

func TestSelect_BareExitError(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	seedFile(t, f.layout.PoolPath("demo"), "3\npool\n")
	f.seedCommittee(t, "demo", 0)
	f.mock.SpawnFunc = func(ctx context.Context, spec worker.Spec, cb worker.Callbacks) (worker.Handle, error) {
		return &worker.ScriptedHandle{WaitErr: &worker.ExitError{Code: 3}}, nil
	}

	rec := f.do(t, http.MethodPost, "/v1/freeze/runs/demo/iterations/0/select", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, handlers.CodeWorkerError, decodeError(t, rec).Code)
}

func TestLabel_RecognizedWorkerError(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	seedFile(t, f.layout.ToLabelPath("demo", 0), "1\nselected\n")
	f.mock.SpawnFunc = func(ctx context.Context, spec worker.Spec, cb worker.Callbacks) (worker.Handle, error) {
		h := &worker.ScriptedHandle{WaitErr: &worker.ExitError{Code: 1}}
		h.Play(cb, `{"kind":"error","message":"pseudo_dir not found: /missing"}`)
		return h, nil
	}

	rec := f.do(t, http.MethodPost, "/v1/freeze/runs/demo/iterations/0/label",
		`{"reference":"qe","pseudo_dir":"/missing"}`)

	// A recognized environment problem is the caller's to fix.
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, handlers.CodeWorkerError, resp.Code)
	assert.Contains(t, resp.Error, "pseudo_dir not found")
	assert.Contains(t, resp.Error, "hint:")
}

func TestLabel_UnrecognizedWorkerError(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	seedFile(t, f.layout.ToLabelPath("demo", 0), "1\nselected\n")
	f.mock.SpawnFunc = func(ctx context.Context, spec worker.Spec, cb worker.Callbacks) (worker.Handle, error) {
		h := &worker.ScriptedHandle{WaitErr: &worker.ExitError{Code: 1}}
		h.Play(cb, `{"kind":"error","message":"ase import blew up"}`)
		return h, nil
	}

	rec := f.do(t, http.MethodPost, "/v1/freeze/runs/demo/iterations/0/label", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, handlers.CodeWorkerError, decodeError(t, rec).Code)
}

func TestCheckpoints(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	f.seedCommittee(t, "demo", 0)

	rec := f.do(t, http.MethodGet, "/v1/freeze/runs/demo/iterations/0/checkpoints", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp datatypes.CheckpointsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Replicas, 2)
	for _, r := range resp.Replicas {
		assert.True(t, r.Found)
		assert.NotEmpty(t, r.Path)
	}
}

// =============================================================================
// Train Stream
// =============================================================================

// streamEvents parses an NDJSON body into events.
func streamEvents(t *testing.T, rec *httptest.ResponseRecorder) []datatypes.Event {
	t.Helper()
	var events []datatypes.Event
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		var ev datatypes.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &ev), "line: %s", scanner.Text())
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestTrain_StreamsEventsInOrder(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	seedFile(t, f.layout.TrainPath("demo"), "1\ntrain\n")
	seedFile(t, f.layout.ValidPath("demo"), "1\nvalid\n")
	f.mock.SpawnFunc = func(ctx context.Context, spec worker.Spec, cb worker.Callbacks) (worker.Handle, error) {
		h := &worker.ScriptedHandle{}
		h.Play(cb,
			`{"kind":"log","message":"starting committee"}`,
			`{"kind":"progress","model":"c0","epoch":1,"loss":0.5}`,
			`{"kind":"done","run_id":"demo","iter":0}`,
		)
		return h, nil
	}

	rec := f.do(t, http.MethodPost, "/v1/freeze/runs/demo/iterations/0/train", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	events := streamEvents(t, rec)
	require.Len(t, events, 3)
	assert.Equal(t, datatypes.KindLog, events[0].Kind)
	assert.Equal(t, datatypes.KindProgress, events[1].Kind)
	assert.Equal(t, "c0", events[1].Model)
	assert.Equal(t, datatypes.KindDone, events[2].Kind)
}

// Failed preconditions are rejected before the stream opens, so the
// caller gets a regular 400 envelope rather than a 200 NDJSON body
// carrying a single error event.
func TestTrain_PreconditionFailedEnvelope(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/freeze/runs/demo/iterations/0/train", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEqual(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	resp := decodeError(t, rec)
	assert.Equal(t, handlers.CodePreconditionFailed, resp.Code)
	assert.Contains(t, resp.Error, "split")
	assert.Zero(t, f.mock.SpawnCount())
}

// Once the worker is running the 200 is committed; a mid-flight
// failure closes the stream with a terminal error event.
func TestTrain_WorkerFailureAsStreamError(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	seedFile(t, f.layout.TrainPath("demo"), "1\ntrain\n")
	seedFile(t, f.layout.ValidPath("demo"), "1\nvalid\n")
	f.mock.SpawnFunc = func(ctx context.Context, spec worker.Spec, cb worker.Callbacks) (worker.Handle, error) {
		h := &worker.ScriptedHandle{WaitErr: &worker.ExitError{Code: 1}}
		h.Play(cb,
			`{"kind":"log","message":"starting committee"}`,
			`{"kind":"error","message":"CUDA out of memory"}`,
		)
		return h, nil
	}

	rec := f.do(t, http.MethodPost, "/v1/freeze/runs/demo/iterations/0/train", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	events := streamEvents(t, rec)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, datatypes.KindError, last.Kind)
	assert.Contains(t, last.Message, "CUDA out of memory")
}

func TestTrain_BadIterIsEnvelopeNotStream(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/freeze/runs/demo/iterations/nope/train", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, handlers.CodeInvalidIdentifier, decodeError(t, rec).Code)
}

// =============================================================================
// Preview and Export
// =============================================================================

func TestPreview_RequiresOneForm(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/freeze/preview", `{"freeze_patterns":["embedding"]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, handlers.CodeInvalidRequest, resp.Code)
	assert.Contains(t, resp.Error, "checkpoint_path or run_id")
	assert.Zero(t, f.mock.SpawnCount())
}

func TestPreview_ResolvesFromRun(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	f.seedCommittee(t, "demo", 0)
	ckpt := filepath.Join(f.layout.ReplicaCheckpointsDir("demo", 0, 0), "model_epoch-5.pt")
	f.mock.SpawnFunc = func(ctx context.Context, spec worker.Spec, cb worker.Callbacks) (worker.Handle, error) {
		h := &worker.ScriptedHandle{}
		h.Play(cb, `{"checkpoint":"`+ckpt+`","freeze_patterns":["embedding"],"unfreeze_patterns":[],`+
			`"num_total_params":10,"num_frozen_params":4,"num_trainable_params":6}`)
		return h, nil
	}

	rec := f.do(t, http.MethodPost, "/v1/freeze/preview", `{"run_id":"demo","iter":0,"replica":0}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp datatypes.PreviewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ckpt, resp.Checkpoint)
}

func TestExport_RewritesCheckpoint(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	f.seedCommittee(t, "demo", 0)
	f.mock.SpawnFunc = func(ctx context.Context, spec worker.Spec, cb worker.Callbacks) (worker.Handle, error) {
		seedFile(t, f.layout.FrozenCheckpointPath("demo", 0, 0), "frozen")
		seedFile(t, f.layout.FreezePlanPath("demo", 0, 0),
			`{"freeze_patterns":["embedding"],"unfreeze_patterns":[],"num_total_params":10,"num_frozen_params":4}`)
		h := &worker.ScriptedHandle{}
		h.Play(cb, "Done.")
		return h, nil
	}

	rec := f.do(t, http.MethodPost, "/v1/freeze/runs/demo/iterations/0/export", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp datatypes.ExportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, f.layout.FrozenCheckpointPath("demo", 0, 0), resp.FrozenCheckpoint)
	assert.Equal(t, 4, resp.Plan.NumFrozenParams)
	assert.FileExists(t, resp.FrozenCheckpoint)
}

func TestExport_WithoutCheckpointFails(t *testing.T) {
	t.Parallel()

	f := newWebFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/freeze/runs/demo/iterations/0/export", "")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, handlers.CodePreconditionFailed, resp.Code)
	assert.Contains(t, resp.Error, "train")
	assert.Zero(t, f.mock.SpawnCount())
}
