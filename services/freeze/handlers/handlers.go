// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers exposes the Freeze controller over HTTP.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
	"github.com/latticeforge/macefreeze/services/freeze/stage"
	"github.com/latticeforge/macefreeze/services/freeze/worker"
	"github.com/latticeforge/macefreeze/services/freeze/workspace"
)

// ServiceVersion is reported by the info endpoint.
const ServiceVersion = "1.0.0"

// Error codes in the JSON error envelope.
const (
	CodeInvalidIdentifier  = "INVALID_IDENTIFIER"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodePreconditionFailed = "PRECONDITION_FAILED"
	CodeWorkerError        = "WORKER_ERROR"
	CodeSpawnFailed        = "SPAWN_FAILED"
	CodeTimeout            = "TIMEOUT"
	CodeInternal           = "INTERNAL"
)

// Handler carries the stage service into gin handlers.
type Handler struct {
	stages *stage.Service
	logger *slog.Logger
}

// New builds the HTTP handler set.
func New(stages *stage.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{stages: stages, logger: logger}
}

// Health answers liveness probes.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, datatypes.HealthResponse{Status: "ok", Service: "freeze"})
}

// Info describes the API at the root path.
func (h *Handler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, datatypes.InfoResponse{
		Name:    "MACE Freeze controller",
		Version: ServiceVersion,
		Endpoints: map[string]string{
			"health":       "GET /health",
			"metrics":      "GET /metrics",
			"create_run":   "POST /v1/freeze/runs",
			"split":        "POST /v1/freeze/runs/:runId/split",
			"train":        "POST /v1/freeze/runs/:runId/iterations/:iter/train",
			"disagreement": "POST /v1/freeze/runs/:runId/iterations/:iter/disagreement",
			"select":       "POST /v1/freeze/runs/:runId/iterations/:iter/select",
			"label":        "POST /v1/freeze/runs/:runId/iterations/:iter/label",
			"append":       "POST /v1/freeze/runs/:runId/iterations/:iter/append",
			"export":       "POST /v1/freeze/runs/:runId/iterations/:iter/export",
			"checkpoints":  "GET /v1/freeze/runs/:runId/iterations/:iter/checkpoints",
			"preview":      "POST /v1/freeze/preview",
		},
	})
}

// classify maps a stage error to an HTTP status and envelope code.
//
// Identifier and precondition problems are the caller's to fix.
// Worker-reported errors are server faults unless the message matched
// a recognized configuration problem; timeouts get their own status so
// callers can distinguish "worker too slow" from "worker broken".
func classify(err error) (int, string) {
	var workerErr *stage.WorkerError
	var exitErr *worker.ExitError

	switch {
	case errors.Is(err, workspace.ErrInvalidIdentifier):
		return http.StatusBadRequest, CodeInvalidIdentifier
	case errors.Is(err, stage.ErrPreconditionFailed):
		return http.StatusBadRequest, CodePreconditionFailed
	case errors.As(err, &workerErr):
		if workerErr.Recognized() {
			return http.StatusBadRequest, CodeWorkerError
		}
		return http.StatusInternalServerError, CodeWorkerError
	case errors.Is(err, worker.ErrTimeout):
		return http.StatusGatewayTimeout, CodeTimeout
	case errors.Is(err, worker.ErrSpawnFailed):
		return http.StatusInternalServerError, CodeSpawnFailed
	case errors.As(err, &exitErr):
		return http.StatusInternalServerError, CodeWorkerError
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// metricStatus folds an error into a metrics label value.
func metricStatus(err error) string {
	if err == nil {
		return "success"
	}
	status, code := classify(err)
	switch {
	case code == CodeTimeout:
		return "timeout"
	case status == http.StatusBadRequest:
		return "client_error"
	default:
		return "worker_error"
	}
}

// abortWithError writes the JSON error envelope for a failed stage.
func (h *Handler) abortWithError(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("stage failed", "path", c.FullPath(), "code", code, "error", err)
	} else {
		h.logger.Info("stage rejected", "path", c.FullPath(), "code", code, "error", err)
	}
	c.JSON(status, datatypes.ErrorResponse{Error: err.Error(), Code: code})
}

// iterParam parses the :iter path segment.
func iterParam(c *gin.Context) (int, bool) {
	iter, err := strconv.Atoi(c.Param("iter"))
	if err != nil || iter < 0 {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Error: "iteration must be a non-negative integer",
			Code:  CodeInvalidIdentifier,
		})
		return 0, false
	}
	return iter, true
}
