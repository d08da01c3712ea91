// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
	"github.com/latticeforge/macefreeze/services/freeze/observability"
	"github.com/latticeforge/macefreeze/services/freeze/worker"
)

// bindJSON binds an optional JSON body. An empty body is fine; a
// malformed one is a client error.
func bindJSON(c *gin.Context, out any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(out); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  CodeInvalidRequest,
		})
		return false
	}
	return true
}

// CreateRun provisions a run workspace.
func (h *Handler) CreateRun(c *gin.Context) {
	var req datatypes.CreateRunRequest
	if !bindJSON(c, &req) {
		return
	}
	resp, err := h.stages.CreateRun(req)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Split divides an uploaded dataset into train/valid(/pool).
func (h *Handler) Split(c *gin.Context) {
	var req datatypes.SplitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  CodeInvalidRequest,
		})
		return
	}

	start := time.Now()
	resp, err := h.stages.Split(c.Request.Context(), c.Param("runId"), req)
	observability.ObserveStage("split", metricStatus(err), time.Since(start).Seconds())
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Train streams committee training events as NDJSON.
//
// Identifier and input-artifact failures are rejected with an error
// envelope before the status line is committed. Once the stream is
// open, failures surface as a terminal error event instead. Client
// disconnect cancels the request context, which terminates the worker.
func (h *Handler) Train(c *gin.Context) {
	iter, ok := iterParam(c)
	if !ok {
		return
	}
	var req datatypes.TrainRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.stages.TrainPrecheck(c.Param("runId"), iter, req); err != nil {
		observability.ObserveStage("train", metricStatus(err), 0)
		h.abortWithError(c, err)
		return
	}

	stream, err := NewNDJSONWriter(c)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	closeStream := observability.StreamOpened()
	defer closeStream()

	start := time.Now()
	err = h.stages.TrainCommittee(c.Request.Context(), c.Param("runId"), iter, req,
		func(ev datatypes.Event) {
			if werr := stream.WriteEvent(ev); werr != nil {
				h.logger.Debug("train stream write failed", "error", werr)
			}
		})
	observability.ObserveStage("train", metricStatus(err), time.Since(start).Seconds())
	if err != nil {
		// Suppress the cancellation event when the client is the one
		// who went away; nobody is listening.
		if errors.Is(err, worker.ErrCanceled) && c.Request.Context().Err() != nil {
			h.logger.Info("train stream abandoned by client", "run_id", c.Param("runId"), "iter", iter)
			return
		}
		if werr := stream.WriteEvent(datatypes.ErrorEvent(err.Error())); werr != nil {
			h.logger.Debug("train stream error event write failed", "error", werr)
		}
	}
}

// Disagreement scores the candidate pool.
func (h *Handler) Disagreement(c *gin.Context) {
	iter, ok := iterParam(c)
	if !ok {
		return
	}
	var req datatypes.DisagreementRequest
	if !bindJSON(c, &req) {
		return
	}

	start := time.Now()
	resp, err := h.stages.Disagreement(c.Request.Context(), c.Param("runId"), iter, req)
	observability.ObserveStage("disagreement", metricStatus(err), time.Since(start).Seconds())
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Select picks the top-K most uncertain structures.
func (h *Handler) Select(c *gin.Context) {
	iter, ok := iterParam(c)
	if !ok {
		return
	}
	var req datatypes.SelectRequest
	if !bindJSON(c, &req) {
		return
	}

	start := time.Now()
	resp, err := h.stages.Select(c.Request.Context(), c.Param("runId"), iter, req)
	observability.ObserveStage("select", metricStatus(err), time.Since(start).Seconds())
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Label attaches reference energies and forces.
func (h *Handler) Label(c *gin.Context) {
	iter, ok := iterParam(c)
	if !ok {
		return
	}
	var req datatypes.LabelRequest
	if !bindJSON(c, &req) {
		return
	}

	start := time.Now()
	resp, err := h.stages.Label(c.Request.Context(), c.Param("runId"), iter, req)
	observability.ObserveStage("label", metricStatus(err), time.Since(start).Seconds())
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Append folds labeled structures into the training set.
func (h *Handler) Append(c *gin.Context) {
	iter, ok := iterParam(c)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := h.stages.Append(c.Param("runId"), iter)
	observability.ObserveStage("append", metricStatus(err), time.Since(start).Seconds())
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Export rewrites a replica's canonical checkpoint with a recorded
// freeze plan.
func (h *Handler) Export(c *gin.Context) {
	iter, ok := iterParam(c)
	if !ok {
		return
	}
	var req datatypes.ExportRequest
	if !bindJSON(c, &req) {
		return
	}

	start := time.Now()
	resp, err := h.stages.Export(c.Request.Context(), c.Param("runId"), iter, req)
	observability.ObserveStage("export", metricStatus(err), time.Since(start).Seconds())
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Checkpoints reports each replica's resolvable checkpoint.
func (h *Handler) Checkpoints(c *gin.Context) {
	iter, ok := iterParam(c)
	if !ok {
		return
	}
	resp, err := h.stages.Checkpoints(c.Param("runId"), iter)
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Preview reports which parameters a freeze pattern set would freeze.
// The request either names a checkpoint path or a (run_id, iter,
// replica) triple for the server to resolve.
func (h *Handler) Preview(c *gin.Context) {
	var req datatypes.PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  CodeInvalidRequest,
		})
		return
	}
	if req.CheckpointPath == "" && req.RunID == "" {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Error: "either checkpoint_path or run_id is required",
			Code:  CodeInvalidRequest,
		})
		return
	}

	start := time.Now()
	resp, err := h.stages.Preview(c.Request.Context(), req)
	observability.ObserveStage("preview", metricStatus(err), time.Since(start).Seconds())
	if err != nil {
		h.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
