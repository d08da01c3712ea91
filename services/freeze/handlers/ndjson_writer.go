// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
)

// =============================================================================
// Interface Definition
// =============================================================================

// NDJSONWriter writes line-delimited JSON events to a streaming HTTP
// response.
//
// # Description
//
// Each event becomes exactly one JSON object on one line, flushed
// immediately so the browser sees progress while a worker is still
// running. Events appear on the wire in the exact order WriteEvent is
// called; interleaving beyond that is the caller's responsibility.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Stage code emits
// from worker pump goroutines.
//
// # Limitations
//
//   - Must be backed by an http.Flusher-compatible ResponseWriter
//   - Headers must be set before the first write
type NDJSONWriter interface {
	// WriteEvent serializes one event and flushes it.
	WriteEvent(event datatypes.Event) error
}

// =============================================================================
// Gin Implementation
// =============================================================================

// ndjsonWriter is the gin-backed NDJSONWriter.
type ndjsonWriter struct {
	mu      sync.Mutex
	writer  gin.ResponseWriter
	flusher http.Flusher
}

// NewNDJSONWriter prepares c's response for NDJSON streaming and
// returns a writer over it. Fails when the underlying ResponseWriter
// cannot flush, since unflushable streaming is just buffering.
func NewNDJSONWriter(c *gin.Context) (NDJSONWriter, error) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	c.Writer.Header().Set("Content-Type", "application/x-ndjson")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	return &ndjsonWriter{writer: c.Writer, flusher: flusher}, nil
}

// WriteEvent writes one event line and flushes.
func (w *ndjsonWriter) WriteEvent(event datatypes.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := w.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}
