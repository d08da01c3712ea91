// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the wire types shared by the Freeze handlers,
// stage operations, and worker protocol.
package datatypes

import (
	"encoding/json"
	"strings"
)

// =============================================================================
// Stream Events
// =============================================================================

// EventKind discriminates stream events.
type EventKind string

// Event kinds emitted on the NDJSON stream and accepted from workers.
const (
	KindLog      EventKind = "log"
	KindProgress EventKind = "progress"
	KindDone     EventKind = "done"
	KindError    EventKind = "error"
)

// Event is one line of the worker stdout protocol and, unchanged, one
// line of the NDJSON response stream.
//
// # Description
//
// Only Kind is always present. The payload fields are kind-specific:
// log and error carry Message; progress carries Model/Epoch/Loss and
// the MAE pair; done carries completion metadata (workspace dir and
// produced checkpoint paths). Events pass through the controller in
// the exact order the worker wrote them.
type Event struct {
	Kind EventKind `json:"kind"`

	// Message is the payload for log and error events.
	Message string `json:"message,omitempty"`

	// Model names the committee replica a progress event belongs to
	// (c0, c1, ...). Empty for single-model training.
	Model string `json:"model,omitempty"`

	// Epoch/Loss/MAEEnergy/MAEForce are the progress payload.
	Epoch     *int     `json:"epoch,omitempty"`
	Loss      *float64 `json:"loss,omitempty"`
	MAEEnergy *float64 `json:"mae_energy,omitempty"`
	MAEForce  *float64 `json:"mae_force,omitempty"`

	// Completion metadata for done events.
	RunID       string   `json:"run_id,omitempty"`
	Iter        *int     `json:"iter,omitempty"`
	WorkDir     string   `json:"work_dir,omitempty"`
	Checkpoints []string `json:"checkpoints,omitempty"`
}

// parseShape accepts both the canonical "kind" discriminator and the
// legacy "event" key still emitted by older worker scripts.
type parseShape struct {
	Kind        string   `json:"kind"`
	LegacyKind  string   `json:"event"`
	Message     string   `json:"message"`
	Model       string   `json:"model"`
	Epoch       *int     `json:"epoch"`
	Loss        *float64 `json:"loss"`
	MAEEnergy   *float64 `json:"mae_energy"`
	MAEForce    *float64 `json:"mae_force"`
	RunID       string   `json:"run_id"`
	Iter        *int     `json:"iter"`
	WorkDir     string   `json:"work_dir"`
	Checkpoints []string `json:"checkpoints"`
}

// ParseEventLine interprets one worker stdout line.
//
// # Description
//
// Returns (event, true) when the line is a structured record with a
// recognized kind. Anything else (free-form diagnostics, partial
// JSON, unknown kinds) returns ok=false and the caller wraps the raw
// line as an opaque log event. Workers are never required to emit
// structured lines.
func ParseEventLine(line string) (Event, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return Event{}, false
	}

	var shape parseShape
	if err := json.Unmarshal([]byte(trimmed), &shape); err != nil {
		return Event{}, false
	}

	kind := shape.Kind
	if kind == "" {
		kind = shape.LegacyKind
	}
	switch EventKind(kind) {
	case KindLog, KindProgress, KindDone, KindError:
	default:
		return Event{}, false
	}

	return Event{
		Kind:        EventKind(kind),
		Message:     shape.Message,
		Model:       shape.Model,
		Epoch:       shape.Epoch,
		Loss:        shape.Loss,
		MAEEnergy:   shape.MAEEnergy,
		MAEForce:    shape.MAEForce,
		RunID:       shape.RunID,
		Iter:        shape.Iter,
		WorkDir:     shape.WorkDir,
		Checkpoints: shape.Checkpoints,
	}, true
}

// LogEvent wraps a raw line as an opaque log event.
func LogEvent(message string) Event {
	return Event{Kind: KindLog, Message: message}
}

// ErrorEvent wraps a message as a terminal error event.
func ErrorEvent(message string) Event {
	return Event{Kind: KindError, Message: message}
}
