// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package worker

import (
	"context"
	"sync"
)

// MockSupervisor is a test double for Supervisor.
//
// Configure SpawnFunc before use; a nil SpawnFunc plays an immediately
// succeeding worker with no output. Calls records every invocation so
// tests can assert both what was spawned and that nothing was spawned
// at all (the precondition-failure contract).
type MockSupervisor struct {
	// SpawnFunc is called when Spawn is invoked.
	SpawnFunc func(ctx context.Context, spec Spec, cb Callbacks) (Handle, error)

	// Calls records all Spawn invocations for verification.
	Calls []Spec

	mu sync.Mutex
}

// Spawn delegates to SpawnFunc and records the call.
func (m *MockSupervisor) Spawn(ctx context.Context, spec Spec, cb Callbacks) (Handle, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, spec)
	m.mu.Unlock()
	if m.SpawnFunc == nil {
		return &ScriptedHandle{}, nil
	}
	return m.SpawnFunc(ctx, spec, cb)
}

// SpawnCount returns how many workers were spawned.
func (m *MockSupervisor) SpawnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// GetCalls returns a copy of all recorded calls.
func (m *MockSupervisor) GetCalls() []Spec {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Spec, len(m.Calls))
	copy(out, m.Calls)
	return out
}

// ScriptedHandle is a Handle whose outcome is scripted by a test.
//
// Lines are delivered synchronously from Play (call it before Wait, or
// from SpawnFunc after wiring callbacks). WaitErr is returned by Wait.
type ScriptedHandle struct {
	// WaitErr is what Wait returns (nil = clean exit).
	WaitErr error

	// Canceled records whether Cancel was invoked.
	Canceled bool

	mu sync.Mutex
}

// Play delivers scripted stdout lines through the given callbacks.
func (h *ScriptedHandle) Play(cb Callbacks, lines ...string) {
	for _, line := range lines {
		if cb.OnLine != nil {
			cb.OnLine(line)
		}
	}
}

// PlayStderr delivers scripted stderr lines.
func (h *ScriptedHandle) PlayStderr(cb Callbacks, lines ...string) {
	for _, line := range lines {
		if cb.OnStderrLine != nil {
			cb.OnStderrLine(line)
		}
	}
}

// Wait returns the scripted outcome.
func (h *ScriptedHandle) Wait() error {
	return h.WaitErr
}

// Cancel records the cancellation.
func (h *ScriptedHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Canceled = true
}

// Compile-time interface compliance check.
var (
	_ Supervisor = (*MockSupervisor)(nil)
	_ Handle     = (*ScriptedHandle)(nil)
)
