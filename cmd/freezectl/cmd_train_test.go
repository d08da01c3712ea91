// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
)

func intPtr(v int) *int         { return &v }
func f64Ptr(v float64) *float64 { return &v }

func TestRenderEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   datatypes.Event
		want string
	}{
		{
			name: "log passthrough",
			ev:   datatypes.LogEvent("starting committee"),
			want: "starting committee",
		},
		{
			name: "progress with all fields",
			ev: datatypes.Event{
				Kind:      datatypes.KindProgress,
				Model:     "c0",
				Epoch:     intPtr(3),
				Loss:      f64Ptr(0.12345),
				MAEEnergy: f64Ptr(11.5),
				MAEForce:  f64Ptr(21.25),
			},
			want: "[c0] epoch 3 loss=0.1235 mae_e=11.50 meV mae_f=21.25 meV/A",
		},
		{
			name: "progress without model",
			ev:   datatypes.Event{Kind: datatypes.KindProgress, Epoch: intPtr(1)},
			want: "epoch 1",
		},
		{
			name: "done with checkpoints",
			ev: datatypes.Event{
				Kind:        datatypes.KindDone,
				Checkpoints: []string{"/a/best.pt", "/b/best.pt"},
			},
			want: "Done. Checkpoints: /a/best.pt, /b/best.pt",
		},
		{
			name: "done bare",
			ev:   datatypes.Event{Kind: datatypes.KindDone},
			want: "Done.",
		},
		{
			name: "error",
			ev:   datatypes.ErrorEvent("worker exited with code 1"),
			want: "ERROR: worker exited with code 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, renderEvent(tt.ev))
		})
	}
}
