// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeFile creates a file with the given mtime offset from a fixed base,
// so epoch ties are broken deterministically.
func writeFile(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("ckpt"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	mtime := base.Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

func TestResolve_BestFastPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "c0_run-0_epoch-99.pt", 0)
	best := writeFile(t, dir, "best.pt", 24*time.Hour)

	got, err := Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	// best.pt wins even though it is older and an epoch-99 file exists.
	if got != best {
		t.Errorf("expected %q, got %q", best, got)
	}
}

func TestResolve_MissingDir(t *testing.T) {
	t.Parallel()

	got, err := Resolve(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty result, got %q", got)
	}
}

func TestResolve_EmptyDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "notes.txt", 0)

	got, err := Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != "" {
		t.Errorf("expected empty result, got %q", got)
	}
}

func TestResolve_HighestEpochWins(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "c0_run-0_epoch-3.pt", 0) // newest but lower epoch
	want := writeFile(t, dir, "c0_run-0_epoch-12.pt", time.Hour)
	writeFile(t, dir, "c0_run-0_epoch-7.pt", 2*time.Hour)

	got, err := Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestResolve_EpochTieBrokenByMtime(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "a_epoch-5.pt", time.Hour)
	want := writeFile(t, dir, "b_epoch-5.pt", 0) // same epoch, newer

	got, err := Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestResolve_NoEpochRanksBelowEpoch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeFile(t, dir, "snapshot.pt", 0) // no epoch → -1, even though newest
	want := writeFile(t, dir, "c0_epoch-0.pt", time.Hour)

	got, err := Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestResolve_CaseInsensitiveExtensionAndPattern(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	want := writeFile(t, dir, "C0_EPOCH-8.PT", 0)
	writeFile(t, dir, "c0_epoch-2.pt", time.Hour)

	got, err := Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestResolveAll_SkipsEmptyReplicas(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	d0 := filepath.Join(root, "c0", "checkpoints")
	d1 := filepath.Join(root, "c1", "checkpoints")
	d2 := filepath.Join(root, "c2", "checkpoints") // never created
	if err := os.MkdirAll(d0, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(d1, 0o755); err != nil {
		t.Fatal(err)
	}
	p0 := writeFile(t, d0, "best.pt", 0)
	p1 := writeFile(t, d1, "c1_epoch-4.pt", 0)

	got, err := ResolveAll([]string{d0, d1, d2})
	if err != nil {
		t.Fatalf("ResolveAll failed: %v", err)
	}
	if len(got) != 2 || got[0] != p0 || got[1] != p1 {
		t.Errorf("unexpected resolution: %v", got)
	}
}

func TestEpochOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		want int
	}{
		{"c0_run-0_epoch-15.pt", 15},
		{"x_epoch-0.pt", 0},
		{"X_EPOCH-3.PT", 3},
		{"best.pt", -1},
		{"epoch-5.txt", -1},
		{"epoch-.pt", -1},
	}
	for _, tc := range cases {
		if got := epochOf(tc.name); got != tc.want {
			t.Errorf("epochOf(%q): expected %d, got %d", tc.name, tc.want, got)
		}
	}
}
