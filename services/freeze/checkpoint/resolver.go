// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package checkpoint resolves the canonical model artifact inside a
// replica's checkpoints directory and watches for new artifacts while a
// trainer is running.
//
// # Description
//
// Different trainer versions leave different artifacts behind: some
// write a "best.pt", others keep only "<name>_epoch-<n>.pt" files, and
// a running trainer may be adding files while we look. The resolver
// never caches: every call re-reads the directory, so staleness is
// bounded by "read at call time".
//
// Resolution order:
//
//  1. A file named exactly "best.pt" wins outright.
//  2. No directory → no checkpoint (not an error).
//  3. Otherwise all *.pt files (extension matched case-insensitively)
//     are ranked by embedded epoch number descending (no epoch → -1),
//     ties broken by most recent modification time.
package checkpoint

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Ext is the checkpoint file extension (lowercase, with dot).
const Ext = ".pt"

// BestName is the canonical fast-path artifact name.
const BestName = "best" + Ext

// epochPattern extracts the epoch number from names like
// "c0_run-0_epoch-15.pt". Case-insensitive, anchored at the suffix.
var epochPattern = regexp.MustCompile(`(?i)epoch-(\d+)\.pt$`)

// candidate is one rankable checkpoint file.
type candidate struct {
	path  string
	epoch int
	mtime time.Time
}

// Resolve returns the canonical checkpoint path in dir, or "" when the
// directory is missing or holds no checkpoint files.
//
// # Description
//
// Implements the resolution order documented on the package. The
// result is recomputed from the filesystem on every call; callers that
// need consistency across two looks must not assume it.
//
// # Inputs
//
//   - dir: A checkpoints directory (may not exist).
//
// # Outputs
//
//   - string: Absolute-ish path of the canonical artifact, or "".
//   - error: Only for I/O failures other than "does not exist".
func Resolve(dir string) (string, error) {
	best := filepath.Join(dir, BestName)
	if info, err := os.Stat(best); err == nil && !info.IsDir() {
		return best, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}

	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.EqualFold(filepath.Ext(name), Ext) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// File vanished between ReadDir and Info; a trainer may be
			// rotating checkpoints underneath us.
			continue
		}
		candidates = append(candidates, candidate{
			path:  filepath.Join(dir, name),
			epoch: epochOf(name),
			mtime: info.ModTime(),
		})
	}
	if len(candidates) == 0 {
		return "", nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].epoch != candidates[j].epoch {
			return candidates[i].epoch > candidates[j].epoch
		}
		return candidates[i].mtime.After(candidates[j].mtime)
	})
	return candidates[0].path, nil
}

// ResolveAll resolves every directory in dirs, dropping the ones with
// no checkpoint. Used by stages that need a committee: the caller
// checks the returned count against its minimum.
func ResolveAll(dirs []string) ([]string, error) {
	resolved := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		path, err := Resolve(dir)
		if err != nil {
			return nil, err
		}
		if path != "" {
			resolved = append(resolved, path)
		}
	}
	return resolved, nil
}

// epochOf extracts the embedded epoch number, or -1 when absent.
func epochOf(name string) int {
	m := epochPattern.FindStringSubmatch(name)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return n
}
