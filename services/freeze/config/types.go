// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the Freeze controller configuration.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML duration
// strings ("4h", "90s") or bare integers (seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	// An int scalar also decodes cleanly into a string ("45"), which
	// ParseDuration then rejects, so the integer form is tried first.
	var asSeconds int64
	if err := value.Decode(&asSeconds); err == nil {
		*d = Duration(time.Duration(asSeconds) * time.Second)
		return nil
	}
	var asString string
	if err := value.Decode(&asString); err != nil {
		return fmt.Errorf("duration must be a string like \"30m\" or an integer second count")
	}
	parsed, perr := time.ParseDuration(asString)
	if perr != nil {
		return fmt.Errorf("invalid duration %q: %w", asString, perr)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// FreezeConfig is the controller's full configuration.
type FreezeConfig struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server"`

	// Workspace configures the on-disk run layout.
	Workspace WorkspaceConfig `yaml:"workspace"`

	// Workers configures the external worker processes.
	Workers WorkersConfig `yaml:"workers"`

	// Timeouts bound each stage's worker wall clock.
	Timeouts TimeoutsConfig `yaml:"timeouts"`

	// RateLimit throttles stage requests.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`
}

type WorkspaceConfig struct {
	// Root holds all run directories.
	Root string `yaml:"root" validate:"required"`
}

type WorkersConfig struct {
	// PythonBin is the interpreter for worker scripts.
	PythonBin string `yaml:"python_bin" validate:"required"`

	// ScriptsDir holds the worker scripts.
	ScriptsDir string `yaml:"scripts_dir" validate:"required"`

	// GracePeriod is the SIGTERM-to-SIGKILL window.
	GracePeriod Duration `yaml:"grace_period"`
}

// TimeoutsConfig carries per-stage wall clock limits. Minimums (see
// Load) keep a fat-fingered config from killing every worker
// instantly; training gets hours, labeling minutes, the rest can be
// short.
type TimeoutsConfig struct {
	Train        Duration `yaml:"train"`
	Split        Duration `yaml:"split"`
	Disagreement Duration `yaml:"disagreement"`
	Select       Duration `yaml:"select"`
	Label        Duration `yaml:"label"`
	Preview      Duration `yaml:"preview"`
	Export       Duration `yaml:"export"`
}

type RateLimitConfig struct {
	// RequestsPerSecond refills the stage token bucket.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gt=0"`

	// Burst is the bucket size.
	Burst int `yaml:"burst" validate:"min=1"`
}

// Default returns the stock configuration.
func Default() FreezeConfig {
	return FreezeConfig{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8092,
		},
		Workspace: WorkspaceConfig{
			Root: "runs_web",
		},
		Workers: WorkersConfig{
			PythonBin:   "python3",
			ScriptsDir:  "MACE_Freeze",
			GracePeriod: Duration(10 * time.Second),
		},
		Timeouts: TimeoutsConfig{
			Train:        Duration(4 * time.Hour),
			Split:        Duration(5 * time.Minute),
			Disagreement: Duration(30 * time.Minute),
			Select:       Duration(30 * time.Minute),
			Label:        Duration(2 * time.Hour),
			Preview:      Duration(2 * time.Minute),
			Export:       Duration(5 * time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			Burst:             10,
		},
	}
}
