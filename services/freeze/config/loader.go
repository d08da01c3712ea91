// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Env overrides applied after the file is read.
const (
	envPort          = "FREEZE_PORT"
	envWorkspaceRoot = "FREEZE_WORKSPACE_ROOT"
	envPythonBin     = "FREEZE_PYTHON_BIN"
	envScriptsDir    = "FREEZE_SCRIPTS_DIR"
)

// Load reads the config file at path, fills in defaults, applies env
// overrides, and validates the result. An empty path or a missing file
// yields the defaults (plus overrides), not an error; the controller
// must come up configless for local use.
func Load(path string) (FreezeConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to defaults
		case err != nil:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateTimeouts(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Timeout floors. Anything lower is assumed to be a config mistake.
var timeoutFloors = []struct {
	name  string
	get   func(TimeoutsConfig) Duration
	floor time.Duration
}{
	{"train", func(t TimeoutsConfig) Duration { return t.Train }, time.Minute},
	{"split", func(t TimeoutsConfig) Duration { return t.Split }, 10 * time.Second},
	{"disagreement", func(t TimeoutsConfig) Duration { return t.Disagreement }, 30 * time.Second},
	{"select", func(t TimeoutsConfig) Duration { return t.Select }, 30 * time.Second},
	{"label", func(t TimeoutsConfig) Duration { return t.Label }, time.Minute},
	{"preview", func(t TimeoutsConfig) Duration { return t.Preview }, 10 * time.Second},
	{"export", func(t TimeoutsConfig) Duration { return t.Export }, 10 * time.Second},
}

func validateTimeouts(cfg FreezeConfig) error {
	if cfg.Workers.GracePeriod.Std() < time.Second {
		return fmt.Errorf("invalid config: workers.grace_period %s is below 1s", cfg.Workers.GracePeriod.Std())
	}
	for _, f := range timeoutFloors {
		if got := f.get(cfg.Timeouts).Std(); got < f.floor {
			return fmt.Errorf("invalid config: timeouts.%s %s is below the %s floor", f.name, got, f.floor)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *FreezeConfig) {
	if v := os.Getenv(envPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv(envWorkspaceRoot); v != "" {
		cfg.Workspace.Root = v
	}
	if v := os.Getenv(envPythonBin); v != "" {
		cfg.Workers.PythonBin = v
	}
	if v := os.Getenv(envScriptsDir); v != "" {
		cfg.Workers.ScriptsDir = v
	}
}
