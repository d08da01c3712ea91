// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/latticeforge/macefreeze/services/freeze/config"
)

// requiredScripts are the worker entry points every stage depends on.
var requiredScripts = []string{
	"run_committee_web.py",
	"split_dataset.py",
	"split_dataset_pool.py",
	"model_disagreement.py",
	"mace_active_learning.py",
	"label_with_reference.py",
	"freeze_preview.py",
	"mace_freeze.py",
}

var checkenvConfigPath string

// checkenvCmd validates the worker environment before the controller
// is started: interpreter on PATH, scripts present, workspace
// writable. It catches the config mistakes that otherwise only show up
// as a failed first stage request.
var checkenvCmd = &cobra.Command{
	Use:   "checkenv",
	Short: "Validate the controller's worker environment",
	Run:   runCheckenvCommand,
}

func init() {
	checkenvCmd.Flags().StringVarP(&checkenvConfigPath, "config", "c",
		os.Getenv("FREEZE_CONFIG"), "Controller config file")
}

func runCheckenvCommand(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(checkenvConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config: FAIL (%v)\n", err)
		os.Exit(1)
	}
	fmt.Println("Config: OK")

	failures := 0

	if path, err := exec.LookPath(cfg.Workers.PythonBin); err != nil {
		fmt.Printf("Interpreter %s: FAIL (not found on PATH)\n", cfg.Workers.PythonBin)
		failures++
	} else {
		fmt.Printf("Interpreter %s: OK (%s)\n", cfg.Workers.PythonBin, path)
	}

	if info, err := os.Stat(cfg.Workers.ScriptsDir); err != nil || !info.IsDir() {
		fmt.Printf("Scripts dir %s: FAIL (not a directory)\n", cfg.Workers.ScriptsDir)
		failures++
	} else {
		missing := 0
		for _, script := range requiredScripts {
			if _, err := os.Stat(filepath.Join(cfg.Workers.ScriptsDir, script)); err != nil {
				fmt.Printf("  missing worker script: %s\n", script)
				missing++
			}
		}
		if missing == 0 {
			fmt.Printf("Scripts dir %s: OK (%d worker scripts)\n",
				cfg.Workers.ScriptsDir, len(requiredScripts))
		} else {
			fmt.Printf("Scripts dir %s: FAIL (%d missing)\n", cfg.Workers.ScriptsDir, missing)
			failures++
		}
	}

	if err := os.MkdirAll(cfg.Workspace.Root, 0o755); err != nil {
		fmt.Printf("Workspace root %s: FAIL (%v)\n", cfg.Workspace.Root, err)
		failures++
	} else {
		fmt.Printf("Workspace root %s: OK\n", cfg.Workspace.Root)
	}

	if failures > 0 {
		fmt.Fprintf(os.Stderr, "%d problem(s) found\n", failures)
		os.Exit(1)
	}
	fmt.Println("Environment looks good.")
}
