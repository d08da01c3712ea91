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

	"github.com/spf13/cobra"

	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
)

var healthJSONOutput bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the Freeze controller is up",
	Run:   runHealthCommand,
}

func init() {
	healthCmd.Flags().BoolVar(&healthJSONOutput, "json", false,
		"Output as JSON for scripting")
}

func runHealthCommand(cmd *cobra.Command, args []string) {
	var health datatypes.HealthResponse
	if err := getJSON(shortClient, "/health", &health); err != nil {
		logger.Error("health check failed", "server", serverURL, "error", err)
		fmt.Fprintf(os.Stderr, "Controller unreachable: %v\n", err)
		os.Exit(1)
	}

	var info datatypes.InfoResponse
	if err := getJSON(shortClient, "/", &info); err != nil {
		logger.Warn("info endpoint failed", "error", err)
	}

	if healthJSONOutput {
		_ = printJSON(map[string]any{"health": health, "info": info})
		return
	}
	fmt.Printf("Controller at %s: %s (%s v%s)\n", serverURL, health.Status, info.Name, info.Version)
}
