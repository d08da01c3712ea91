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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	splitInputPath     string
	splitWithPool      bool
	splitValidFraction float64
	splitPoolFraction  float64
	splitSeed          int

	checkpointsIter int
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Manage active learning runs on the controller",
}

var runCreateCmd = &cobra.Command{
	Use:   "create [run-id]",
	Short: "Create a run workspace (the controller mints an ID if omitted)",
	Args:  cobra.MaximumNArgs(1),
	Run:   runCreateCommand,
}

var runSplitCmd = &cobra.Command{
	Use:   "split [run-id]",
	Short: "Split an uploaded dataset into train/valid (and optionally a pool)",
	Long: `Splits a dataset that is already on the controller host into the run's
train and validation sets. With --with-pool a candidate pool is
reserved for active learning selection.`,
	Args: cobra.ExactArgs(1),
	Run:  runSplitCommand,
}

var runCheckpointsCmd = &cobra.Command{
	Use:   "checkpoints [run-id]",
	Short: "Show each committee replica's resolvable checkpoint",
	Args:  cobra.ExactArgs(1),
	Run:   runCheckpointsCommand,
}

func init() {
	runSplitCmd.Flags().StringVarP(&splitInputPath, "input", "i", "",
		"Dataset path on the controller host (required)")
	_ = runSplitCmd.MarkFlagRequired("input")
	runSplitCmd.Flags().BoolVar(&splitWithPool, "with-pool", false,
		"Reserve a candidate pool for active learning")
	runSplitCmd.Flags().Float64Var(&splitValidFraction, "valid-fraction", 0,
		"Validation fraction (default 0.1)")
	runSplitCmd.Flags().Float64Var(&splitPoolFraction, "pool-fraction", 0,
		"Pool fraction (default 0.2, pool splits only)")
	runSplitCmd.Flags().IntVar(&splitSeed, "seed", 0,
		"Shuffle seed (default 42)")

	runCheckpointsCmd.Flags().IntVar(&checkpointsIter, "iter", 0,
		"Iteration to inspect")

	runCmd.AddCommand(runCreateCmd)
	runCmd.AddCommand(runSplitCmd)
	runCmd.AddCommand(runCheckpointsCmd)
}

// =============================================================================
// COMMAND EXECUTION
// =============================================================================

func runCreateCommand(cmd *cobra.Command, args []string) {
	req := datatypes.CreateRunRequest{}
	if len(args) == 1 {
		req.RunID = args[0]
	}
	var resp datatypes.CreateRunResponse
	if err := postJSON(shortClient, "/v1/freeze/runs", req, &resp); err != nil {
		logger.Error("run create failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created run %s at %s\n", resp.RunID, resp.RunDir)
}

func runSplitCommand(cmd *cobra.Command, args []string) {
	runID := args[0]
	input, err := filepath.Abs(splitInputPath)
	if err != nil {
		input = splitInputPath
	}
	req := datatypes.SplitRequest{
		InputPath:     input,
		ValidFraction: splitValidFraction,
		PoolFraction:  splitPoolFraction,
		WithPool:      splitWithPool,
		Seed:          splitSeed,
	}

	var resp datatypes.SplitResponse
	if err := postJSON(apiClient, "/v1/freeze/runs/"+runID+"/split", req, &resp); err != nil {
		logger.Error("split failed", "run_id", runID, "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Split %d structures: %d train, %d valid", resp.Total, resp.Train, resp.Valid)
	if resp.Pool > 0 {
		fmt.Printf(", %d pool", resp.Pool)
	}
	fmt.Println()
}

func runCheckpointsCommand(cmd *cobra.Command, args []string) {
	runID := args[0]
	path := fmt.Sprintf("/v1/freeze/runs/%s/iterations/%d/checkpoints", runID, checkpointsIter)

	var resp datatypes.CheckpointsResponse
	if err := getJSON(shortClient, path, &resp); err != nil {
		logger.Error("checkpoints query failed", "run_id", runID, "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(resp.Replicas) == 0 {
		fmt.Printf("No replicas found for run %s iteration %d\n", runID, resp.Iter)
		return
	}
	for _, r := range resp.Replicas {
		if r.Found {
			fmt.Printf("c%d: %s\n", r.Replica, r.Path)
		} else {
			fmt.Printf("c%d: no checkpoint yet\n", r.Replica)
		}
	}
}
