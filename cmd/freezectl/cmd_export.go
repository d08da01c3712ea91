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

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	exportIter     int
	exportReplica  int
	exportFreeze   []string
	exportUnfreeze []string
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

var exportCmd = &cobra.Command{
	Use:   "export [run-id]",
	Short: "Rewrite a replica's checkpoint with a recorded freeze plan",
	Long: `Resolves the canonical checkpoint of one committee replica and writes
a copy with the freeze plan recorded in its metadata, ready to seed a
fine-tuning run. Without --freeze the embedding layers are frozen.`,
	Args: cobra.ExactArgs(1),
	Run:  exportCommand,
}

func init() {
	exportCmd.Flags().IntVar(&exportIter, "iter", 0, "Iteration whose checkpoint to export")
	exportCmd.Flags().IntVar(&exportReplica, "replica", 0, "Committee replica index")
	exportCmd.Flags().StringArrayVar(&exportFreeze, "freeze", nil,
		"Parameter pattern to freeze (repeatable; default embedding)")
	exportCmd.Flags().StringArrayVar(&exportUnfreeze, "unfreeze", nil,
		"Parameter pattern to keep trainable (repeatable)")
}

// =============================================================================
// COMMAND EXECUTION
// =============================================================================

func exportCommand(cmd *cobra.Command, args []string) {
	runID := args[0]
	req := datatypes.ExportRequest{
		Replica:          exportReplica,
		FreezePatterns:   exportFreeze,
		UnfreezePatterns: exportUnfreeze,
	}
	path := fmt.Sprintf("/v1/freeze/runs/%s/iterations/%d/export", runID, exportIter)

	var resp datatypes.ExportResponse
	if err := postJSON(apiClient, path, req, &resp); err != nil {
		logger.Error("export failed", "run_id", runID, "iter", exportIter, "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Frozen %d / %d parameters\n", resp.Plan.NumFrozenParams, resp.Plan.NumTotalParams)
	fmt.Printf("Source:  %s\n", resp.SourceCheckpoint)
	fmt.Printf("Written: %s\n", resp.FrozenCheckpoint)
	fmt.Println("Use this checkpoint when restarting training.")
}
