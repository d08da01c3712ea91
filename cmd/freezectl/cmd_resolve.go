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

	"github.com/latticeforge/macefreeze/services/freeze/checkpoint"
)

// resolveCmd runs the checkpoint resolver locally, without a
// controller. Useful for checking which checkpoint a stage would pick
// up from a training directory.
var resolveCmd = &cobra.Command{
	Use:   "resolve [checkpoints-dir]",
	Short: "Resolve the preferred checkpoint in a local directory",
	Long: `Applies the controller's checkpoint resolution order to a local
directory: best.pt wins, then the highest epoch number in the
filename, then the newest file.`,
	Args: cobra.ExactArgs(1),
	Run:  runResolveCommand,
}

func runResolveCommand(cmd *cobra.Command, args []string) {
	dir := args[0]
	path, err := checkpoint.Resolve(dir)
	if err != nil {
		logger.Error("resolution failed", "dir", dir, "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if path == "" {
		fmt.Printf("No checkpoint found in %s\n", dir)
		os.Exit(1)
	}
	fmt.Println(path)
}
