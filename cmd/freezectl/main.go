// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/latticeforge/macefreeze/pkg/logging"
)

var (
	rootCmd = &cobra.Command{
		Use:   "freezectl",
		Short: "A CLI for the MACE Freeze active learning controller",
		Long: `freezectl drives the Freeze controller: create runs, split datasets,
train committees, score disagreement, and inspect checkpoints, either
against a running controller or directly on a local workspace.`,
	}

	serverURL string
	logger    *logging.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

func init() {
	logDir := os.Getenv("FREEZECTL_LOG_DIR")
	var err error
	logger, err = logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  logDir,
		Service: "freezectl",
	})
	if err != nil {
		log.Fatalf("Error initializing logging: %v", err)
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("FREEZE_SERVER_URL", "http://localhost:8092"),
		"Base URL of the Freeze controller")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(checkenvCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
