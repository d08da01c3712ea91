// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	trainIter      int
	trainCommittee int
	trainEpochs    int
	trainDevice    string
	trainQuick     bool
	trainModelPath string
	trainFreeze    []string
	trainUnfreeze  []string
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// trainCmd streams committee training progress to the terminal.
//
// # Examples
//
//	freezectl train demo --iter 0
//	freezectl train demo --iter 1 --model runs_web/demo/iter_00/c0/best.pt \
//	    --freeze "embedding" --freeze "interactions.0"
var trainCmd = &cobra.Command{
	Use:   "train [run-id]",
	Short: "Train a MACE committee and stream progress",
	Long: `Starts committee training on the controller and relays its progress
stream. Interrupting freezectl closes the stream, which terminates the
training workers on the controller side.`,
	Args: cobra.ExactArgs(1),
	Run:  runTrainCommand,
}

func init() {
	trainCmd.Flags().IntVar(&trainIter, "iter", 0, "Active learning iteration")
	trainCmd.Flags().IntVar(&trainCommittee, "committee", 0, "Committee size (default 2)")
	trainCmd.Flags().IntVar(&trainEpochs, "epochs", 0, "Max training epochs (default 50)")
	trainCmd.Flags().StringVar(&trainDevice, "device", "", "Torch device (default cpu)")
	trainCmd.Flags().BoolVar(&trainQuick, "quick", false, "Quick demo mode (tiny model, few epochs)")
	trainCmd.Flags().StringVar(&trainModelPath, "model", "", "Checkpoint to fine-tune from")
	trainCmd.Flags().StringArrayVar(&trainFreeze, "freeze", nil, "Parameter pattern to freeze (repeatable)")
	trainCmd.Flags().StringArrayVar(&trainUnfreeze, "unfreeze", nil, "Parameter pattern to keep trainable (repeatable)")
}

// =============================================================================
// COMMAND EXECUTION
// =============================================================================

func runTrainCommand(cmd *cobra.Command, args []string) {
	runID := args[0]
	req := datatypes.TrainRequest{
		CommitteeSize:    trainCommittee,
		Device:           trainDevice,
		MaxEpochs:        trainEpochs,
		QuickDemo:        trainQuick,
		ModelPath:        trainModelPath,
		FreezePatterns:   trainFreeze,
		UnfreezePatterns: trainUnfreeze,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	path := fmt.Sprintf("/v1/freeze/runs/%s/iterations/%d/train", runID, trainIter)
	httpReq, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
		apiURL(path), bytes.NewReader(payload))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := apiClient.Do(httpReq)
	if err != nil {
		logger.Error("train request failed", "run_id", runID, "error", err)
		fmt.Fprintf(os.Stderr, "Could not reach the controller: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Error: %v\n", decodeAPIError(resp))
		os.Exit(1)
	}

	failed := false
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev datatypes.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			fmt.Println(line)
			continue
		}
		fmt.Println(renderEvent(ev))
		if ev.Kind == datatypes.KindError {
			failed = true
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Stream interrupted: %v\n", err)
		os.Exit(1)
	}
	if failed {
		os.Exit(1)
	}
}

// renderEvent formats one stream event for the terminal.
func renderEvent(ev datatypes.Event) string {
	switch ev.Kind {
	case datatypes.KindProgress:
		var b strings.Builder
		if ev.Model != "" {
			fmt.Fprintf(&b, "[%s] ", ev.Model)
		}
		if ev.Epoch != nil {
			fmt.Fprintf(&b, "epoch %d", *ev.Epoch)
		}
		if ev.Loss != nil {
			fmt.Fprintf(&b, " loss=%.4f", *ev.Loss)
		}
		if ev.MAEEnergy != nil {
			fmt.Fprintf(&b, " mae_e=%.2f meV", *ev.MAEEnergy)
		}
		if ev.MAEForce != nil {
			fmt.Fprintf(&b, " mae_f=%.2f meV/A", *ev.MAEForce)
		}
		return strings.TrimSpace(b.String())
	case datatypes.KindDone:
		if len(ev.Checkpoints) > 0 {
			return fmt.Sprintf("Done. Checkpoints: %s", strings.Join(ev.Checkpoints, ", "))
		}
		return "Done."
	case datatypes.KindError:
		return "ERROR: " + ev.Message
	default:
		return ev.Message
	}
}
