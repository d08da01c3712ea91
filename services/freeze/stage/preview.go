// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
	"github.com/latticeforge/macefreeze/services/freeze/workspace"
)

const defaultPreviewSample = 20

// Preview reports which checkpoint parameters a freeze/unfreeze
// pattern set would freeze, without training anything. The worker
// prints its result as a single JSON line on stdout.
//
// An explicit CheckpointPath is previewed as-is. When it is empty the
// (runID, iter, replica) form resolves the canonical checkpoint for
// that replica, the same resolution the train and export stages use.
func (s *Service) Preview(ctx context.Context, req datatypes.PreviewRequest) (*datatypes.PreviewResponse, error) {
	ckptPath := req.CheckpointPath
	if ckptPath == "" {
		resolved, err := s.resolveReplicaCheckpoint(req.RunID, req.Iter, req.Replica)
		if err != nil {
			return nil, err
		}
		ckptPath = resolved
	} else if !workspace.Exists(ckptPath) {
		return nil, fmt.Errorf("%w: checkpoint %s does not exist", ErrPreconditionFailed, ckptPath)
	}

	sample := req.Sample
	if sample <= 0 {
		sample = defaultPreviewSample
	}

	args := []string{"--in_ckpt", ckptPath, "--sample", strconv.Itoa(sample)}
	if len(req.FreezePatterns) > 0 {
		args = append(args, "--freeze")
		args = append(args, req.FreezePatterns...)
	}
	if len(req.UnfreezePatterns) > 0 {
		args = append(args, "--unfreeze")
		args = append(args, req.UnfreezePatterns...)
	}

	var resp *datatypes.PreviewResponse
	_, err := s.runWorker(ctx, "preview", s.cfg.Timeouts.Preview,
		s.scriptSpec(scriptPreview, args, nil), func(ev datatypes.Event) {
			line := strings.TrimSpace(ev.Message)
			if !strings.HasPrefix(line, "{") {
				return
			}
			var parsed datatypes.PreviewResponse
			if json.Unmarshal([]byte(line), &parsed) == nil && parsed.Checkpoint != "" {
				resp = &parsed
			}
		})
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, fmt.Errorf("preview worker produced no result for %s", ckptPath)
	}
	return resp, nil
}
