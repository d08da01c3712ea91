// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes registers the Freeze controller's HTTP routes.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/latticeforge/macefreeze/services/freeze/handlers"
)

// Register wires all endpoints onto the router.
//
// Endpoints:
//
//	GET  /health  - liveness
//	GET  /        - service info
//	GET  /metrics - Prometheus metrics
//
//	POST /v1/freeze/runs                                        - create run
//	POST /v1/freeze/runs/:runId/split                           - dataset split
//	POST /v1/freeze/runs/:runId/iterations/:iter/train          - committee training (NDJSON stream)
//	POST /v1/freeze/runs/:runId/iterations/:iter/disagreement   - pool disagreement scoring
//	POST /v1/freeze/runs/:runId/iterations/:iter/select         - top-K selection
//	POST /v1/freeze/runs/:runId/iterations/:iter/label          - reference labeling
//	POST /v1/freeze/runs/:runId/iterations/:iter/append         - fold labels into training set
//	POST /v1/freeze/runs/:runId/iterations/:iter/export         - rewrite checkpoint with freeze plan
//	GET  /v1/freeze/runs/:runId/iterations/:iter/checkpoints    - per-replica resolver results
//	POST /v1/freeze/preview                                     - freeze pattern preview
//
// stageMiddleware (rate limiting) applies to the stage routes only;
// probes and metrics stay unthrottled.
func Register(router *gin.Engine, h *handlers.Handler, stageMiddleware ...gin.HandlerFunc) {
	router.GET("/health", h.Health)
	router.GET("/", h.Info)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	freeze := router.Group("/v1/freeze")
	freeze.Use(stageMiddleware...)

	freeze.POST("/runs", h.CreateRun)
	freeze.POST("/runs/:runId/split", h.Split)
	freeze.POST("/preview", h.Preview)

	iter := freeze.Group("/runs/:runId/iterations/:iter")
	iter.POST("/train", h.Train)
	iter.POST("/disagreement", h.Disagreement)
	iter.POST("/select", h.Select)
	iter.POST("/label", h.Label)
	iter.POST("/append", h.Append)
	iter.POST("/export", h.Export)
	iter.GET("/checkpoints", h.Checkpoints)
}
