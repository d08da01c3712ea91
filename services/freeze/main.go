// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/latticeforge/macefreeze/services/freeze/config"
	"github.com/latticeforge/macefreeze/services/freeze/convergence"
	"github.com/latticeforge/macefreeze/services/freeze/handlers"
	"github.com/latticeforge/macefreeze/services/freeze/middleware"
	"github.com/latticeforge/macefreeze/services/freeze/routes"
	"github.com/latticeforge/macefreeze/services/freeze/stage"
	"github.com/latticeforge/macefreeze/services/freeze/worker"
	"github.com/latticeforge/macefreeze/services/freeze/workspace"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		// Tracing is optional for a single-host deployment.
		return func(context.Context) {}, nil
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("freeze-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("FREEZE_CONFIG"))
	if err != nil {
		log.Fatalf("FATAL: could not load configuration: %v", err)
	}

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	layout := workspace.NewLayout(cfg.Workspace.Root)
	if err := os.MkdirAll(cfg.Workspace.Root, 0o755); err != nil {
		log.Fatalf("FATAL: could not create workspace root %s: %v", cfg.Workspace.Root, err)
	}
	if _, err := os.Stat(cfg.Workers.ScriptsDir); err != nil {
		slog.Warn("worker scripts directory not found; stage requests will fail until it exists",
			"scripts_dir", cfg.Workers.ScriptsDir)
	}

	advisor := convergence.NewAdvisor(layout, convergence.DefaultThresholds(), logger)
	stages := stage.NewService(layout, worker.NewExecSupervisor(), advisor, stage.Config{
		PythonBin:   cfg.Workers.PythonBin,
		ScriptsDir:  cfg.Workers.ScriptsDir,
		GracePeriod: cfg.Workers.GracePeriod.Std(),
		Timeouts: stage.Timeouts{
			Train:        cfg.Timeouts.Train.Std(),
			Split:        cfg.Timeouts.Split.Std(),
			Disagreement: cfg.Timeouts.Disagreement.Std(),
			Select:       cfg.Timeouts.Select.Std(),
			Label:        cfg.Timeouts.Label.Std(),
			Preview:      cfg.Timeouts.Preview.Std(),
			Export:       cfg.Timeouts.Export.Std(),
		},
	}, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware("freeze-service"))

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
	routes.Register(router, handlers.New(stages, logger), middleware.RateLimit(limiter))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	slog.Info("starting the freeze controller",
		"addr", addr,
		"workspace_root", cfg.Workspace.Root,
		"scripts_dir", cfg.Workers.ScriptsDir)
	if err := router.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
