// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command relay runs the telemetry relay service: it accepts log and
// request telemetry, batches it, and forwards it to the Application
// Insights ingestion endpoint with durable retry.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/insightrelay/insightrelay/pkg/logging"
	"github.com/insightrelay/insightrelay/services/relay/config"
	"github.com/insightrelay/insightrelay/services/relay/pipeline"
	"github.com/insightrelay/insightrelay/services/relay/routes"
	"github.com/insightrelay/insightrelay/services/relay/storage/badgerstore"
	"github.com/insightrelay/insightrelay/services/relay/transport"
)

func main() {
	var (
		port       = flag.String("port", "8312", "listen port for the admin API")
		configPath = flag.String("config", "relay.yaml", "path to the YAML config file")
		debug      = flag.Bool("debug", false, "enable debug logging")
		mock       = flag.Bool("mock", false, "record telemetry in memory instead of sending")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	procLog, err := logging.New(logging.Config{
		Level:   level,
		Service: cfg.ServiceName,
		LogDir:  filepath.Join(cfg.DataDir, "logs"),
	})
	if err != nil {
		slog.Warn("file logging unavailable", "error", err)
	}
	defer procLog.Close()
	logger := procLog.Logger
	slog.SetDefault(logger)
	if cfg.InstrumentationKey == "" && !*mock {
		slog.Warn("no instrumentation key configured, telemetry will be dropped silently")
	}

	store, err := badgerstore.Open(badgerstore.DefaultConfig(filepath.Join(cfg.DataDir, "relay")))
	if err != nil {
		log.Fatalf("failed to open the state store: %v", err)
	}
	defer store.Close()

	diag := transport.NewDiagnostics()
	var t transport.Transport
	if *mock {
		t = transport.NewRecording()
		slog.Info("using recording transport, nothing leaves the process")
	} else {
		t = transport.NewHTTP(cfg.IngestURL, cfg.InstrumentationKey, diag,
			transport.WithLogger(logger))
	}

	hub, err := pipeline.NewHub(cfg, store, t, diag, pipeline.WithLogger(logger))
	if err != nil {
		log.Fatalf("failed to assemble the pipeline: %v", err)
	}
	hub.Start()

	// Route process logs through the relay as well as the console.
	slog.SetDefault(slog.New(logging.Fanout(logger.Handler(), pipeline.NewHandler(hub))))

	if !*debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	routes.SetupRoutes(router, hub)

	srv := &http.Server{Addr: ":" + *port, Handler: router}
	go func() {
		logger.Info("relay listening", "port", *port, "ingest_url", cfg.IngestURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down, flushing telemetry")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Stop(ctx)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}
