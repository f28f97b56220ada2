// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/noldarim/edumesh/internal/config"
	"github.com/noldarim/edumesh/internal/logger"
	"github.com/noldarim/edumesh/internal/orchestrator"
	"github.com/noldarim/edumesh/internal/orchestrator/services"
	"github.com/noldarim/edumesh/internal/protocol"
	"github.com/noldarim/edumesh/internal/server"
	"github.com/noldarim/edumesh/internal/telemetry"

	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.CloseGlobal()

	if err := run(cfg); err != nil {
		mainLog := logger.GetLogger("main")
		mainLog.Error().Err(err).Msg("API server exited with error")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logger.CloseGlobal()
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig) error {
	mainLog := logger.GetLogger("main")
	mainLog.Info().Msg("Starting edumesh API server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}

	dataService, err := services.NewDataService(cfg)
	if err != nil {
		return fmt.Errorf("failed to create data service: %w", err)
	}
	defer dataService.Close()

	eventChan := make(chan protocol.Event, 1024)
	orch := orchestrator.NewFromConfig(cfg, dataService, eventChan)
	if err := orch.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	srv := server.New(&cfg.Server, eventChan, orch, dataService)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		mainLog.Info().Msg("Shutting down...")

		// Graceful shutdown: fresh context with timeout, independent of the signal context.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		if err := orch.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("orchestrator shutdown: %w", err))
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("tracing shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	err = g.Wait()
	mainLog.Info().Msg("API server shut down")
	return err
}
