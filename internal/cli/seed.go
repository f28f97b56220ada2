// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/noldarim/edumesh/internal/config"
	"github.com/noldarim/edumesh/internal/orchestrator"
	"github.com/noldarim/edumesh/internal/orchestrator/database"
)

func seedCommand(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to config file")
	students := fs.Int("students", 30, "Number of demo students")
	noColor := fs.Bool("no-color", false, "Disable colored output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := database.NewGormDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.AutoMigrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st := newStyles(*noColor)
	summary, err := db.SeedDemo(ctx, *students, time.Now().UTC())
	if errors.Is(err, database.ErrAlreadySeeded) {
		fmt.Println(st.dim.Render("Database already has students, nothing to do"))
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s %s\n", st.success.Render("✓"), st.value.Render("Demo data inserted"))
	fmt.Printf("  %s %d\n  %s %d\n  %s %d\n  %s %d\n",
		st.label.Render("Students:"), summary.Students,
		st.label.Render("Cases:"), summary.Cases,
		st.label.Render("Scores:"), summary.Scores,
		st.label.Render("Operation logs:"), summary.OperationLogs)
	return nil
}

func workflowsCommand(args []string) error {
	fs := flag.NewFlagSet("workflows", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to config file")
	noColor := fs.Bool("no-color", false, "Disable colored output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	def := orchestrator.WorkflowCompleteAnalysis
	if cfg, err := config.NewConfig(*configPath); err == nil && cfg.Orchestrator.DefaultWorkflow != "" {
		def = cfg.Orchestrator.DefaultWorkflow
	}
	fmt.Println(renderWorkflows(orchestrator.DefaultWorkflows(), def, newStyles(*noColor)))
	return nil
}
