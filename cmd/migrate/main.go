// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/noldarim/edumesh/internal/config"
	"github.com/noldarim/edumesh/internal/orchestrator/database"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	seed := flag.Bool("seed", false, "Insert demo data after migrating")
	students := flag.Int("students", 30, "Number of demo students when seeding")
	flag.Parse()

	// Load configuration
	cfg, err := config.NewConfig(*configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Create database connection
	db, err := database.NewGormDB(&cfg.Database)
	if err != nil {
		fmt.Printf("Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("🚀 Starting database migration...")
	fmt.Printf("Driver: %s\n", cfg.Database.Driver)

	// Run migrations
	if err := db.AutoMigrate(); err != nil {
		fmt.Printf("❌ Migration failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("✅ Database migration completed successfully!")

	// Validate schema to confirm everything is correct
	if err := db.ValidateSchema(); err != nil {
		fmt.Printf("⚠️  Warning: Schema validation failed after migration: %v\n", err)
		fmt.Println("This might indicate a problem with the migration or model definitions.")
		os.Exit(1)
	}

	fmt.Println("✅ Schema validation passed - database is ready to use!")

	if !*seed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	summary, err := db.SeedDemo(ctx, *students, time.Now().UTC())
	switch {
	case errors.Is(err, database.ErrAlreadySeeded):
		fmt.Println("ℹ️  Database already contains students, skipping demo data")
	case err != nil:
		fmt.Printf("❌ Seeding failed: %v\n", err)
		os.Exit(1)
	default:
		fmt.Printf("✅ Inserted %d students, %d cases, %d scores, %d operation logs, %d question answers\n",
			summary.Students, summary.Cases, summary.Scores, summary.OperationLogs, summary.QuestionAnswers)
	}
}
