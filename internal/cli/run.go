// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/noldarim/edumesh/internal/config"
	"github.com/noldarim/edumesh/internal/logger"
	"github.com/noldarim/edumesh/internal/orchestrator"
	"github.com/noldarim/edumesh/internal/orchestrator/services"
	"github.com/noldarim/edumesh/internal/protocol"

	"github.com/samber/lo"
	"github.com/spf13/cast"
)

type runOptions struct {
	configPath   string
	workflow     string
	students     string
	reportType   string
	reportFormat string
	exportFormat string
	params       map[string]any // --param key=value flags
	jsonOutput   bool
	noColor      bool
	timeout      time.Duration
}

func runCommand(args []string) error {
	opts := &runOptions{params: make(map[string]any)}
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config", "config.yaml", "Path to config file")
	fs.StringVar(&opts.workflow, "workflow", "", "Workflow to run (default from config)")
	fs.StringVar(&opts.students, "students", "", "Comma-separated student ids (default: all active students)")
	fs.StringVar(&opts.reportType, "report-type", "", "Report type: individual, class, subject, overall, custom")
	fs.StringVar(&opts.reportFormat, "report-format", "", "Report format: html, markdown, json")
	fs.StringVar(&opts.exportFormat, "export-format", "", "Export format: json, csv, xml, yaml")
	fs.BoolVar(&opts.jsonOutput, "json", false, "Print the result as JSON")
	fs.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	fs.DurationVar(&opts.timeout, "timeout", 0, "Overall timeout (0 = none)")

	// Custom flag for --param (can be repeated)
	fs.Func("param", "Set a request parameter (key=value, value may be JSON), can be repeated", func(s string) error {
		key, value, err := parseParam(s)
		if err != nil {
			return err
		}
		opts.params[key] = value
		return nil
	})

	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := buildRequest(opts)
	if err != nil {
		return err
	}
	return executeRun(req, opts)
}

// parseParam splits key=value. Values that parse as JSON (numbers, lists,
// objects, booleans) keep their JSON type; anything else is a string.
func parseParam(s string) (string, any, error) {
	key, raw, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid param format %q, use key=value", s)
	}
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		value = raw
	}
	return key, value, nil
}

func parseStudentIDs(s string) ([]int, error) {
	parts := lo.Filter(strings.Split(s, ","), func(p string, _ int) bool { return strings.TrimSpace(p) != "" })
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := cast.ToIntE(strings.TrimSpace(p))
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid student id %q", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func buildRequest(opts *runOptions) (orchestrator.Request, error) {
	params := make(map[string]any, len(opts.params)+4)
	for k, v := range opts.params {
		params[k] = v
	}
	if opts.students != "" {
		ids, err := parseStudentIDs(opts.students)
		if err != nil {
			return orchestrator.Request{}, err
		}
		params["student_ids"] = ids
	}
	for key, value := range map[string]string{
		"report_type":   opts.reportType,
		"report_format": opts.reportFormat,
		"export_format": opts.exportFormat,
	} {
		if value != "" {
			params[key] = value
		}
	}
	return orchestrator.NewRequest(opts.workflow, params), nil
}

func executeRun(req orchestrator.Request, opts *runOptions) error {
	// Load configuration
	cfg, err := config.NewConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Initialize(&cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.CloseGlobal()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	dataService, err := services.NewDataService(cfg)
	if err != nil {
		return fmt.Errorf("failed to create data service: %w", err)
	}
	defer dataService.Close()

	st := newStyles(opts.noColor)
	eventChan := make(chan protocol.Event, 256)
	orch := orchestrator.NewFromConfig(cfg, dataService, eventChan)

	var progress sync.WaitGroup
	progress.Add(1)
	go func() {
		defer progress.Done()
		for event := range eventChan {
			if line := renderEvent(event, st); line != "" && !opts.jsonOutput {
				fmt.Println(line)
			}
		}
	}()

	if err := orch.Initialize(ctx); err != nil {
		close(eventChan)
		progress.Wait()
		return fmt.Errorf("failed to start agents: %w", err)
	}

	result, execErr := orch.Execute(ctx, req)

	// Collect agent metrics before the agents stop
	statuses := orch.StatusList()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := orch.Shutdown(shutdownCtx); err != nil {
		// An agent may still be running and publishing; leave the channel open
		fmt.Fprintf(os.Stderr, "Warning: agent shutdown: %v\n", err)
	} else {
		close(eventChan)
		progress.Wait()
	}

	if execErr != nil {
		return execErr
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		fmt.Println()
		fmt.Println(renderResult(result, stagesOf(orch.Workflows(), result.Workflow), st))
		fmt.Println()
		fmt.Println(renderAgents(statuses, st))
	}

	if result.Status == protocol.WorkflowStatusFailed {
		return fmt.Errorf("workflow %s failed at %s", result.Workflow, result.FailedStage)
	}
	return nil
}

func stagesOf(workflows []orchestrator.Workflow, name string) []string {
	wf, _ := lo.Find(workflows, func(wf orchestrator.Workflow) bool { return wf.Name == name })
	return wf.Stages
}
