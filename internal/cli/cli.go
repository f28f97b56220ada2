// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
)

const (
	appName    = "edumesh"
	appVersion = "0.1.0"
)

// Execute runs the CLI application
func Execute() error {
	if len(os.Args) < 2 {
		return printUsage()
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "run":
		return runCommand(args)
	case "seed":
		return seedCommand(args)
	case "workflows":
		return workflowsCommand(args)
	case "version":
		fmt.Printf("%s version %s\n", appName, appVersion)
		return nil
	case "help", "-h", "--help":
		return printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		return printUsage()
	}
}

func printUsage() error {
	fmt.Printf(`%s - multi-agent learning analytics

Usage:
  %s <command> [arguments]

Commands:
  run            Run a workflow in-process and print the result
  seed           Migrate the database and insert demo data
  workflows      List the available workflows and their stages
  version        Print version information
  help           Show this help message

Examples:
  %s seed --students 30
  %s run --students 1,2,3
  %s run --workflow report_only --report-type class --param class_name=CS-1
  %s run --workflow data_export --export-format csv --json

`, appName, appName, appName, appName, appName, appName)
	return nil
}
