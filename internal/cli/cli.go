// Copyright (C) 2025-2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"os"
)

const (
	appName    = "confpipe"
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
	fmt.Printf(`%s - conference data enrichment pipeline

Usage:
  %s run [flags] <conference>

Commands:
  run <conference>  Run (or resume) the pipeline for a conference
  version           Print version information
  help              Show this help message

Run flags:
  --force-restart          Discard prior progress and start over
  --resume-from <step>     Re-run the named step, then continue
  --status                 Print pipeline status and exit
  --list-steps             List the pipeline steps in order and exit
  --max-concurrent <n>     Max concurrent profile lookups
  --request-timeout <dur>  Per-lookup timeout (e.g. 30s)
  --rate-limit-delay <dur> Minimum gap between lookups (e.g. 2s)
  --data-dir <dir>         Conference dataset root
  --analytics-dir <dir>    Analytics output root
  --output-dir <dir>       Generated content root
  --config-file <path>     Config file (default: search for confpipe.yaml)
  --save-config <path>     Write the effective configuration and exit
  --show-config            Print the effective configuration and exit

Examples:
  %s run icml-2026
  %s run --force-restart icml-2026
  %s run --resume-from author_enrichment icml-2026
  %s run --status icml-2026
  %s run --list-steps
  %s run --max-concurrent 5 --rate-limit-delay 1s icml-2026

`, appName, appName, appName, appName, appName, appName, appName, appName)
	return nil
}
