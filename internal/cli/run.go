// Copyright (C) 2025-2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/confpipe/confpipe/internal/config"
	"github.com/confpipe/confpipe/internal/logger"
	"github.com/confpipe/confpipe/internal/pipeline"
	"github.com/confpipe/confpipe/internal/pipeline/models"
	"github.com/confpipe/confpipe/internal/pipeline/steps"
)

type runOptions struct {
	configPath   string
	forceRestart bool
	resumeFrom   string
	status       bool
	listSteps    bool
	showConfig   bool
	saveConfig   string
	// Enrichment overrides; only applied when the flag was set
	maxConcurrent  int
	requestTimeout time.Duration
	rateLimitDelay time.Duration
	// Directory overrides
	dataDir      string
	analyticsDir string
	outputDir    string
}

// newRunFlagSet binds the run command's flags to opts
func newRunFlagSet(opts *runOptions) *flag.FlagSet {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.StringVar(&opts.configPath, "config-file", "", "Path to config file (default: search for confpipe.yaml)")
	fs.BoolVar(&opts.forceRestart, "force-restart", false, "Discard prior progress and start over")
	fs.StringVar(&opts.resumeFrom, "resume-from", "", "Re-run the named step, then continue")
	fs.BoolVar(&opts.status, "status", false, "Print pipeline status and exit")
	fs.BoolVar(&opts.listSteps, "list-steps", false, "List the pipeline steps in order and exit")
	fs.BoolVar(&opts.showConfig, "show-config", false, "Print the effective configuration and exit")
	fs.StringVar(&opts.saveConfig, "save-config", "", "Write the effective configuration to a file and exit")
	fs.IntVar(&opts.maxConcurrent, "max-concurrent", 0, "Max concurrent profile lookups")
	fs.DurationVar(&opts.requestTimeout, "request-timeout", 0, "Per-lookup timeout")
	fs.DurationVar(&opts.rateLimitDelay, "rate-limit-delay", 0, "Minimum gap between lookups")
	fs.StringVar(&opts.dataDir, "data-dir", "", "Conference dataset root")
	fs.StringVar(&opts.analyticsDir, "analytics-dir", "", "Analytics output root")
	fs.StringVar(&opts.outputDir, "output-dir", "", "Generated content root")
	return fs
}

func runCommand(args []string) error {
	opts := &runOptions{}
	fs := newRunFlagSet(opts)
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Needs no configuration at all
	if opts.listSteps {
		for i, name := range steps.Names() {
			fmt.Printf("%d. %s\n", i+1, name)
		}
		return nil
	}

	// Load configuration
	cfg, err := config.NewConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Apply flag overrides. fs.Visit only sees flags the user actually
	// set, so an explicit zero (e.g. --rate-limit-delay 0) still wins
	// over the config file.
	if err := applyOverrides(cfg, opts, fs); err != nil {
		return err
	}

	if opts.showConfig {
		data, err := cfg.RenderYAML()
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	}
	if opts.saveConfig != "" {
		if err := cfg.SaveTo(opts.saveConfig); err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", opts.saveConfig)
		return nil
	}

	// The conference is the single positional argument
	conference := strings.TrimSpace(fs.Arg(0))
	if conference == "" {
		return fmt.Errorf("conference name required\n\nUsage:\n  %s run [flags] <conference>\n  %s run --list-steps", appName, appName)
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("unexpected arguments after conference name: %s (flags go before the conference)", strings.Join(fs.Args()[1:], " "))
	}

	if opts.forceRestart && opts.resumeFrom != "" {
		return fmt.Errorf("--force-restart and --resume-from are mutually exclusive")
	}

	return executeRun(conference, cfg, opts)
}

// applyOverrides folds explicitly-set flags into the loaded configuration
func applyOverrides(cfg *config.AppConfig, opts *runOptions, fs *flag.FlagSet) error {
	var err error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "max-concurrent":
			if opts.maxConcurrent < 1 {
				err = fmt.Errorf("--max-concurrent must be at least 1, got %d", opts.maxConcurrent)
				return
			}
			cfg.Enrichment.MaxConcurrent = opts.maxConcurrent
		case "request-timeout":
			if opts.requestTimeout <= 0 {
				err = fmt.Errorf("--request-timeout must be positive, got %s", opts.requestTimeout)
				return
			}
			cfg.Enrichment.RequestTimeout = opts.requestTimeout
		case "rate-limit-delay":
			if opts.rateLimitDelay < 0 {
				err = fmt.Errorf("--rate-limit-delay must not be negative, got %s", opts.rateLimitDelay)
				return
			}
			cfg.Enrichment.RateLimitDelay = opts.rateLimitDelay
		case "data-dir":
			cfg.Data.DataDir = opts.dataDir
		case "analytics-dir":
			cfg.Data.AnalyticsDir = opts.analyticsDir
		case "output-dir":
			cfg.Data.OutputDir = opts.outputDir
		}
	})
	return err
}

func executeRun(conference string, cfg *config.AppConfig, opts *runOptions) error {
	// Initialize logging (to file only by default, keep terminal clean)
	if err := logger.Initialize(&cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.CloseGlobal()

	orch, err := pipeline.New(cfg, conference, nil)
	if err != nil {
		return err
	}

	// Status is a read-only view; it neither takes the writer lock nor
	// touches the state files.
	if opts.status {
		fmt.Print(pipeline.RenderStatus(orch.Status()))
		return nil
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First signal asks the run to stop after the current step settles;
	// a second one force quits.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintf(os.Stderr, "\n▸ Interrupt received, stopping (press Ctrl+C again to force quit)...\n")
		cancel()
		<-sigChan
		fmt.Fprintf(os.Stderr, "▸ Force quit\n")
		os.Exit(130)
	}()

	printRunBanner(orch.Conference().DisplayName, opts)

	summary, err := orch.Run(ctx, pipeline.Options{
		ForceRestart: opts.forceRestart,
		ResumeFrom:   opts.resumeFrom,
	})
	if summary != nil {
		fmt.Println()
		fmt.Print(summary.Render())
	}
	if err != nil {
		if errors.Is(err, models.ErrInterrupted) {
			fmt.Printf("\n▸ Run interrupted. Resume with: %s run %s\n", appName, conference)
		}
		return err
	}

	fmt.Printf("\n▸ Done. Outputs in %s\n", cfg.Data.OutputDir)
	return nil
}

func printRunBanner(displayName string, opts *runOptions) {
	mode := "resume if possible"
	if opts.forceRestart {
		mode = "force restart"
	} else if opts.resumeFrom != "" {
		mode = "resume from " + opts.resumeFrom
	}

	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  %s run\n", appName)
	fmt.Printf("  Conference: %s\n", truncateForDisplay(displayName, 50))
	fmt.Printf("  Mode: %s\n", mode)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
}

func truncateForDisplay(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	if len(s) > maxLen {
		return s[:maxLen-3] + "..."
	}
	return s
}
