// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package pipeline drives the conference enrichment pipeline: a fixed
// sequence of checkpointed steps that can be interrupted at any point and
// resumed without repeating completed work.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/confpipe/confpipe/internal/config"
	"github.com/confpipe/confpipe/internal/logger"
	"github.com/confpipe/confpipe/internal/pipeline/enrich"
	"github.com/confpipe/confpipe/internal/pipeline/models"
	"github.com/confpipe/confpipe/internal/pipeline/state"
	"github.com/confpipe/confpipe/internal/pipeline/steps"

	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetPipelineLogger()
		log = &l
	})
	return log
}

// Options selects how a run starts. ForceRestart and ResumeFrom are
// mutually exclusive.
type Options struct {
	// ForceRestart discards prior progress and runs from scratch under a
	// fresh pipeline ID
	ForceRestart bool
	// ResumeFrom re-runs the named step even if completed; earlier
	// completed steps still skip
	ResumeFrom string
}

// Orchestrator executes the canonical step sequence for one conference
type Orchestrator struct {
	cfg    *config.AppConfig
	conf   config.ConferenceConfig
	state  *state.Manager
	steps  []steps.Step
	client enrich.ProfileClient
}

// New builds an orchestrator for the conference. A nil client selects the
// HTTP profile client from configuration; tests inject their own.
func New(cfg *config.AppConfig, conference string, client enrich.ProfileClient) (*Orchestrator, error) {
	conf, err := cfg.ResolveConference(conference)
	if err != nil {
		return nil, models.NewConfigurationError("%v", err)
	}

	mgr, err := state.NewManager(cfg.State.Dir, conf.Name, steps.Names())
	if err != nil {
		return nil, err
	}

	if client == nil {
		client = enrich.NewHTTPProfileClient(cfg.Enrichment.Endpoint, cfg.Enrichment.UserAgent)
	}

	return &Orchestrator{
		cfg:    cfg,
		conf:   conf,
		state:  mgr,
		steps:  steps.All(),
		client: client,
	}, nil
}

// Conference returns the resolved conference configuration
func (o *Orchestrator) Conference() config.ConferenceConfig {
	return o.conf
}

// Status returns the current state snapshot without taking the writer lock
func (o *Orchestrator) Status() *models.StatusSnapshot {
	return o.state.GetStatus()
}

// Run executes the pipeline. Completed steps are skipped unless explicitly
// resumed onto, so re-running after a failure picks up where the previous
// run stopped. Returns models.ErrInterrupted when ctx is canceled mid-run;
// the run can then be resumed by invoking Run again.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*RunSummary, error) {
	if opts.ForceRestart && opts.ResumeFrom != "" {
		return nil, models.NewConfigurationError("--force-restart and --resume-from are mutually exclusive")
	}
	if opts.ResumeFrom != "" && !steps.IsValid(opts.ResumeFrom) {
		return nil, models.NewConfigurationError("unknown step %q, valid steps: %s",
			opts.ResumeFrom, strings.Join(steps.Names(), ", "))
	}

	if err := o.state.Acquire(); err != nil {
		return nil, err
	}
	defer o.state.Close()

	runStart := time.Now()
	executed := make([]string, 0, len(o.steps))
	skipped := make([]string, 0, len(o.steps))
	summary := func() *RunSummary {
		return &RunSummary{
			Snapshot: o.state.GetStatus(),
			Duration: time.Since(runStart),
			Executed: executed,
			Skipped:  skipped,
		}
	}

	// A completed run re-invoked without flags has nothing to do and
	// nothing to rewrite.
	if prior := o.state.GetStatus(); prior.Status == models.StatusCompleted &&
		!opts.ForceRestart && opts.ResumeFrom == "" {
		getLog().Info().
			Str("pipeline_id", prior.PipelineID).
			Msg("Pipeline already completed, nothing to do")
		skipped = append(skipped, prior.CompletedSteps...)
		return summary(), nil
	}

	st, err := o.state.InitializeState(opts.ForceRestart)
	if err != nil {
		return nil, err
	}

	if opts.ResumeFrom != "" {
		if err := o.verifyResumeInputs(opts.ResumeFrom); err != nil {
			return nil, err
		}
	}

	getLog().Info().
		Str("pipeline_id", st.PipelineID).
		Str("conference", o.conf.Name).
		Bool("force_restart", opts.ForceRestart).
		Str("resume_from", opts.ResumeFrom).
		Msg("Starting pipeline run")

	if err := o.state.SetStatus(models.StatusRunning); err != nil {
		return summary(), err
	}

	env := &steps.Env{
		State:      o.state,
		Config:     o.cfg,
		Conference: o.conf,
		Client:     o.client,
	}

	for i, step := range o.steps {
		name := step.Name()

		if ctx.Err() != nil {
			// Stopped between steps: the pending step was never
			// attempted, so it gets no failure entry.
			_ = o.state.SetStatus(models.StatusInterrupted)
			getLog().Warn().Str("step", name).Msg("Run interrupted before step")
			return summary(), models.ErrInterrupted
		}

		if o.state.IsStepCompleted(name) && name != opts.ResumeFrom {
			getLog().Debug().Str("step", name).Msg("Step already completed, skipping")
			skipped = append(skipped, name)
			continue
		}

		if err := o.state.SetCurrentStep(name); err != nil {
			return summary(), err
		}
		getLog().Info().
			Str("step", name).
			Int("position", i+1).
			Int("total", len(o.steps)).
			Msg("Running step")

		stepStart := time.Now()
		result, err := step.Run(ctx, env)
		if err != nil {
			if errors.Is(err, models.ErrInterrupted) || ctx.Err() != nil {
				// The abandoned step keeps no failure entry; it simply
				// re-runs on resume.
				_ = o.state.SetStatus(models.StatusInterrupted)
				getLog().Warn().Str("step", name).Msg("Run interrupted during step")
				return summary(), models.ErrInterrupted
			}

			_ = o.state.RecordError(name, err)
			_ = o.state.SetStatus(models.StatusFailed)
			getLog().Error().Str("step", name).Err(err).Msg("Step failed")

			if models.IsConfigurationError(err) {
				return summary(), err
			}
			return summary(), models.NewFatalError(name, err)
		}

		if result != nil {
			for _, itemErr := range result.ItemErrors {
				getLog().Warn().
					Str("step", name).
					Str("item", itemErr.Key).
					Str("reason", itemErr.Message).
					Msg("Item skipped")
			}
			if err := o.state.AddProgress(result.Counters); err != nil {
				return summary(), err
			}
		}
		if err := o.state.MarkStepComplete(name); err != nil {
			return summary(), err
		}

		executed = append(executed, name)
		getLog().Info().
			Str("step", name).
			Dur("duration", time.Since(stepStart)).
			Msg("Step completed")
	}

	if err := o.state.SetStatus(models.StatusCompleted); err != nil {
		return summary(), err
	}

	getLog().Info().
		Str("pipeline_id", st.PipelineID).
		Int("executed", len(executed)).
		Int("skipped", len(skipped)).
		Dur("duration", time.Since(runStart)).
		Msg("Pipeline run completed")

	return summary(), nil
}

// verifyResumeInputs fails fast when the step being resumed onto would read
// checkpoints that do not exist, instead of failing midway through the run.
func (o *Orchestrator) verifyResumeInputs(resumeFrom string) error {
	for _, step := range o.steps {
		if step.Name() != resumeFrom {
			continue
		}
		var missing []string
		for _, key := range step.Inputs() {
			if !o.state.HasCheckpoint(key) {
				missing = append(missing, key.String())
			}
		}
		if len(missing) > 0 {
			return models.NewConfigurationError(
				"cannot resume from %s: required checkpoints missing: %s (run the earlier steps first)",
				resumeFrom, strings.Join(missing, ", "))
		}
		return nil
	}
	return fmt.Errorf("step %s not found in sequence", resumeFrom)
}
