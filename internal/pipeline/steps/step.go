// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package steps contains the pipeline step implementations. Steps exchange
// data exclusively through checkpoints, never through process memory, so
// any step can be re-run from persisted artifacts alone.
package steps

import (
	"context"
	"sync"

	"github.com/confpipe/confpipe/internal/config"
	"github.com/confpipe/confpipe/internal/logger"
	"github.com/confpipe/confpipe/internal/pipeline/enrich"
	"github.com/confpipe/confpipe/internal/pipeline/models"
	"github.com/confpipe/confpipe/internal/pipeline/state"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Canonical step names, in execution order
const (
	StepInitialize          = "initialize"
	StepDataExtraction      = "data_extraction"
	StepSQLiteProcessing    = "sqlite_processing"
	StepAuthorEnrichment    = "author_enrichment"
	StepAnalyticsProcessing = "analytics_processing"
	StepTweetGeneration     = "tweet_generation"
	StepMarkdownGeneration  = "markdown_generation"
	StepFinalize            = "finalize"
)

// Checkpoint keys produced by the steps
var (
	KeyConference  = models.CheckpointKey{Step: StepInitialize, Artifact: "conference"}
	KeyPapers      = models.CheckpointKey{Step: StepDataExtraction, Artifact: "papers"}
	KeyAuthors     = models.CheckpointKey{Step: StepDataExtraction, Artifact: "authors"}
	KeyLoadSummary = models.CheckpointKey{Step: StepSQLiteProcessing, Artifact: "load_summary"}
	KeyProfiles    = models.CheckpointKey{Step: StepAuthorEnrichment, Artifact: "profiles"}
	KeySummary     = models.CheckpointKey{Step: StepAnalyticsProcessing, Artifact: "summary"}
	KeyTweets      = models.CheckpointKey{Step: StepTweetGeneration, Artifact: "tweets"}
	KeyDocuments   = models.CheckpointKey{Step: StepMarkdownGeneration, Artifact: "documents"}
	KeyReport      = models.CheckpointKey{Step: StepFinalize, Artifact: "report"}
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetStepsLogger()
		log = &l
	})
	return log
}

// Env carries the shared dependencies a step may use. Steps read their
// predecessors' outputs from Env.State, never from each other.
type Env struct {
	State      *state.Manager
	Config     *config.AppConfig
	Conference config.ConferenceConfig
	Client     enrich.ProfileClient
}

// Result reports what a completed step accomplished
type Result struct {
	// Counters are merged into the pipeline's progress map
	Counters map[string]int
	// ItemErrors are per-item failures the step skipped over
	ItemErrors []models.ItemError
}

// Step is one unit of pipeline work. Run must be idempotent for the same
// inputs: re-running a step overwrites its checkpoints with equivalent
// content rather than corrupting them.
type Step interface {
	Name() string
	// Inputs lists the checkpoints the step reads. The orchestrator
	// verifies these exist before resuming onto a step.
	Inputs() []models.CheckpointKey
	Run(ctx context.Context, env *Env) (*Result, error)
}

// All returns the canonical step sequence
func All() []Step {
	return []Step{
		NewInitialize(),
		NewDataExtraction(),
		NewSQLiteProcessing(),
		NewAuthorEnrichment(),
		NewAnalyticsProcessing(),
		NewTweetGeneration(),
		NewMarkdownGeneration(),
		NewFinalize(),
	}
}

// Names returns the canonical step names in execution order
func Names() []string {
	return lo.Map(All(), func(s Step, _ int) string {
		return s.Name()
	})
}

// IsValid reports whether name is a known step
func IsValid(name string) bool {
	return lo.Contains(Names(), name)
}
