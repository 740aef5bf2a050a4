// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package steps

import (
	"context"

	"github.com/confpipe/confpipe/internal/pipeline/enrich"
	"github.com/confpipe/confpipe/internal/pipeline/models"
)

// AuthorEnrichment resolves author profiles against the configured source.
// This is the only concurrent region of the pipeline; everything it learns
// is checkpointed as a single keyed artifact once the batch completes.
type AuthorEnrichment struct{}

// NewAuthorEnrichment creates the enrichment step
func NewAuthorEnrichment() *AuthorEnrichment {
	return &AuthorEnrichment{}
}

// Name returns the step name
func (s *AuthorEnrichment) Name() string {
	return StepAuthorEnrichment
}

// Inputs returns the checkpoints this step reads
func (s *AuthorEnrichment) Inputs() []models.CheckpointKey {
	return []models.CheckpointKey{KeyAuthors}
}

// Run enriches every distinct author and checkpoints the outcome map. An
// interrupted batch checkpoints nothing; the step re-runs in full on
// resume.
func (s *AuthorEnrichment) Run(ctx context.Context, env *Env) (*Result, error) {
	var authors []models.Author
	if err := env.State.LoadCheckpoint(KeyAuthors, &authors); err != nil {
		return nil, err
	}

	enricher := enrich.New(env.Client, enrich.Config{
		MaxConcurrent:  env.Config.Enrichment.MaxConcurrent,
		RequestTimeout: env.Config.Enrichment.RequestTimeout,
		RateLimitDelay: env.Config.Enrichment.RateLimitDelay,
		Retry: enrich.RetryPolicy{
			MaxAttempts: env.Config.Enrichment.MaxRetries,
			BaseBackoff: env.Config.Enrichment.RetryBaseDelay,
			MaxBackoff:  env.Config.Enrichment.RetryMaxDelay,
		},
	})

	profiles, stats, err := enricher.EnrichAll(ctx, authors)
	if err != nil {
		// Includes models.ErrInterrupted: an interrupted batch is
		// abandoned unsaved and re-runs in full on resume.
		return nil, err
	}

	if err := env.State.SaveCheckpoint(KeyProfiles, profiles); err != nil {
		return nil, err
	}

	return &Result{
		Counters: map[string]int{
			"authors_enriched":   stats.Resolved,
			"authors_unresolved": stats.Unresolved,
			"lookups_dispatched": stats.Dispatched,
			"duplicates_merged":  stats.Duplicates,
		},
	}, nil
}
