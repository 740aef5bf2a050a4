// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/confpipe/confpipe/internal/pipeline/database"
	"github.com/confpipe/confpipe/internal/pipeline/models"

	"github.com/samber/lo"
)

// AnalyticsProcessing computes the conference summary from the loaded
// database and the enrichment outcomes.
type AnalyticsProcessing struct{}

// NewAnalyticsProcessing creates the analytics step
func NewAnalyticsProcessing() *AnalyticsProcessing {
	return &AnalyticsProcessing{}
}

// Name returns the step name
func (s *AnalyticsProcessing) Name() string {
	return StepAnalyticsProcessing
}

// Inputs returns the checkpoints this step reads
func (s *AnalyticsProcessing) Inputs() []models.CheckpointKey {
	return []models.CheckpointKey{KeyPapers, KeyLoadSummary, KeyProfiles}
}

// Run aggregates the database, folds in enrichment outcomes, and writes the
// analytics summary both as a checkpoint and as a JSON report next to the
// database.
func (s *AnalyticsProcessing) Run(ctx context.Context, env *Env) (*Result, error) {
	var papers []models.Paper
	if err := env.State.LoadCheckpoint(KeyPapers, &papers); err != nil {
		return nil, err
	}
	var load models.LoadSummary
	if err := env.State.LoadCheckpoint(KeyLoadSummary, &load); err != nil {
		return nil, err
	}
	var profiles map[string]models.EnrichmentRecord
	if err := env.State.LoadCheckpoint(KeyProfiles, &profiles); err != nil {
		return nil, err
	}

	store, err := database.NewStore(load.DatabasePath)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	totalPapers, err := store.CountPapers()
	if err != nil {
		return nil, err
	}
	distinctAuthors, err := store.CountAuthors()
	if err != nil {
		return nil, err
	}
	perTrack, err := store.PapersPerTrack()
	if err != nil {
		return nil, err
	}
	perCountry, err := store.AuthorsPerCountry()
	if err != nil {
		return nil, err
	}
	topAuthors, err := store.TopAuthorsByPapers(10)
	if err != nil {
		return nil, err
	}

	enriched := lo.CountBy(lo.Values(profiles), func(r models.EnrichmentRecord) bool {
		return r.Status == models.EnrichmentResolved
	})

	summary := models.AnalyticsSummary{
		Conference:        env.Conference.Name,
		TotalPapers:       int(totalPapers),
		TotalAuthors:      lo.SumBy(papers, func(p models.Paper) int { return len(p.Authors) }),
		DistinctAuthors:   int(distinctAuthors),
		PapersPerTrack:    perTrack,
		AuthorsPerCountry: perCountry,
		TopAuthors:        topAuthors,
		EnrichedAuthors:   enriched,
		UnresolvedAuthors: len(profiles) - enriched,
		GeneratedAt:       time.Now().UTC(),
	}

	if err := env.State.SaveCheckpoint(KeySummary, summary); err != nil {
		return nil, err
	}

	// Human-readable copy next to the database
	reportPath := filepath.Join(env.Config.Data.AnalyticsDir, env.Conference.Name, "analytics.json")
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analytics summary: %w", err)
	}
	if err := os.WriteFile(reportPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write analytics report: %w", err)
	}

	getLog().Info().
		Int("papers", summary.TotalPapers).
		Int("distinct_authors", summary.DistinctAuthors).
		Int("tracks", len(perTrack)).
		Str("report", reportPath).
		Msg("Analytics computed")

	return &Result{
		Counters: map[string]int{
			"tracks_analyzed":    len(perTrack),
			"countries_analyzed": len(perCountry),
		},
	}, nil
}
