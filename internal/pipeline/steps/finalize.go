// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/confpipe/confpipe/internal/pipeline/models"

	"github.com/samber/lo"
)

// Finalize assembles the run report from the pipeline state and the
// enrichment outcomes. It is the last step; once it completes the run is
// marked completed.
type Finalize struct{}

// NewFinalize creates the finalize step
func NewFinalize() *Finalize {
	return &Finalize{}
}

// Name returns the step name
func (s *Finalize) Name() string {
	return StepFinalize
}

// Inputs returns the checkpoints this step reads
func (s *Finalize) Inputs() []models.CheckpointKey {
	return []models.CheckpointKey{KeyProfiles, KeyDocuments}
}

// Run checkpoints the run report and writes report.json to the output
// directory.
func (s *Finalize) Run(ctx context.Context, env *Env) (*Result, error) {
	snapshot := env.State.GetStatus()

	var profiles map[string]models.EnrichmentRecord
	if err := env.State.LoadCheckpoint(KeyProfiles, &profiles); err != nil {
		return nil, err
	}
	var documents []models.DocumentInfo
	if err := env.State.LoadCheckpoint(KeyDocuments, &documents); err != nil {
		return nil, err
	}

	unresolved := lo.FilterMap(lo.Values(profiles), func(r models.EnrichmentRecord, _ int) (string, bool) {
		return r.Name, r.Status != models.EnrichmentResolved
	})
	sort.Strings(unresolved)

	// The report covers the whole run, including this step
	completed := snapshot.CompletedSteps
	if !lo.Contains(completed, StepFinalize) {
		completed = append(completed, StepFinalize)
	}

	report := models.RunReport{
		PipelineID:        snapshot.PipelineID,
		Conference:        snapshot.Conference,
		CompletedSteps:    completed,
		Counters:          snapshot.Progress,
		UnresolvedAuthors: unresolved,
		GeneratedAt:       time.Now().UTC(),
	}

	if err := env.State.SaveCheckpoint(KeyReport, report); err != nil {
		return nil, err
	}

	outPath := filepath.Join(env.Config.Data.OutputDir, env.Conference.Name, "report.json")
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run report: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write run report: %w", err)
	}

	getLog().Info().
		Str("pipeline_id", snapshot.PipelineID).
		Int("documents", len(documents)).
		Int("unresolved_authors", len(unresolved)).
		Str("report", outPath).
		Msg("Run finalized")

	return &Result{
		Counters: map[string]int{"reports_written": 1},
	}, nil
}
