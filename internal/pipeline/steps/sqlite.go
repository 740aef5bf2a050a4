// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package steps

import (
	"context"

	"github.com/confpipe/confpipe/internal/pipeline/database"
	"github.com/confpipe/confpipe/internal/pipeline/models"
)

// SQLiteProcessing loads the extracted papers and authors into the
// per-conference SQLite database. The load replaces prior rows, so
// re-running the step yields the same database.
type SQLiteProcessing struct{}

// NewSQLiteProcessing creates the database load step
func NewSQLiteProcessing() *SQLiteProcessing {
	return &SQLiteProcessing{}
}

// Name returns the step name
func (s *SQLiteProcessing) Name() string {
	return StepSQLiteProcessing
}

// Inputs returns the checkpoints this step reads
func (s *SQLiteProcessing) Inputs() []models.CheckpointKey {
	return []models.CheckpointKey{KeyPapers, KeyAuthors}
}

// Run loads the relational form of the dataset and checkpoints a summary
// of what landed in the database.
func (s *SQLiteProcessing) Run(ctx context.Context, env *Env) (*Result, error) {
	var papers []models.Paper
	if err := env.State.LoadCheckpoint(KeyPapers, &papers); err != nil {
		return nil, err
	}
	var authors []models.Author
	if err := env.State.LoadCheckpoint(KeyAuthors, &authors); err != nil {
		return nil, err
	}

	dbPath := env.Config.DatabasePath(env.Conference.Name)
	store, err := database.NewStore(dbPath)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if err := store.ReplaceConferenceData(papers, authors); err != nil {
		return nil, err
	}

	paperCount, err := store.CountPapers()
	if err != nil {
		return nil, err
	}
	authorCount, err := store.CountAuthors()
	if err != nil {
		return nil, err
	}

	summary := models.LoadSummary{
		Papers:       int(paperCount),
		Authors:      int(authorCount),
		DatabasePath: dbPath,
	}
	if err := env.State.SaveCheckpoint(KeyLoadSummary, summary); err != nil {
		return nil, err
	}

	getLog().Info().
		Int64("papers", paperCount).
		Int64("authors", authorCount).
		Str("database", dbPath).
		Msg("Database loaded")

	return &Result{
		Counters: map[string]int{
			"papers_loaded":  int(paperCount),
			"authors_loaded": int(authorCount),
		},
	}, nil
}
