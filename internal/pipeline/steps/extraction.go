// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/confpipe/confpipe/internal/pipeline/models"

	"github.com/samber/lo"
)

// DataExtraction parses the conference dataset into papers and authors.
// Malformed entries are recorded and skipped; only an unreadable or
// syntactically broken dataset fails the step.
type DataExtraction struct{}

// NewDataExtraction creates the extraction step
func NewDataExtraction() *DataExtraction {
	return &DataExtraction{}
}

// Name returns the step name
func (s *DataExtraction) Name() string {
	return StepDataExtraction
}

// Inputs returns the checkpoints this step reads
func (s *DataExtraction) Inputs() []models.CheckpointKey {
	return []models.CheckpointKey{KeyConference}
}

// datasetWire is the on-disk dataset shape. Papers stay raw so one
// malformed entry does not fail the whole decode.
type datasetWire struct {
	Conference string            `json:"conference"`
	Papers     []json.RawMessage `json:"papers"`
}

type paperWire struct {
	ID       string          `json:"id"`
	Title    string          `json:"title"`
	Abstract string          `json:"abstract"`
	Track    string          `json:"track"`
	Session  string          `json:"session"`
	Authors  []models.Author `json:"authors"`
}

// Run parses the dataset and checkpoints the extracted papers and the
// distinct authors across them.
func (s *DataExtraction) Run(ctx context.Context, env *Env) (*Result, error) {
	var meta models.ConferenceMeta
	if err := env.State.LoadCheckpoint(KeyConference, &meta); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(meta.DataFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", meta.DataFile, err)
	}

	var wire datasetWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("dataset %s is not valid JSON: %w", meta.DataFile, err)
	}

	papers := make([]models.Paper, 0, len(wire.Papers))
	var itemErrors []models.ItemError

	for i, raw := range wire.Papers {
		var pw paperWire
		if err := json.Unmarshal(raw, &pw); err != nil {
			itemErrors = append(itemErrors, models.ItemError{
				Key:     fmt.Sprintf("papers[%d]", i),
				Message: fmt.Sprintf("malformed paper entry: %v", err),
			})
			continue
		}
		if strings.TrimSpace(pw.Title) == "" {
			itemErrors = append(itemErrors, models.ItemError{
				Key:     fmt.Sprintf("papers[%d]", i),
				Message: "paper has no title",
			})
			continue
		}
		if pw.ID == "" {
			pw.ID = fmt.Sprintf("paper-%04d", i+1)
		}

		papers = append(papers, models.Paper{
			ID:       pw.ID,
			Title:    strings.TrimSpace(pw.Title),
			Abstract: pw.Abstract,
			Track:    pw.Track,
			Session:  pw.Session,
			Authors:  pw.Authors,
		})
	}

	// Distinct authors across all papers, first appearance wins
	allAuthors := lo.FlatMap(papers, func(p models.Paper, _ int) []models.Author {
		return p.Authors
	})
	authors := lo.UniqBy(allAuthors, func(a models.Author) string {
		return a.DedupKey()
	})

	if err := env.State.SaveCheckpoint(KeyPapers, papers); err != nil {
		return nil, err
	}
	if err := env.State.SaveCheckpoint(KeyAuthors, authors); err != nil {
		return nil, err
	}

	getLog().Info().
		Int("papers", len(papers)).
		Int("authors", len(authors)).
		Int("skipped", len(itemErrors)).
		Msg("Dataset extracted")

	return &Result{
		Counters: map[string]int{
			"papers_extracted":  len(papers),
			"authors_extracted": len(authors),
			"papers_skipped":    len(itemErrors),
		},
		ItemErrors: itemErrors,
	}, nil
}
