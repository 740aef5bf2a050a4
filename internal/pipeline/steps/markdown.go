// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/confpipe/confpipe/internal/pipeline/models"

	"github.com/samber/lo"
)

// MarkdownGeneration renders the human-facing documents: a conference
// summary and an author directory. Output is deterministic for a given
// summary and profile set.
type MarkdownGeneration struct{}

// NewMarkdownGeneration creates the markdown generation step
func NewMarkdownGeneration() *MarkdownGeneration {
	return &MarkdownGeneration{}
}

// Name returns the step name
func (s *MarkdownGeneration) Name() string {
	return StepMarkdownGeneration
}

// Inputs returns the checkpoints this step reads
func (s *MarkdownGeneration) Inputs() []models.CheckpointKey {
	return []models.CheckpointKey{KeySummary, KeyProfiles}
}

// Run writes summary.md and authors.md into the output directory and
// checkpoints the document list.
func (s *MarkdownGeneration) Run(ctx context.Context, env *Env) (*Result, error) {
	var summary models.AnalyticsSummary
	if err := env.State.LoadCheckpoint(KeySummary, &summary); err != nil {
		return nil, err
	}
	var profiles map[string]models.EnrichmentRecord
	if err := env.State.LoadCheckpoint(KeyProfiles, &profiles); err != nil {
		return nil, err
	}

	outDir := filepath.Join(env.Config.Data.OutputDir, env.Conference.Name)
	documents := make([]models.DocumentInfo, 0, 2)
	totalBytes := 0

	renderers := []struct {
		name   string
		render func() string
	}{
		{"summary.md", func() string { return renderSummaryMarkdown(env.Conference.DisplayName, summary) }},
		{"authors.md", func() string { return renderAuthorsMarkdown(env.Conference.DisplayName, profiles) }},
	}
	for _, r := range renderers {
		content := r.render()
		path := filepath.Join(outDir, r.name)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", path, err)
		}
		documents = append(documents, models.DocumentInfo{
			Name:  r.name,
			Path:  path,
			Bytes: len(content),
		})
		totalBytes += len(content)
	}

	if err := env.State.SaveCheckpoint(KeyDocuments, documents); err != nil {
		return nil, err
	}

	getLog().Info().
		Int("documents", len(documents)).
		Int("bytes", totalBytes).
		Str("output_dir", outDir).
		Msg("Markdown documents generated")

	return &Result{
		Counters: map[string]int{
			"documents_generated": len(documents),
			"bytes_written":       totalBytes,
		},
	}, nil
}

func renderSummaryMarkdown(displayName string, summary models.AnalyticsSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", displayName)
	fmt.Fprintf(&b, "Generated %s.\n\n", summary.GeneratedAt.Format("2006-01-02 15:04 UTC"))

	b.WriteString("## Numbers\n\n")
	fmt.Fprintf(&b, "| Metric | Value |\n|--------|-------|\n")
	fmt.Fprintf(&b, "| Papers | %d |\n", summary.TotalPapers)
	fmt.Fprintf(&b, "| Author mentions | %d |\n", summary.TotalAuthors)
	fmt.Fprintf(&b, "| Distinct authors | %d |\n", summary.DistinctAuthors)
	fmt.Fprintf(&b, "| Enriched profiles | %d |\n", summary.EnrichedAuthors)
	fmt.Fprintf(&b, "| Unresolved profiles | %d |\n\n", summary.UnresolvedAuthors)

	if len(summary.PapersPerTrack) > 0 {
		b.WriteString("## Papers per track\n\n")
		for _, name := range sortedKeys(summary.PapersPerTrack) {
			fmt.Fprintf(&b, "- %s: %d\n", name, summary.PapersPerTrack[name])
		}
		b.WriteString("\n")
	}

	if len(summary.AuthorsPerCountry) > 0 {
		b.WriteString("## Authors per country\n\n")
		for _, name := range sortedKeys(summary.AuthorsPerCountry) {
			fmt.Fprintf(&b, "- %s: %d\n", name, summary.AuthorsPerCountry[name])
		}
		b.WriteString("\n")
	}

	if len(summary.TopAuthors) > 0 {
		b.WriteString("## Most prolific authors\n\n")
		for i, a := range summary.TopAuthors {
			fmt.Fprintf(&b, "%d. %s (%d papers)\n", i+1, a.Name, a.Papers)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func renderAuthorsMarkdown(displayName string, profiles map[string]models.EnrichmentRecord) string {
	records := lo.Values(profiles)
	sort.Slice(records, func(i, j int) bool {
		return records[i].Name < records[j].Name
	})

	resolved := lo.Filter(records, func(r models.EnrichmentRecord, _ int) bool {
		return r.Status == models.EnrichmentResolved
	})
	unresolved := lo.Filter(records, func(r models.EnrichmentRecord, _ int) bool {
		return r.Status != models.EnrichmentResolved
	})

	var b strings.Builder
	fmt.Fprintf(&b, "# %s Authors\n\n", displayName)

	fmt.Fprintf(&b, "## Enriched profiles (%d)\n\n", len(resolved))
	for _, r := range resolved {
		name := r.Name
		if r.Profile != nil && r.Profile.DisplayName != "" {
			name = r.Profile.DisplayName
		}
		fmt.Fprintf(&b, "### %s\n\n", name)
		if r.Profile != nil {
			if r.Profile.Affiliation != "" {
				fmt.Fprintf(&b, "- Affiliation: %s\n", r.Profile.Affiliation)
			}
			if r.Profile.Country != "" {
				fmt.Fprintf(&b, "- Country: %s\n", r.Profile.Country)
			}
			if r.Profile.Source != "" {
				fmt.Fprintf(&b, "- Source: %s\n", r.Profile.Source)
			}
			if r.Profile.Bio != "" {
				fmt.Fprintf(&b, "\n%s\n", r.Profile.Bio)
			}
		}
		b.WriteString("\n")
	}

	if len(unresolved) > 0 {
		fmt.Fprintf(&b, "## Unresolved (%d)\n\n", len(unresolved))
		for _, r := range unresolved {
			reason := r.Reason
			if reason == "" {
				reason = "unknown"
			}
			fmt.Fprintf(&b, "- %s (%s)\n", r.Name, reason)
		}
		b.WriteString("\n")
	}

	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := lo.Keys(m)
	sort.Strings(keys)
	return keys
}
