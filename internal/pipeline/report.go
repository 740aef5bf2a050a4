// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/confpipe/confpipe/internal/pipeline/models"

	"github.com/samber/lo"
)

// RunSummary describes what one Run invocation did
type RunSummary struct {
	Snapshot *models.StatusSnapshot
	Duration time.Duration
	// Executed lists steps that ran in this invocation
	Executed []string
	// Skipped lists steps carried over from earlier invocations
	Skipped []string
}

// Render formats the run summary for terminal output
func (s *RunSummary) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Pipeline %s: %s\n", s.Snapshot.PipelineID, s.Snapshot.Status)
	fmt.Fprintf(&b, "  Conference: %s\n", s.Snapshot.Conference)
	fmt.Fprintf(&b, "  Duration:   %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "  Executed:   %s\n", joinOrDash(s.Executed))
	fmt.Fprintf(&b, "  Skipped:    %s\n", joinOrDash(s.Skipped))

	if len(s.Snapshot.Progress) > 0 {
		b.WriteString("  Progress:\n")
		keys := lo.Keys(s.Snapshot.Progress)
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(&b, "    %-22s %d\n", key, s.Snapshot.Progress[key])
		}
	}

	return b.String()
}

// RenderStatus formats a state snapshot for the --status command
func RenderStatus(snap *models.StatusSnapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Conference: %s\n", snap.Conference)
	fmt.Fprintf(&b, "Status:     %s\n", snap.Status)
	if snap.PipelineID != "" {
		fmt.Fprintf(&b, "Pipeline:   %s\n", snap.PipelineID)
	}
	fmt.Fprintf(&b, "Progress:   %.1f%% (%d steps completed)\n",
		snap.ProgressPercentage, len(snap.CompletedSteps))
	if snap.CurrentStep != "" && snap.Status != models.StatusCompleted {
		fmt.Fprintf(&b, "Next step:  %s\n", snap.CurrentStep)
	}
	if len(snap.CompletedSteps) > 0 {
		fmt.Fprintf(&b, "Completed:  %s\n", strings.Join(snap.CompletedSteps, ", "))
	}
	if snap.StartedAt != nil {
		fmt.Fprintf(&b, "Started:    %s\n", snap.StartedAt.Format(time.RFC3339))
	}
	if snap.CompletedAt != nil {
		fmt.Fprintf(&b, "Finished:   %s\n", snap.CompletedAt.Format(time.RFC3339))
	}

	if len(snap.FailedSteps) > 0 {
		b.WriteString("Failures:\n")
		for _, f := range snap.FailedSteps {
			fmt.Fprintf(&b, "  %s  %s: %s\n",
				f.Timestamp.Format(time.RFC3339), f.Step, f.Message)
		}
	}

	return b.String()
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
