// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a pipeline run
type Status int

const (
	StatusNotStarted Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusInterrupted
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// ParseStatus converts a serialized status string back to a Status
func ParseStatus(s string) (Status, error) {
	switch s {
	case "not_started":
		return StatusNotStarted, nil
	case "running":
		return StatusRunning, nil
	case "completed":
		return StatusCompleted, nil
	case "failed":
		return StatusFailed, nil
	case "interrupted":
		return StatusInterrupted, nil
	default:
		return StatusNotStarted, fmt.Errorf("unknown status: %q", s)
	}
}

// MarshalJSON serializes the status as its string form so state files stay
// readable when inspected by hand.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// StepError records a single step failure
type StepError struct {
	Step      string    `json:"step"`
	Message   string    `json:"error_message"`
	Timestamp time.Time `json:"timestamp"`
}

// PipelineState is the durable record of one pipeline run for a conference.
// It is created by the state manager, mutated only through state manager
// methods, and persisted synchronously on every mutation.
type PipelineState struct {
	PipelineID  string `json:"pipeline_id"`
	Conference  string `json:"conference"`
	Status      Status `json:"status"`
	CurrentStep string `json:"current_step,omitempty"`

	// CompletedSteps is ordered by completion; a step appears at most once.
	CompletedSteps []string `json:"completed_steps"`

	// FailedSteps is append-only; entries survive resumes for audit.
	FailedSteps []StepError `json:"failed_steps"`

	// Progress holds free-form counters updated by steps
	// (papers_extracted, authors_enriched, ...).
	Progress map[string]int `json:"progress"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewPipelineState creates a fresh state with a new pipeline ID
func NewPipelineState(conference string) *PipelineState {
	now := time.Now().UTC()
	return &PipelineState{
		PipelineID:     uuid.New().String(),
		Conference:     conference,
		Status:         StatusNotStarted,
		CompletedSteps: []string{},
		FailedSteps:    []StepError{},
		Progress:       map[string]int{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsStepCompleted reports whether the step has been marked complete
func (s *PipelineState) IsStepCompleted(step string) bool {
	for _, done := range s.CompletedSteps {
		if done == step {
			return true
		}
	}
	return false
}

// MarkStepCompleted appends the step to CompletedSteps if not already present
func (s *PipelineState) MarkStepCompleted(step string) {
	if s.IsStepCompleted(step) {
		return
	}
	s.CompletedSteps = append(s.CompletedSteps, step)
}

// RecordFailure appends a failure entry for the step
func (s *PipelineState) RecordFailure(step, message string) {
	s.FailedSteps = append(s.FailedSteps, StepError{
		Step:      step,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// AddProgress merges counter deltas into the progress map
func (s *PipelineState) AddProgress(counters map[string]int) {
	if len(counters) == 0 {
		return
	}
	if s.Progress == nil {
		s.Progress = map[string]int{}
	}
	for k, v := range counters {
		s.Progress[k] += v
	}
}

// LastCompletedStep returns the most recently completed step, or "" if none
func (s *PipelineState) LastCompletedStep() string {
	if len(s.CompletedSteps) == 0 {
		return ""
	}
	return s.CompletedSteps[len(s.CompletedSteps)-1]
}

// StatusSnapshot is a read-only view of a pipeline run used for reporting.
// It carries copies, never pointers into live state.
type StatusSnapshot struct {
	Conference         string         `json:"conference"`
	PipelineID         string         `json:"pipeline_id"`
	Status             Status         `json:"status"`
	ProgressPercentage float64        `json:"progress_percentage"`
	CurrentStep        string         `json:"current_step,omitempty"`
	CompletedSteps     []string       `json:"completed_steps"`
	FailedSteps        []StepError    `json:"failed_steps"`
	Progress           map[string]int `json:"progress"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	CompletedAt        *time.Time     `json:"completed_at,omitempty"`
}

// Snapshot builds a read-only snapshot of the state. totalSteps drives the
// progress percentage and must be the length of the canonical sequence.
func (s *PipelineState) Snapshot(totalSteps int) *StatusSnapshot {
	snap := &StatusSnapshot{
		Conference:     s.Conference,
		PipelineID:     s.PipelineID,
		Status:         s.Status,
		CurrentStep:    s.CurrentStep,
		CompletedSteps: append([]string{}, s.CompletedSteps...),
		FailedSteps:    append([]StepError{}, s.FailedSteps...),
		Progress:       map[string]int{},
		StartedAt:      s.StartedAt,
		CompletedAt:    s.CompletedAt,
	}
	for k, v := range s.Progress {
		snap.Progress[k] = v
	}
	if totalSteps > 0 {
		snap.ProgressPercentage = float64(len(s.CompletedSteps)) / float64(totalSteps) * 100
	}
	return snap
}
