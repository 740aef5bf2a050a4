// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package state persists pipeline run metadata and step checkpoints as
// human-inspectable JSON files, one directory per conference.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/confpipe/confpipe/internal/logger"
	"github.com/confpipe/confpipe/internal/pipeline/models"

	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a checkpoint does not exist for the current
// pipeline run.
var ErrNotFound = errors.New("checkpoint not found")

const (
	stateFileName     = "pipeline_state.json"
	checkpointDirName = "checkpoints"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := logger.GetStateLogger()
		log = &l
	})
	return log
}

// Manager owns the PipelineState for one conference and mediates all reads
// and writes to the checkpoint store. Every mutating method persists the
// updated state synchronously before returning, so a crash loses at most the
// in-flight step's partial work.
type Manager struct {
	mu         sync.Mutex
	root       string
	conference string
	sequence   []string
	st         *models.PipelineState
	lock       *FileLock
}

// NewManager opens (or creates) the state directory for a conference and
// loads prior state when present. The manager starts without the writer
// lock; callers that intend to mutate must Acquire first.
func NewManager(stateDir, conference string, sequence []string) (*Manager, error) {
	if conference == "" {
		return nil, fmt.Errorf("conference is required")
	}
	root := filepath.Join(stateDir, conference)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", root, err)
	}

	m := &Manager{
		root:       root,
		conference: conference,
		sequence:   append([]string{}, sequence...),
	}

	st, err := readStateFile(filepath.Join(root, stateFileName))
	if err != nil {
		return nil, err
	}
	m.st = st

	return m, nil
}

// Acquire takes the single-writer lock for this conference. Calling Acquire
// on a manager that already holds the lock is a no-op.
func (m *Manager) Acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lock != nil {
		return nil
	}
	lock, err := AcquireLock(m.root)
	if err != nil {
		return err
	}
	m.lock = lock
	return nil
}

// Close releases the writer lock if held
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lock == nil {
		return nil
	}
	err := m.lock.Release()
	m.lock = nil
	return err
}

// Root returns the conference state directory
func (m *Manager) Root() string {
	return m.root
}

// InitializeState creates or resumes the pipeline state. Without
// forceRestart an existing state is returned unchanged, making repeated runs
// resumable. With forceRestart the prior bookkeeping is discarded and a
// fresh pipeline ID assigned; checkpoint payloads of the old run stay on
// disk under the old ID.
func (m *Manager) InitializeState(forceRestart bool) (*models.PipelineState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireLockLocked(); err != nil {
		return nil, err
	}

	if m.st != nil && !forceRestart {
		getLog().Debug().
			Str("pipeline_id", m.st.PipelineID).
			Str("status", m.st.Status.String()).
			Int("completed_steps", len(m.st.CompletedSteps)).
			Msg("Resuming existing pipeline state")
		return m.st, nil
	}

	if m.st != nil && forceRestart {
		getLog().Info().
			Str("previous_pipeline_id", m.st.PipelineID).
			Msg("Force restart: discarding prior progress")
	}

	m.st = models.NewPipelineState(m.conference)
	if err := m.persistLocked(); err != nil {
		return nil, err
	}

	getLog().Info().
		Str("pipeline_id", m.st.PipelineID).
		Str("conference", m.conference).
		Msg("Initialized pipeline state")
	return m.st, nil
}

// SaveCheckpoint durably writes the payload under the current pipeline's
// namespace. The write is atomic with respect to process crash: the payload
// lands in a temporary file that is renamed into place, so a partially
// written checkpoint is never visible to LoadCheckpoint.
func (m *Manager) SaveCheckpoint(key models.CheckpointKey, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireLockLocked(); err != nil {
		return err
	}
	if err := m.requireStateLocked(); err != nil {
		return err
	}

	envelope, err := models.NewCheckpointEnvelope(m.st.PipelineID, key, payload)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint %s: %w", key, err)
	}

	path := m.checkpointPathLocked(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", key, err)
	}

	getLog().Debug().
		Str("checkpoint", key.String()).
		Str("pipeline_id", m.st.PipelineID).
		Int("bytes", len(data)).
		Msg("Checkpoint saved")
	return nil
}

// LoadCheckpoint reads a checkpoint payload into out, exactly as saved.
// Returns ErrNotFound when the checkpoint does not exist for the current
// pipeline run; any other failure means the artifact is corrupt.
func (m *Manager) LoadCheckpoint(key models.CheckpointKey, out any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireStateLocked(); err != nil {
		return err
	}
	if err := key.Validate(); err != nil {
		return err
	}

	path := m.checkpointPathLocked(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return fmt.Errorf("failed to read checkpoint %s: %w", key, err)
	}

	var envelope models.CheckpointEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("checkpoint %s is corrupt: %w", key, err)
	}
	if err := envelope.Validate(key); err != nil {
		return err
	}
	if envelope.PipelineID != m.st.PipelineID {
		return fmt.Errorf("checkpoint %s belongs to pipeline %s, current is %s", key, envelope.PipelineID, m.st.PipelineID)
	}

	return envelope.DecodePayload(out)
}

// HasCheckpoint reports whether a checkpoint exists for the current run
func (m *Manager) HasCheckpoint(key models.CheckpointKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st == nil {
		return false
	}
	_, err := os.Stat(m.checkpointPathLocked(key))
	return err == nil
}

// MarkStepComplete appends the step to completed_steps (idempotent) and
// advances current_step to the next pending step in the sequence.
func (m *Manager) MarkStepComplete(step string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireLockLocked(); err != nil {
		return err
	}
	if err := m.requireStateLocked(); err != nil {
		return err
	}

	m.st.MarkStepCompleted(step)
	m.st.CurrentStep = m.nextPendingLocked()
	return m.persistLocked()
}

// nextPendingLocked returns the first step in the sequence not yet
// completed. When every step is done it returns the final step so the state
// still names where the run ended.
func (m *Manager) nextPendingLocked() string {
	for _, name := range m.sequence {
		if !m.st.IsStepCompleted(name) {
			return name
		}
	}
	if len(m.sequence) > 0 {
		return m.sequence[len(m.sequence)-1]
	}
	return ""
}

// IsStepCompleted reports whether the step has been marked complete
func (m *Manager) IsStepCompleted(step string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st == nil {
		return false
	}
	return m.st.IsStepCompleted(step)
}

// SetCurrentStep records the step in progress
func (m *Manager) SetCurrentStep(step string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireLockLocked(); err != nil {
		return err
	}
	if err := m.requireStateLocked(); err != nil {
		return err
	}

	m.st.CurrentStep = step
	return m.persistLocked()
}

// RecordError appends a failure entry for the step. It does not change the
// run status; that transition belongs to the orchestrator.
func (m *Manager) RecordError(step string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireLockLocked(); err != nil {
		return err
	}
	if err := m.requireStateLocked(); err != nil {
		return err
	}

	m.st.RecordFailure(step, cause.Error())
	return m.persistLocked()
}

// SetStatus transitions the run status. The first transition to running
// stamps started_at; the transition to completed stamps completed_at.
func (m *Manager) SetStatus(status models.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireLockLocked(); err != nil {
		return err
	}
	if err := m.requireStateLocked(); err != nil {
		return err
	}

	m.st.Status = status
	now := time.Now().UTC()
	if status == models.StatusRunning && m.st.StartedAt == nil {
		m.st.StartedAt = &now
	}
	if status == models.StatusCompleted {
		m.st.CompletedAt = &now
	}
	return m.persistLocked()
}

// AddProgress merges counter deltas into the progress map and persists
func (m *Manager) AddProgress(counters map[string]int) error {
	if len(counters) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireLockLocked(); err != nil {
		return err
	}
	if err := m.requireStateLocked(); err != nil {
		return err
	}

	m.st.AddProgress(counters)
	return m.persistLocked()
}

// GetStatus returns a read-only snapshot. It is callable at any time,
// including before any run exists, in which case the snapshot reports
// not_started.
func (m *Manager) GetStatus() *models.StatusSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.st == nil {
		return &models.StatusSnapshot{
			Conference:     m.conference,
			Status:         models.StatusNotStarted,
			CompletedSteps: []string{},
			FailedSteps:    []models.StepError{},
			Progress:       map[string]int{},
		}
	}
	return m.st.Snapshot(len(m.sequence))
}

func (m *Manager) requireLockLocked() error {
	if m.lock == nil {
		return fmt.Errorf("state manager mutation without writer lock")
	}
	return nil
}

func (m *Manager) requireStateLocked() error {
	if m.st == nil {
		return fmt.Errorf("pipeline state not initialized")
	}
	return nil
}

func (m *Manager) checkpointPathLocked(key models.CheckpointKey) string {
	return filepath.Join(m.root, checkpointDirName, m.st.PipelineID, key.String()+".json")
}

func (m *Manager) persistLocked() error {
	m.st.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(m.st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal pipeline state: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(m.root, stateFileName), data); err != nil {
		return fmt.Errorf("failed to persist pipeline state: %w", err)
	}
	return nil
}

func readStateFile(path string) (*models.PipelineState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}
	var st models.PipelineState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("state file %s is corrupt: %w", path, err)
	}
	return &st, nil
}

// writeFileAtomic writes data to a temporary file in the target directory,
// syncs it, and renames it into place. Readers never observe a partial
// write.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
