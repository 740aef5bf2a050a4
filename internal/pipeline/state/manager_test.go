// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/confpipe/confpipe/internal/pipeline/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSequence = []string{"initialize", "data_extraction", "finalize"}

// newTestManager creates an acquired manager rooted in a temp directory.
// The lock is released automatically when the test finishes.
func newTestManager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(t.TempDir(), "test-conf", testSequence)
	require.NoError(t, err, "Failed to create state manager")
	require.NoError(t, m.Acquire(), "Failed to acquire writer lock")
	t.Cleanup(func() { _ = m.Close() })
	return m
}

type testPayload struct {
	Items []string `json:"items"`
	Count int      `json:"count"`
}

func TestNewManager_RequiresConference(t *testing.T) {
	_, err := NewManager(t.TempDir(), "", testSequence)
	assert.Error(t, err, "Empty conference should be rejected")
}

func TestManager_MutationRequiresLock(t *testing.T) {
	m, err := NewManager(t.TempDir(), "test-conf", testSequence)
	require.NoError(t, err, "Failed to create state manager")

	_, err = m.InitializeState(false)
	require.Error(t, err, "InitializeState without the lock should fail")
	assert.Contains(t, err.Error(), "without writer lock")
}

func TestManager_InitializeState(t *testing.T) {
	m := newTestManager(t)

	st, err := m.InitializeState(false)
	require.NoError(t, err, "Failed to initialize state")

	assert.NotEmpty(t, st.PipelineID, "Fresh state should carry a pipeline ID")
	assert.Equal(t, "test-conf", st.Conference)
	assert.Equal(t, models.StatusNotStarted, st.Status)
	assert.Empty(t, st.CompletedSteps)

	// The state file must exist immediately, not on close
	_, statErr := os.Stat(filepath.Join(m.Root(), stateFileName))
	assert.NoError(t, statErr, "State file should be persisted on initialization")
}

func TestManager_InitializeState_ResumesExisting(t *testing.T) {
	dir := t.TempDir()

	m1, err := NewManager(dir, "test-conf", testSequence)
	require.NoError(t, err)
	require.NoError(t, m1.Acquire())

	st1, err := m1.InitializeState(false)
	require.NoError(t, err)
	require.NoError(t, m1.MarkStepComplete("initialize"))
	require.NoError(t, m1.Close(), "Failed to release lock")

	// A second manager over the same directory sees the same run
	m2, err := NewManager(dir, "test-conf", testSequence)
	require.NoError(t, err)
	require.NoError(t, m2.Acquire())
	defer m2.Close()

	st2, err := m2.InitializeState(false)
	require.NoError(t, err)

	assert.Equal(t, st1.PipelineID, st2.PipelineID, "Resume must keep the pipeline ID")
	assert.True(t, m2.IsStepCompleted("initialize"), "Completed steps must survive reload")
}

func TestManager_InitializeState_ForceRestart(t *testing.T) {
	m := newTestManager(t)

	st1, err := m.InitializeState(false)
	require.NoError(t, err)

	key := models.CheckpointKey{Step: "initialize", Artifact: "conference"}
	require.NoError(t, m.SaveCheckpoint(key, testPayload{Count: 1}))
	require.True(t, m.HasCheckpoint(key), "Checkpoint should exist before restart")

	oldCheckpoint := filepath.Join(m.Root(), checkpointDirName, st1.PipelineID, key.String()+".json")

	st2, err := m.InitializeState(true)
	require.NoError(t, err)

	assert.NotEqual(t, st1.PipelineID, st2.PipelineID, "Force restart must assign a fresh pipeline ID")
	assert.False(t, m.HasCheckpoint(key), "Old checkpoints must not be visible to the new run")

	// The old run's payload stays on disk under its own ID
	_, statErr := os.Stat(oldCheckpoint)
	assert.NoError(t, statErr, "Old checkpoint files should remain on disk")
}

func TestManager_SaveAndLoadCheckpoint(t *testing.T) {
	m := newTestManager(t)
	st, err := m.InitializeState(false)
	require.NoError(t, err)

	key := models.CheckpointKey{Step: "data_extraction", Artifact: "papers"}
	saved := testPayload{Items: []string{"alpha", "beta"}, Count: 2}
	require.NoError(t, m.SaveCheckpoint(key, saved), "Failed to save checkpoint")

	var loaded testPayload
	require.NoError(t, m.LoadCheckpoint(key, &loaded), "Failed to load checkpoint")
	assert.Equal(t, saved, loaded, "Loaded payload must equal saved payload")

	// The on-disk envelope is self-describing
	path := filepath.Join(m.Root(), checkpointDirName, st.PipelineID, "data_extraction__papers.json")
	data, readErr := os.ReadFile(path)
	require.NoError(t, readErr, "Checkpoint file should exist at the keyed path")

	var envelope models.CheckpointEnvelope
	require.NoError(t, json.Unmarshal(data, &envelope), "Checkpoint file should be valid JSON")
	assert.Equal(t, models.CheckpointSchemaVersion, envelope.SchemaVersion)
	assert.Equal(t, st.PipelineID, envelope.PipelineID)
	assert.NotEmpty(t, envelope.PayloadHash)
}

func TestManager_SaveCheckpoint_Overwrite(t *testing.T) {
	m := newTestManager(t)
	_, err := m.InitializeState(false)
	require.NoError(t, err)

	key := models.CheckpointKey{Step: "data_extraction", Artifact: "papers"}
	require.NoError(t, m.SaveCheckpoint(key, testPayload{Count: 1}))
	require.NoError(t, m.SaveCheckpoint(key, testPayload{Count: 2}), "Re-running a step overwrites its checkpoint")

	var loaded testPayload
	require.NoError(t, m.LoadCheckpoint(key, &loaded))
	assert.Equal(t, 2, loaded.Count, "Load must observe the latest write")
}

func TestManager_LoadCheckpoint_NotFound(t *testing.T) {
	m := newTestManager(t)
	_, err := m.InitializeState(false)
	require.NoError(t, err)

	var out testPayload
	err = m.LoadCheckpoint(models.CheckpointKey{Step: "finalize", Artifact: "report"}, &out)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound), "Missing checkpoint should be ErrNotFound, got %v", err)
}

func TestManager_LoadCheckpoint_Corrupt(t *testing.T) {
	m := newTestManager(t)
	st, err := m.InitializeState(false)
	require.NoError(t, err)

	key := models.CheckpointKey{Step: "data_extraction", Artifact: "papers"}
	require.NoError(t, m.SaveCheckpoint(key, testPayload{Count: 1}))

	path := filepath.Join(m.Root(), checkpointDirName, st.PipelineID, key.String()+".json")

	t.Run("garbage_file", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

		var out testPayload
		err := m.LoadCheckpoint(key, &out)
		require.Error(t, err, "Garbage checkpoint must not load")
		assert.Contains(t, err.Error(), "corrupt")
	})

	t.Run("tampered_payload", func(t *testing.T) {
		require.NoError(t, m.SaveCheckpoint(key, testPayload{Count: 1}))

		data, readErr := os.ReadFile(path)
		require.NoError(t, readErr)
		tampered := strings.Replace(string(data), `"count": 1`, `"count": 9`, 1)
		require.NotEqual(t, string(data), tampered, "Tampering should change the file")
		require.NoError(t, os.WriteFile(path, []byte(tampered), 0644))

		var out testPayload
		err := m.LoadCheckpoint(key, &out)
		require.Error(t, err, "Tampered payload must not load")
		assert.Contains(t, err.Error(), "hash mismatch")
	})
}

func TestManager_MarkStepComplete(t *testing.T) {
	m := newTestManager(t)
	_, err := m.InitializeState(false)
	require.NoError(t, err)

	require.NoError(t, m.MarkStepComplete("initialize"))
	require.NoError(t, m.MarkStepComplete("initialize"), "Marking twice should be idempotent")

	snap := m.GetStatus()
	assert.Equal(t, []string{"initialize"}, snap.CompletedSteps)
	assert.Equal(t, "data_extraction", snap.CurrentStep, "Current step must advance to the next pending step")

	require.NoError(t, m.MarkStepComplete("data_extraction"))
	require.NoError(t, m.MarkStepComplete("finalize"))

	snap = m.GetStatus()
	assert.Equal(t, "finalize", snap.CurrentStep, "With everything done the state still names the final step")
	assert.InDelta(t, 100.0, snap.ProgressPercentage, 0.01)
}

func TestManager_StatusTransitions(t *testing.T) {
	m := newTestManager(t)
	_, err := m.InitializeState(false)
	require.NoError(t, err)

	require.NoError(t, m.SetStatus(models.StatusRunning))
	snap := m.GetStatus()
	require.NotNil(t, snap.StartedAt, "First transition to running stamps started_at")
	firstStart := *snap.StartedAt

	// A resume transitions to running again without rewriting started_at
	require.NoError(t, m.SetStatus(models.StatusInterrupted))
	require.NoError(t, m.SetStatus(models.StatusRunning))
	snap = m.GetStatus()
	assert.Equal(t, firstStart, *snap.StartedAt, "started_at must not move on resume")
	assert.Nil(t, snap.CompletedAt, "completed_at stays unset until completion")

	require.NoError(t, m.SetStatus(models.StatusCompleted))
	snap = m.GetStatus()
	assert.Equal(t, models.StatusCompleted, snap.Status)
	require.NotNil(t, snap.CompletedAt, "Completion stamps completed_at")
}

func TestManager_RecordErrorAndProgressSurviveReload(t *testing.T) {
	dir := t.TempDir()

	m1, err := NewManager(dir, "test-conf", testSequence)
	require.NoError(t, err)
	require.NoError(t, m1.Acquire())

	_, err = m1.InitializeState(false)
	require.NoError(t, err)
	require.NoError(t, m1.RecordError("data_extraction", errors.New("dataset vanished")))
	require.NoError(t, m1.AddProgress(map[string]int{"papers_extracted": 12}))
	require.NoError(t, m1.AddProgress(map[string]int{"papers_extracted": 3}))
	require.NoError(t, m1.Close())

	m2, err := NewManager(dir, "test-conf", testSequence)
	require.NoError(t, err)

	snap := m2.GetStatus()
	require.Len(t, snap.FailedSteps, 1, "Failure entries must survive reload")
	assert.Equal(t, "data_extraction", snap.FailedSteps[0].Step)
	assert.Equal(t, "dataset vanished", snap.FailedSteps[0].Message)
	assert.Equal(t, 15, snap.Progress["papers_extracted"], "Progress counters accumulate and persist")
}

func TestManager_GetStatus_BeforeAnyRun(t *testing.T) {
	m, err := NewManager(t.TempDir(), "test-conf", testSequence)
	require.NoError(t, err, "Status must be readable without the lock")

	snap := m.GetStatus()
	assert.Equal(t, "test-conf", snap.Conference)
	assert.Equal(t, models.StatusNotStarted, snap.Status)
	assert.Empty(t, snap.PipelineID)
	assert.Empty(t, snap.CompletedSteps)
}

func TestManager_NoTempFilesLeftBehind(t *testing.T) {
	m := newTestManager(t)
	_, err := m.InitializeState(false)
	require.NoError(t, err)

	require.NoError(t, m.SaveCheckpoint(models.CheckpointKey{Step: "initialize", Artifact: "conference"}, testPayload{Count: 1}))
	require.NoError(t, m.MarkStepComplete("initialize"))

	var stray []string
	walkErr := filepath.Walk(m.Root(), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasPrefix(filepath.Base(path), ".tmp-") {
			stray = append(stray, path)
		}
		return nil
	})
	require.NoError(t, walkErr)
	assert.Empty(t, stray, "Atomic writes must not leave temp files behind")
}
