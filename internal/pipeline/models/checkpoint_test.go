// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestCheckpointKey_String(t *testing.T) {
	key := CheckpointKey{Step: "data_extraction", Artifact: "papers"}
	if got := key.String(); got != "data_extraction__papers" {
		t.Errorf("String() = %q, want %q", got, "data_extraction__papers")
	}
}

func TestCheckpointKey_Validate(t *testing.T) {
	tests := []struct {
		name    string
		key     CheckpointKey
		wantErr bool
	}{
		{
			name:    "valid key",
			key:     CheckpointKey{Step: "data_extraction", Artifact: "papers"},
			wantErr: false,
		},
		{
			name:    "empty step",
			key:     CheckpointKey{Step: "", Artifact: "papers"},
			wantErr: true,
		},
		{
			name:    "empty artifact",
			key:     CheckpointKey{Step: "data_extraction", Artifact: ""},
			wantErr: true,
		},
		{
			name:    "slash in step",
			key:     CheckpointKey{Step: "data/extraction", Artifact: "papers"},
			wantErr: true,
		},
		{
			name:    "backslash in artifact",
			key:     CheckpointKey{Step: "data_extraction", Artifact: "pa\\pers"},
			wantErr: true,
		},
		{
			name:    "path traversal",
			key:     CheckpointKey{Step: "..", Artifact: "papers"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			if tt.wantErr && err == nil {
				t.Errorf("Validate() expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestNewCheckpointEnvelope(t *testing.T) {
	key := CheckpointKey{Step: "data_extraction", Artifact: "papers"}
	payload := []Paper{
		{ID: "p1", Title: "Attention Considered Harmful"},
		{ID: "p2", Title: "Gradient Descent Into Madness"},
	}

	env, err := NewCheckpointEnvelope("pipe-123", key, payload)
	if err != nil {
		t.Fatalf("NewCheckpointEnvelope() unexpected error = %v", err)
	}

	if env.SchemaVersion != CheckpointSchemaVersion {
		t.Errorf("SchemaVersion = %d, want %d", env.SchemaVersion, CheckpointSchemaVersion)
	}
	if env.PipelineID != "pipe-123" {
		t.Errorf("PipelineID = %q, want %q", env.PipelineID, "pipe-123")
	}
	if env.Step != "data_extraction" || env.Artifact != "papers" {
		t.Errorf("labels = %s__%s, want data_extraction__papers", env.Step, env.Artifact)
	}
	if env.SavedAt.IsZero() {
		t.Error("SavedAt should be stamped")
	}
	if len(env.PayloadHash) != 16 {
		t.Errorf("PayloadHash length = %d, want 16", len(env.PayloadHash))
	}
	if env.PayloadHash != ComputePayloadHash(env.Payload) {
		t.Error("PayloadHash does not match payload bytes")
	}

	// Envelope must survive its own serialization
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Marshal() unexpected error = %v", err)
	}
	var reloaded CheckpointEnvelope
	if err := json.Unmarshal(raw, &reloaded); err != nil {
		t.Fatalf("Unmarshal() unexpected error = %v", err)
	}
	if err := reloaded.Validate(key); err != nil {
		t.Errorf("reloaded envelope failed validation: %v", err)
	}
}

func TestNewCheckpointEnvelope_InvalidKey(t *testing.T) {
	_, err := NewCheckpointEnvelope("pipe-123", CheckpointKey{}, "payload")
	if err == nil {
		t.Error("expected error for invalid key")
	}
}

func TestCheckpointEnvelope_Validate(t *testing.T) {
	key := CheckpointKey{Step: "finalize", Artifact: "report"}
	fresh := func() *CheckpointEnvelope {
		env, err := NewCheckpointEnvelope("pipe-123", key, map[string]int{"n": 1})
		if err != nil {
			t.Fatalf("failed to build envelope: %v", err)
		}
		return env
	}

	tests := []struct {
		name    string
		mutate  func(*CheckpointEnvelope)
		wantErr string
	}{
		{
			name:    "valid envelope",
			mutate:  func(e *CheckpointEnvelope) {},
			wantErr: "",
		},
		{
			name:    "wrong schema version",
			mutate:  func(e *CheckpointEnvelope) { e.SchemaVersion = 99 },
			wantErr: "schema version",
		},
		{
			name:    "mislabeled step",
			mutate:  func(e *CheckpointEnvelope) { e.Step = "initialize" },
			wantErr: "is labeled",
		},
		{
			name:    "empty payload",
			mutate:  func(e *CheckpointEnvelope) { e.Payload = nil },
			wantErr: "empty payload",
		},
		{
			name:    "tampered payload",
			mutate:  func(e *CheckpointEnvelope) { e.Payload = json.RawMessage(`{"n":2}`) },
			wantErr: "hash mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := fresh()
			tt.mutate(env)
			err := env.Validate(key)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil {
				t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				return
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestCheckpointEnvelope_DecodePayload(t *testing.T) {
	key := CheckpointKey{Step: "sqlite_processing", Artifact: "load_summary"}
	env, err := NewCheckpointEnvelope("pipe-123", key, LoadSummary{Papers: 7, Authors: 21, DatabasePath: "/tmp/db"})
	if err != nil {
		t.Fatalf("failed to build envelope: %v", err)
	}

	var summary LoadSummary
	if err := env.DecodePayload(&summary); err != nil {
		t.Fatalf("DecodePayload() unexpected error = %v", err)
	}
	if summary.Papers != 7 || summary.Authors != 21 {
		t.Errorf("DecodePayload() = %+v, want Papers=7 Authors=21", summary)
	}

	// Type mismatch must surface as an error, not a zero value
	var wrong []string
	if err := env.DecodePayload(&wrong); err == nil {
		t.Error("DecodePayload() expected error for mismatched type")
	}
}

func TestComputePayloadHash(t *testing.T) {
	a := ComputePayloadHash([]byte(`{"n":1}`))
	b := ComputePayloadHash([]byte(`{"n":1}`))
	c := ComputePayloadHash([]byte(`{"n":2}`))

	if a != b {
		t.Errorf("hash not deterministic: %q != %q", a, b)
	}
	if a == c {
		t.Errorf("different payloads share hash %q", a)
	}
	if len(a) != 16 {
		t.Errorf("hash length = %d, want 16", len(a))
	}
}
