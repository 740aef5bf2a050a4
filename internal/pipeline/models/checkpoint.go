// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CheckpointSchemaVersion is bumped when the envelope layout changes.
const CheckpointSchemaVersion = 1

// CheckpointKey identifies one durable artifact produced by a step.
type CheckpointKey struct {
	Step     string
	Artifact string
}

// String renders the key in its on-disk file-stem form
func (k CheckpointKey) String() string {
	return k.Step + "__" + k.Artifact
}

// Validate rejects keys that would produce unsafe or ambiguous file names
func (k CheckpointKey) Validate() error {
	if k.Step == "" || k.Artifact == "" {
		return fmt.Errorf("checkpoint key requires step and artifact, got %q/%q", k.Step, k.Artifact)
	}
	for _, part := range []string{k.Step, k.Artifact} {
		if strings.ContainsAny(part, "/\\") || strings.Contains(part, "..") {
			return fmt.Errorf("checkpoint key part %q contains path characters", part)
		}
	}
	return nil
}

// CheckpointEnvelope wraps every checkpoint payload on disk. The envelope is
// self-describing: a reader needs no in-memory context to interpret the file,
// and the payload hash catches truncated or hand-edited artifacts on load.
type CheckpointEnvelope struct {
	SchemaVersion int             `json:"schema_version"`
	PipelineID    string          `json:"pipeline_id"`
	Step          string          `json:"step"`
	Artifact      string          `json:"artifact"`
	SavedAt       time.Time       `json:"saved_at"`
	PayloadHash   string          `json:"payload_hash"`
	Payload       json.RawMessage `json:"payload"`
}

// NewCheckpointEnvelope marshals the payload and stamps the envelope
func NewCheckpointEnvelope(pipelineID string, key CheckpointKey, payload any) (*CheckpointEnvelope, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint payload for %s: %w", key, err)
	}
	return &CheckpointEnvelope{
		SchemaVersion: CheckpointSchemaVersion,
		PipelineID:    pipelineID,
		Step:          key.Step,
		Artifact:      key.Artifact,
		SavedAt:       time.Now().UTC(),
		PayloadHash:   ComputePayloadHash(raw),
		Payload:       raw,
	}, nil
}

// Validate checks the envelope against the key it was loaded under.
// A mismatch means the file was corrupted, renamed, or written by an
// incompatible version.
func (e *CheckpointEnvelope) Validate(key CheckpointKey) error {
	if e.SchemaVersion != CheckpointSchemaVersion {
		return fmt.Errorf("checkpoint %s has schema version %d, expected %d", key, e.SchemaVersion, CheckpointSchemaVersion)
	}
	if e.Step != key.Step || e.Artifact != key.Artifact {
		return fmt.Errorf("checkpoint %s is labeled %s__%s", key, e.Step, e.Artifact)
	}
	if len(e.Payload) == 0 {
		return fmt.Errorf("checkpoint %s has an empty payload", key)
	}
	if got := ComputePayloadHash(e.Payload); got != e.PayloadHash {
		return fmt.Errorf("checkpoint %s payload hash mismatch: stored %s, computed %s", key, e.PayloadHash, got)
	}
	return nil
}

// DecodePayload unmarshals the payload into out
func (e *CheckpointEnvelope) DecodePayload(out any) error {
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("failed to decode checkpoint %s__%s payload: %w", e.Step, e.Artifact, err)
	}
	return nil
}

// ComputePayloadHash returns a short content hash of the serialized payload.
// Two payloads with the same hash carry identical bytes.
func ComputePayloadHash(raw []byte) string {
	hash := sha256.Sum256(raw)
	return hex.EncodeToString(hash[:])[:16]
}
