// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"errors"
	"fmt"
)

// ErrInterrupted marks an operator-driven halt. It is distinguished from a
// step failure: no step raised an error, so the run ends as interrupted, not
// failed.
var ErrInterrupted = errors.New("pipeline interrupted")

// ConfigurationError covers invalid flag combinations, unresolvable
// conferences, and missing resume inputs. The pipeline never starts when one
// is raised.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// NewConfigurationError builds a ConfigurationError with a formatted reason
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err is (or wraps) a ConfigurationError
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// FatalError invalidates continuing a step: a required checkpoint is missing
// or corrupt, or an executor invariant was violated. It halts the run.
type FatalError struct {
	Step string
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps err as fatal for the given step
func NewFatalError(step string, err error) *FatalError {
	return &FatalError{Step: step, Err: err}
}

// IsFatalError reports whether err is (or wraps) a FatalError
func IsFatalError(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// APIError describes a failed call to the external enrichment service.
// Transient errors are retried with backoff; permanent ones are not.
type APIError struct {
	StatusCode int
	Transient  bool
	Message    string
}

func (e *APIError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s api error (status %d): %s", kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s api error: %s", kind, e.Message)
}

// IsTransient reports whether err is a retryable external API error
func IsTransient(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Transient
}
