// Copyright (C) 2025-2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package logger

import (
	"github.com/rs/zerolog"
)

// Static logger getters that map directly to confpipe.yaml logging.levels
// These ensure consistent logger names across the codebase

// GetPipelineLogger returns a logger for the pipeline orchestrator
func GetPipelineLogger() zerolog.Logger {
	return GetLogger("pipeline")
}

// GetStateLogger returns a logger for state and checkpoint persistence
func GetStateLogger() zerolog.Logger {
	return GetLogger("state")
}

// GetStepsLogger returns a logger for pipeline steps
func GetStepsLogger() zerolog.Logger {
	return GetLogger("steps")
}

// GetEnrichLogger returns a logger for author enrichment
func GetEnrichLogger() zerolog.Logger {
	return GetLogger("enrich")
}

// GetDatabaseLogger returns a logger for database operations
func GetDatabaseLogger() zerolog.Logger {
	return GetLogger("database")
}

// GetCLILogger returns a logger for CLI command handling
func GetCLILogger() zerolog.Logger {
	return GetLogger("cli")
}
