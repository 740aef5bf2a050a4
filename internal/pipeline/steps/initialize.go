// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package steps

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/confpipe/confpipe/internal/pipeline/models"
)

// Initialize validates the run can proceed at all: the conference dataset
// must exist and the working directories must be writable.
type Initialize struct{}

// NewInitialize creates the initialize step
func NewInitialize() *Initialize {
	return &Initialize{}
}

// Name returns the step name
func (s *Initialize) Name() string {
	return StepInitialize
}

// Inputs returns the checkpoints this step reads
func (s *Initialize) Inputs() []models.CheckpointKey {
	return nil
}

// Run validates inputs, prepares directories, and records the conference
// snapshot the rest of the run will work against.
func (s *Initialize) Run(ctx context.Context, env *Env) (*Result, error) {
	conf := env.Conference

	info, err := os.Stat(conf.DataFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, models.NewConfigurationError("conference data file %s does not exist", conf.DataFile)
		}
		return nil, fmt.Errorf("failed to stat conference data file %s: %w", conf.DataFile, err)
	}
	if info.IsDir() {
		return nil, models.NewConfigurationError("conference data file %s is a directory", conf.DataFile)
	}

	dirs := []string{
		filepath.Join(env.Config.Data.AnalyticsDir, conf.Name),
		filepath.Join(env.Config.Data.OutputDir, conf.Name),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	meta := models.ConferenceMeta{
		Name:        conf.Name,
		DisplayName: conf.DisplayName,
		Year:        conf.Year,
		DataFile:    conf.DataFile,
		PreparedAt:  time.Now().UTC(),
	}
	if err := env.State.SaveCheckpoint(KeyConference, meta); err != nil {
		return nil, err
	}

	getLog().Info().
		Str("conference", conf.Name).
		Str("data_file", conf.DataFile).
		Msg("Run initialized")

	return &Result{
		Counters: map[string]int{"directories_prepared": len(dirs)},
	}, nil
}
