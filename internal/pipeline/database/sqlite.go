// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package database loads extracted conference data into SQLite and serves
// the aggregate queries the analytics step is built on.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	applog "github.com/confpipe/confpipe/internal/logger"
	"github.com/confpipe/confpipe/internal/pipeline/models"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := applog.GetDatabaseLogger()
		log = &l
	})
	return log
}

// PaperRow is the relational form of an extracted paper
type PaperRow struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	PaperID   string `gorm:"uniqueIndex;not null"`
	Title     string `gorm:"not null"`
	Abstract  string
	Track     string `gorm:"index"`
	Session   string
	CreatedAt time.Time
}

// TableName returns the table name for papers
func (PaperRow) TableName() string {
	return "papers"
}

// AuthorRow is the relational form of an extracted author
type AuthorRow struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	DedupKey    string `gorm:"uniqueIndex;not null"`
	Name        string `gorm:"not null"`
	Affiliation string
	Country     string `gorm:"index"`
	Homepage    string
	CreatedAt   time.Time
}

// TableName returns the table name for authors
func (AuthorRow) TableName() string {
	return "authors"
}

// PaperAuthorRow joins papers to authors preserving author order
type PaperAuthorRow struct {
	ID       uint   `gorm:"primaryKey;autoIncrement"`
	PaperID  string `gorm:"index;not null"`
	AuthorID uint   `gorm:"index;not null"`
	Position int    `gorm:"not null"`
}

// TableName returns the table name for the paper/author join
func (PaperAuthorRow) TableName() string {
	return "paper_authors"
}

// Store wraps a GORM connection to the per-conference SQLite database
type Store struct {
	db   *gorm.DB
	path string
}

// NewStore opens (creating if needed) the SQLite database at path and
// migrates the schema. The special path ":memory:" opens a shared in-memory
// database for tests.
func NewStore(path string) (*Store, error) {
	dsn := path
	if path == ":memory:" {
		// Shared cache keeps the schema visible across the pooled
		// connections GORM opens.
		dsn = "file::memory:?cache=shared"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	if err := db.AutoMigrate(&PaperRow{}, &AuthorRow{}, &PaperAuthorRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}

	getLog().Debug().Str("path", path).Msg("Database opened")
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// ReplaceConferenceData loads the extracted papers and authors inside a
// single transaction, replacing any rows from a previous load. Re-running
// the load with the same input produces the same database.
func (s *Store) ReplaceConferenceData(papers []models.Paper, authors []models.Author) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for _, table := range []string{"paper_authors", "papers", "authors"} {
			if err := tx.Exec("DELETE FROM " + table).Error; err != nil {
				return fmt.Errorf("failed to clear table %s: %w", table, err)
			}
		}

		authorIDs := make(map[string]uint, len(authors))
		for _, a := range authors {
			row := AuthorRow{
				DedupKey:    a.DedupKey(),
				Name:        a.Name,
				Affiliation: a.Affiliation,
				Country:     a.Country,
				Homepage:    a.Homepage,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to insert author %s: %w", a.Name, err)
			}
			authorIDs[row.DedupKey] = row.ID
		}

		for _, p := range papers {
			row := PaperRow{
				PaperID:  p.ID,
				Title:    p.Title,
				Abstract: p.Abstract,
				Track:    p.Track,
				Session:  p.Session,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to insert paper %s: %w", p.ID, err)
			}
			for i, a := range p.Authors {
				authorID, ok := authorIDs[a.DedupKey()]
				if !ok {
					continue
				}
				link := PaperAuthorRow{
					PaperID:  p.ID,
					AuthorID: authorID,
					Position: i,
				}
				if err := tx.Create(&link).Error; err != nil {
					return fmt.Errorf("failed to link paper %s to author %s: %w", p.ID, a.Name, err)
				}
			}
		}
		return nil
	})
}

// CountPapers returns the number of loaded papers
func (s *Store) CountPapers() (int64, error) {
	var count int64
	if err := s.db.Model(&PaperRow{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count papers: %w", err)
	}
	return count, nil
}

// CountAuthors returns the number of distinct loaded authors
func (s *Store) CountAuthors() (int64, error) {
	var count int64
	if err := s.db.Model(&AuthorRow{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count authors: %w", err)
	}
	return count, nil
}

// PapersPerTrack returns paper counts grouped by track. Papers without a
// track are grouped under "unassigned".
func (s *Store) PapersPerTrack() (map[string]int, error) {
	var rows []struct {
		Track string
		Count int
	}
	err := s.db.Model(&PaperRow{}).
		Select("track, COUNT(*) as count").
		Group("track").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate papers per track: %w", err)
	}

	result := make(map[string]int, len(rows))
	for _, r := range rows {
		track := r.Track
		if strings.TrimSpace(track) == "" {
			track = "unassigned"
		}
		result[track] += r.Count
	}
	return result, nil
}

// AuthorsPerCountry returns author counts grouped by country, skipping
// authors with no country on record.
func (s *Store) AuthorsPerCountry() (map[string]int, error) {
	var rows []struct {
		Country string
		Count   int
	}
	err := s.db.Model(&AuthorRow{}).
		Select("country, COUNT(*) as count").
		Where("country != ''").
		Group("country").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate authors per country: %w", err)
	}

	result := make(map[string]int, len(rows))
	for _, r := range rows {
		result[r.Country] = r.Count
	}
	return result, nil
}

// TopAuthorsByPapers returns the authors with the most papers, most
// prolific first, capped at limit.
func (s *Store) TopAuthorsByPapers(limit int) ([]models.AuthorCount, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []struct {
		Name   string
		Papers int
	}
	err := s.db.Model(&PaperAuthorRow{}).
		Select("authors.name as name, COUNT(DISTINCT paper_authors.paper_id) as papers").
		Joins("JOIN authors ON authors.id = paper_authors.author_id").
		Group("authors.name").
		Order("papers DESC, name ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to rank authors by papers: %w", err)
	}

	result := make([]models.AuthorCount, 0, len(rows))
	for _, r := range rows {
		result = append(result, models.AuthorCount{Name: r.Name, Papers: r.Papers})
	}
	return result, nil
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying database: %w", err)
	}
	return sqlDB.Close()
}
