// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"strings"
	"time"
)

// ConferenceMeta is the resolved conference snapshot written by initialize
type ConferenceMeta struct {
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Year        int       `json:"year"`
	DataFile    string    `json:"data_file"`
	PreparedAt  time.Time `json:"prepared_at"`
}

// Paper is one accepted paper in the conference dataset
type Paper struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Abstract string   `json:"abstract,omitempty"`
	Track    string   `json:"track,omitempty"`
	Session  string   `json:"session,omitempty"`
	Authors  []Author `json:"authors"`
}

// Author is one author occurrence attached to a paper
type Author struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
	Country     string `json:"country,omitempty"`
	Homepage    string `json:"homepage,omitempty"`
}

// DedupKey returns the stable identity used to avoid enriching the same
// author twice. The homepage URL is the primary identity; authors without
// one fall back to their normalized name.
func (a Author) DedupKey() string {
	if a.Homepage != "" {
		return a.Homepage
	}
	return "name:" + strings.ToLower(strings.TrimSpace(a.Name))
}

// AuthorProfile is the payload returned by a successful enrichment call
type AuthorProfile struct {
	DisplayName string `json:"display_name"`
	Affiliation string `json:"affiliation,omitempty"`
	Country     string `json:"country,omitempty"`
	Bio         string `json:"bio,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Source      string `json:"source,omitempty"`
}

// EnrichmentStatus tags the outcome of one author's enrichment
type EnrichmentStatus string

const (
	EnrichmentResolved   EnrichmentStatus = "resolved"
	EnrichmentUnresolved EnrichmentStatus = "unresolved"
)

// Unresolved reasons recorded on EnrichmentRecord.Reason
const (
	ReasonTimeout   = "timeout"
	ReasonAPIError  = "api_error"
	ReasonPermanent = "permanent_error"
	ReasonNoKey     = "missing_dedup_key"
)

// EnrichmentRecord is one entry of the author_enrichment output checkpoint,
// keyed by the author's dedup key. Downstream steps consume the status tag
// directly; nothing retries silently after this point.
type EnrichmentRecord struct {
	Key      string           `json:"key"`
	Name     string           `json:"name"`
	Status   EnrichmentStatus `json:"status"`
	Reason   string           `json:"reason,omitempty"`
	Attempts int              `json:"attempts"`
	Profile  *AuthorProfile   `json:"profile,omitempty"`
	Duration time.Duration    `json:"duration"`
}

// LoadSummary is the sqlite_processing output checkpoint
type LoadSummary struct {
	Papers       int    `json:"papers"`
	Authors      int    `json:"authors"`
	DatabasePath string `json:"database_path"`
}

// AuthorCount pairs an author with their paper count for top-N rankings
type AuthorCount struct {
	Name   string `json:"name"`
	Papers int    `json:"papers"`
}

// AnalyticsSummary is the analytics_processing output checkpoint
type AnalyticsSummary struct {
	Conference        string         `json:"conference"`
	TotalPapers       int            `json:"total_papers"`
	TotalAuthors      int            `json:"total_authors"`
	DistinctAuthors   int            `json:"distinct_authors"`
	PapersPerTrack    map[string]int `json:"papers_per_track"`
	AuthorsPerCountry map[string]int `json:"authors_per_country"`
	TopAuthors        []AuthorCount  `json:"top_authors"`
	EnrichedAuthors   int            `json:"enriched_authors"`
	UnresolvedAuthors int            `json:"unresolved_authors"`
	GeneratedAt       time.Time      `json:"generated_at"`
}

// Tweet is one generated tweet text
type Tweet struct {
	Kind      string `json:"kind"`
	Text      string `json:"text"`
	CharCount int    `json:"char_count"`
}

// DocumentInfo describes one file written by markdown_generation
type DocumentInfo struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
}

// RunReport is the finalize output checkpoint summarizing the whole run
type RunReport struct {
	PipelineID        string         `json:"pipeline_id"`
	Conference        string         `json:"conference"`
	CompletedSteps    []string       `json:"completed_steps"`
	Counters          map[string]int `json:"counters"`
	UnresolvedAuthors []string       `json:"unresolved_authors,omitempty"`
	GeneratedAt       time.Time      `json:"generated_at"`
}

// ItemError records a failure scoped to one unit of work within a step.
// Item errors are collected and reported; they never halt the step.
type ItemError struct {
	Key     string `json:"key"`
	Message string `json:"message"`
}
