// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package enrich

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confpipe/confpipe/internal/pipeline/models"
)

const (
	defaultMaxConcurrent  = 3
	defaultRequestTimeout = 30 * time.Second
	defaultRateLimitDelay = 2 * time.Second
)

// Config controls the concurrency envelope of a batch enrichment
type Config struct {
	// MaxConcurrent bounds how many lookups may be in flight at once
	MaxConcurrent int
	// RequestTimeout is the per-attempt deadline for one lookup
	RequestTimeout time.Duration
	// RateLimitDelay is the minimum gap between successive dispatches
	RateLimitDelay time.Duration
	// Retry bounds retries of transient failures
	Retry RetryPolicy
}

func (c Config) normalize() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.RateLimitDelay < 0 {
		c.RateLimitDelay = defaultRateLimitDelay
	}
	c.Retry = c.Retry.normalize()
	return c
}

// Stats summarizes one batch enrichment
type Stats struct {
	Dispatched  int `json:"dispatched"`
	Resolved    int `json:"resolved"`
	Unresolved  int `json:"unresolved"`
	Duplicates  int `json:"duplicates"`
	Skipped     int `json:"skipped"`
	MaxInFlight int `json:"max_in_flight"`
}

// Enricher resolves author profiles for a batch of authors
type Enricher struct {
	client ProfileClient
	cfg    Config

	inFlight    int64
	maxInFlight int64
}

// New builds an enricher around the given profile client
func New(client ProfileClient, cfg Config) *Enricher {
	return &Enricher{
		client: client,
		cfg:    cfg.normalize(),
	}
}

// EnrichAll resolves profiles for every distinct author in the batch.
// Authors are deduplicated by homepage URL (falling back to normalized
// name), and each distinct author is looked up exactly once. At most
// MaxConcurrent lookups run at a time and successive dispatches are spaced
// by at least RateLimitDelay.
//
// The returned map always reflects every lookup that ran to completion.
// When ctx is canceled mid-batch, EnrichAll stops dispatching, waits for
// in-flight lookups to wind down, and returns the partial results together
// with models.ErrInterrupted.
func (e *Enricher) EnrichAll(ctx context.Context, authors []models.Author) (map[string]models.EnrichmentRecord, Stats, error) {
	var stats Stats

	order, unique := dedupAuthors(authors, &stats)
	stats.Duplicates = len(authors) - len(order) - stats.Skipped

	getLog().Info().
		Int("authors", len(authors)).
		Int("distinct", len(order)).
		Int("max_concurrent", e.cfg.MaxConcurrent).
		Dur("rate_limit_delay", e.cfg.RateLimitDelay).
		Msg("Starting author enrichment")

	results := make(map[string]models.EnrichmentRecord, len(order))
	var (
		resultsMu sync.Mutex
		wg        sync.WaitGroup
	)
	sem := make(chan struct{}, e.cfg.MaxConcurrent)
	pace := newPacer(e.cfg.RateLimitDelay)
	interrupted := false

dispatch:
	for _, key := range order {
		if err := pace.wait(ctx); err != nil {
			interrupted = true
			break dispatch
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			interrupted = true
			break dispatch
		}

		stats.Dispatched++
		wg.Add(1)
		go func(key string, author models.Author) {
			defer wg.Done()
			defer func() { <-sem }()

			cur := atomic.AddInt64(&e.inFlight, 1)
			e.recordMaxInFlight(cur)
			defer atomic.AddInt64(&e.inFlight, -1)

			record := e.enrichOne(ctx, author)
			if record == nil {
				// Attempt cut short by cancellation; nothing to record.
				return
			}
			record.Key = key

			resultsMu.Lock()
			results[key] = *record
			resultsMu.Unlock()
		}(key, unique[key])
	}

	wg.Wait()

	for _, record := range results {
		if record.Status == models.EnrichmentResolved {
			stats.Resolved++
		} else {
			stats.Unresolved++
		}
	}
	stats.MaxInFlight = int(atomic.LoadInt64(&e.maxInFlight))

	getLog().Info().
		Int("resolved", stats.Resolved).
		Int("unresolved", stats.Unresolved).
		Int("max_in_flight", stats.MaxInFlight).
		Bool("interrupted", interrupted).
		Msg("Author enrichment finished")

	if interrupted || ctx.Err() != nil {
		return results, stats, models.ErrInterrupted
	}
	return results, stats, nil
}

// enrichOne runs the retry loop for a single author. It returns nil when
// the surrounding run was canceled mid-attempt, in which case no outcome is
// recorded for the author.
func (e *Enricher) enrichOne(ctx context.Context, author models.Author) *models.EnrichmentRecord {
	record := &models.EnrichmentRecord{
		Name:   author.Name,
		Status: models.EnrichmentUnresolved,
	}
	start := time.Now()
	defer func() {
		record.Duration = time.Since(start)
	}()

	for attempt := 1; attempt <= e.cfg.Retry.MaxAttempts; attempt++ {
		record.Attempts = attempt

		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
		profile, err := e.client.FetchProfile(attemptCtx, author)
		cancel()

		if err == nil {
			record.Status = models.EnrichmentResolved
			record.Profile = profile
			return record
		}

		if ctx.Err() != nil {
			return nil
		}

		if isTimeout(err) {
			// A lookup that exceeded its deadline is not retried; the
			// author stays unresolved for this run.
			getLog().Warn().
				Str("author", author.Name).
				Dur("timeout", e.cfg.RequestTimeout).
				Msg("Profile lookup timed out")
			record.Reason = models.ReasonTimeout
			return record
		}

		var apiErr *models.APIError
		if errors.As(err, &apiErr) && !apiErr.Transient {
			getLog().Warn().
				Str("author", author.Name).
				Int("status_code", apiErr.StatusCode).
				Msg("Profile lookup failed permanently")
			record.Reason = models.ReasonPermanent
			return record
		}

		// Transient: either an explicit transient API error or a
		// connection-level failure worth another try.
		record.Reason = models.ReasonAPIError
		if attempt == e.cfg.Retry.MaxAttempts {
			getLog().Warn().
				Str("author", author.Name).
				Int("attempts", attempt).
				Err(err).
				Msg("Profile lookup exhausted retries")
			return record
		}

		backoff := e.cfg.Retry.BackoffForAttempt(attempt)
		getLog().Debug().
			Str("author", author.Name).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Err(err).
			Msg("Retrying profile lookup")

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
	return record
}

func (e *Enricher) recordMaxInFlight(cur int64) {
	for {
		prev := atomic.LoadInt64(&e.maxInFlight)
		if cur <= prev || atomic.CompareAndSwapInt64(&e.maxInFlight, prev, cur) {
			return
		}
	}
}

// dedupAuthors returns the distinct authors in first-seen order, keyed by
// dedup key. Authors with neither a homepage nor a name cannot be looked up
// and are skipped.
func dedupAuthors(authors []models.Author, stats *Stats) ([]string, map[string]models.Author) {
	order := make([]string, 0, len(authors))
	unique := make(map[string]models.Author, len(authors))

	for _, author := range authors {
		if author.Homepage == "" && strings.TrimSpace(author.Name) == "" {
			getLog().Warn().Msg("Skipping author with no homepage and no name")
			stats.Skipped++
			continue
		}
		key := author.DedupKey()
		if _, seen := unique[key]; seen {
			continue
		}
		unique[key] = author
		order = append(order, key)
	}
	return order, unique
}

// isTimeout reports whether the error is a per-attempt deadline expiry
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// pacer spaces dispatches by a minimum gap shared across callers
type pacer struct {
	mu   sync.Mutex
	next time.Time
	gap  time.Duration
}

func newPacer(gap time.Duration) *pacer {
	return &pacer{gap: gap}
}

// wait blocks until the next dispatch slot, or until ctx is done
func (p *pacer) wait(ctx context.Context) error {
	if p.gap <= 0 {
		return ctx.Err()
	}

	p.mu.Lock()
	now := time.Now()
	start := p.next
	if start.Before(now) {
		start = now
	}
	p.next = start.Add(p.gap)
	p.mu.Unlock()

	delay := time.Until(start)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
