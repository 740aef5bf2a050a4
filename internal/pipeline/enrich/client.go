// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package enrich resolves author profiles against external sources with
// bounded concurrency, pacing, and retry of transient failures.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	applog "github.com/confpipe/confpipe/internal/logger"
	"github.com/confpipe/confpipe/internal/pipeline/models"

	"github.com/rs/zerolog"
)

var (
	log     *zerolog.Logger
	logOnce sync.Once
)

func getLog() *zerolog.Logger {
	logOnce.Do(func() {
		l := applog.GetEnrichLogger()
		log = &l
	})
	return log
}

// maxProfileBodyBytes caps how much of a profile page is read when
// extracting metadata.
const maxProfileBodyBytes = 256 * 1024

// ProfileClient resolves a single author's public profile. Implementations
// must honor context cancellation and deadlines.
type ProfileClient interface {
	FetchProfile(ctx context.Context, author models.Author) (*models.AuthorProfile, error)
}

// HTTPProfileClient fetches profiles over HTTP. With an endpoint configured
// it queries a JSON lookup API; without one it fetches the author's homepage
// directly and extracts what it can from the page.
type HTTPProfileClient struct {
	client    *http.Client
	endpoint  string
	userAgent string
}

// NewHTTPProfileClient builds a client. Per-request deadlines come from the
// caller's context, so the underlying http.Client carries no timeout of its
// own.
func NewHTTPProfileClient(endpoint, userAgent string) *HTTPProfileClient {
	if userAgent == "" {
		userAgent = "confpipe/1.0"
	}
	return &HTTPProfileClient{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		endpoint:  endpoint,
		userAgent: userAgent,
	}
}

// FetchProfile resolves the author's profile. Rate-limited and upstream
// server failures come back as transient APIErrors so the enricher can
// retry them; other HTTP failures are permanent.
func (c *HTTPProfileClient) FetchProfile(ctx context.Context, author models.Author) (*models.AuthorProfile, error) {
	if c.endpoint != "" {
		return c.fetchFromAPI(ctx, author)
	}
	return c.fetchFromHomepage(ctx, author)
}

func (c *HTTPProfileClient) fetchFromAPI(ctx context.Context, author models.Author) (*models.AuthorProfile, error) {
	query := url.Values{}
	query.Set("name", author.Name)
	if author.Homepage != "" {
		query.Set("homepage", author.Homepage)
	}
	requestURL := c.endpoint + "?" + query.Encode()

	body, err := c.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	var profile models.AuthorProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, &models.APIError{
			Message: fmt.Sprintf("lookup API returned malformed profile: %v", err),
		}
	}
	if profile.DisplayName == "" {
		profile.DisplayName = author.Name
	}
	if profile.Source == "" {
		profile.Source = "api"
	}
	return &profile, nil
}

func (c *HTTPProfileClient) fetchFromHomepage(ctx context.Context, author models.Author) (*models.AuthorProfile, error) {
	if author.Homepage == "" {
		return nil, &models.APIError{Message: "author has no homepage to fetch"}
	}

	body, err := c.get(ctx, author.Homepage)
	if err != nil {
		return nil, err
	}

	profile := &models.AuthorProfile{
		DisplayName: author.Name,
		Affiliation: author.Affiliation,
		Country:     author.Country,
		Source:      "homepage",
	}
	if title := extractTitle(string(body)); title != "" {
		profile.Bio = title
	}
	return profile, nil
}

func (c *HTTPProfileClient) get(ctx context.Context, requestURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, text/html;q=0.9")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read profile response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &models.APIError{
			StatusCode: resp.StatusCode,
			Transient:  true,
			Message:    fmt.Sprintf("profile source returned %d", resp.StatusCode),
		}
	default:
		return nil, &models.APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("profile source returned %d", resp.StatusCode),
		}
	}
}

// extractTitle pulls the contents of the first <title> element, if any
func extractTitle(body string) string {
	lower := strings.ToLower(body)
	start := strings.Index(lower, "<title")
	if start < 0 {
		return ""
	}
	open := strings.Index(lower[start:], ">")
	if open < 0 {
		return ""
	}
	start += open + 1
	end := strings.Index(lower[start:], "</title")
	if end < 0 {
		return ""
	}
	title := html.UnescapeString(body[start : start+end])
	return strings.TrimSpace(title)
}
