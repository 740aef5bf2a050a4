// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/confpipe/confpipe/internal/pipeline/models"

	"github.com/samber/lo"
)

// tweetMaxRunes is the hard length limit for one tweet
const tweetMaxRunes = 280

// TweetGeneration renders announcement tweets from the analytics summary.
// Rendering is deterministic: the same summary always yields the same
// tweets in the same order.
type TweetGeneration struct{}

// NewTweetGeneration creates the tweet generation step
func NewTweetGeneration() *TweetGeneration {
	return &TweetGeneration{}
}

// Name returns the step name
func (s *TweetGeneration) Name() string {
	return StepTweetGeneration
}

// Inputs returns the checkpoints this step reads
func (s *TweetGeneration) Inputs() []models.CheckpointKey {
	return []models.CheckpointKey{KeySummary}
}

// Run renders the tweets, checkpoints them, and writes tweets.json to the
// output directory.
func (s *TweetGeneration) Run(ctx context.Context, env *Env) (*Result, error) {
	var summary models.AnalyticsSummary
	if err := env.State.LoadCheckpoint(KeySummary, &summary); err != nil {
		return nil, err
	}

	tweets := renderTweets(env.Conference.DisplayName, summary)

	if err := env.State.SaveCheckpoint(KeyTweets, tweets); err != nil {
		return nil, err
	}

	outPath := filepath.Join(env.Config.Data.OutputDir, env.Conference.Name, "tweets.json")
	data, err := json.MarshalIndent(tweets, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tweets: %w", err)
	}
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write tweets file: %w", err)
	}

	getLog().Info().
		Int("tweets", len(tweets)).
		Str("output", outPath).
		Msg("Tweets generated")

	return &Result{
		Counters: map[string]int{"tweets_generated": len(tweets)},
	}, nil
}

// renderTweets builds the tweet set for a summary. Tweets that would have
// nothing to say (no authors, no tracks) are omitted rather than rendered
// empty.
func renderTweets(displayName string, summary models.AnalyticsSummary) []models.Tweet {
	var tweets []models.Tweet

	overview := fmt.Sprintf("%s by the numbers: %d papers from %d authors across %d tracks.",
		displayName, summary.TotalPapers, summary.DistinctAuthors, len(summary.PapersPerTrack))
	tweets = append(tweets, newTweet("overview", overview))

	if len(summary.TopAuthors) > 0 {
		top := summary.TopAuthors
		if len(top) > 3 {
			top = top[:3]
		}
		parts := lo.Map(top, func(a models.AuthorCount, _ int) string {
			return fmt.Sprintf("%s (%d)", a.Name, a.Papers)
		})
		tweets = append(tweets, newTweet("top_authors",
			fmt.Sprintf("Most prolific authors at %s: %s.", displayName, strings.Join(parts, ", "))))
	}

	if len(summary.PapersPerTrack) > 0 {
		tracks := rankCounts(summary.PapersPerTrack, 3)
		tweets = append(tweets, newTweet("tracks",
			fmt.Sprintf("Busiest tracks at %s: %s.", displayName, strings.Join(tracks, ", "))))
	}

	if len(summary.AuthorsPerCountry) > 0 {
		countries := rankCounts(summary.AuthorsPerCountry, 3)
		tweets = append(tweets, newTweet("countries",
			fmt.Sprintf("%s draws authors from %d countries, led by %s.",
				displayName, len(summary.AuthorsPerCountry), strings.Join(countries, ", "))))
	}

	return tweets
}

func newTweet(kind, text string) models.Tweet {
	text = clampTweet(text)
	return models.Tweet{
		Kind:      kind,
		Text:      text,
		CharCount: utf8.RuneCountInString(text),
	}
}

// clampTweet enforces the length limit, truncating on a rune boundary
func clampTweet(text string) string {
	if utf8.RuneCountInString(text) <= tweetMaxRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:tweetMaxRunes-3]) + "..."
}

// rankCounts returns the top-n "name (count)" labels, counts descending,
// ties broken by name so output is stable.
func rankCounts(counts map[string]int, n int) []string {
	type entry struct {
		name  string
		count int
	}
	entries := lo.MapToSlice(counts, func(name string, count int) entry {
		return entry{name: name, count: count}
	})
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return lo.Map(entries, func(e entry, _ int) string {
		return fmt.Sprintf("%s (%d)", e.name, e.count)
	})
}
