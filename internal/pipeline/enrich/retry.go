// Copyright (C) 2026 Confpipe
// SPDX-License-Identifier: AGPL-3.0-or-later

package enrich

import (
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseBackoff = 500 * time.Millisecond
	defaultMaxBackoff  = 8 * time.Second
)

// RetryPolicy bounds how transient lookup failures are retried. Timeouts
// and permanent failures are never retried regardless of policy.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy returns the standard policy for profile lookups
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: defaultMaxAttempts,
		BaseBackoff: defaultBaseBackoff,
		MaxBackoff:  defaultMaxBackoff,
	}
}

// normalize fills zero fields with defaults
func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = defaultBaseBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	return p
}

// BackoffForAttempt returns the delay before the given retry attempt
// (1-based: attempt 1 is the first retry). The base delay doubles per
// attempt, is capped at MaxBackoff, and carries up to 25% jitter so
// concurrent workers retrying the same upstream do not stampede.
func (p RetryPolicy) BackoffForAttempt(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxBackoff {
			delay = p.MaxBackoff
			break
		}
	}
	if delay > p.MaxBackoff {
		delay = p.MaxBackoff
	}

	jitterRange := int64(delay) / 4
	if jitterRange > 0 {
		jitter := rand.Int63n(2*jitterRange) - jitterRange
		delay = time.Duration(int64(delay) + jitter)
	}
	return delay
}
