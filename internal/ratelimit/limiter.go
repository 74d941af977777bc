// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ratelimit is the Rate Limiter (C12): a per-key token bucket
// built on golang.org/x/time/rate, one bucket per caller key, guarding
// the LLM-bound stages (Planner, Query Generator). It fails open: a
// nil or uninitialised Limiter always allows, because a rate limiter
// that cannot check its own state must never become the reason a
// request is rejected.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter is a keyed collection of token buckets, one per caller
// identity (trace id, API key, or session id depending on deployment).
// New buckets are created lazily on first use and never evicted within
// a process lifetime; callers expecting long-lived high-cardinality
// keys should size ratePerMinute accordingly or front this with an
// eviction policy.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*rate.Limiter
	ratePerMin float64
	burst      int
}

// New builds a Limiter allowing ratePerMinute sustained requests per
// key, with burst allowed immediately before throttling begins.
func New(ratePerMinute float64, burst int) *Limiter {
	return &Limiter{
		buckets:    make(map[string]*rate.Limiter),
		ratePerMin: ratePerMinute,
		burst:      burst,
	}
}

// Allow reports whether the caller identified by key may proceed now.
// A nil Limiter always allows.
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.buckets == nil {
		return true
	}
	return l.bucketFor(key).Allow()
}

func (l *Limiter) bucketFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[key]; ok {
		return b
	}
	perSecond := rate.Limit(l.ratePerMin / 60.0)
	b := rate.NewLimiter(perSecond, l.burst)
	l.buckets[key] = b
	return b
}
