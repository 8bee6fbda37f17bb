// Copyright 2025 Toby Haynes
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"math"
	"sync"
	"time"
)

// RateLimiter enforces a per-client sliding-window request limit. The
// window slides continuously: a request is admitted when fewer than
// limit requests were seen in the last window.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
}

// NewRateLimiter creates a sliding-window limiter.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:  limit,
		window: window,
		hits:   map[string][]time.Time{},
		now:    time.Now,
	}
}

// Allow records and admits a request for the client, or rejects it
// when the window is full.
func (r *RateLimiter) Allow(client string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	recent := r.prune(client)
	if len(recent) >= r.limit {
		r.hits[client] = recent
		return false
	}
	r.hits[client] = append(recent, r.now())
	return true
}

// RetryAfter returns the whole seconds until the oldest request in the
// client's window expires, at least 1.
func (r *RateLimiter) RetryAfter(client string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	recent := r.prune(client)
	r.hits[client] = recent
	if len(recent) == 0 {
		return 1
	}
	remaining := r.window - r.now().Sub(recent[0])
	seconds := int(math.Ceil(remaining.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// prune drops timestamps older than the window. Caller holds the lock.
func (r *RateLimiter) prune(client string) []time.Time {
	cutoff := r.now().Add(-r.window)
	recent := r.hits[client][:0:0]
	for _, t := range r.hits[client] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) == 0 {
		delete(r.hits, client)
	}
	return recent
}
