// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package rest

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const (
	headerRemaining  = "X-RateLimit-Remaining"
	headerResetAfter = "X-RateLimit-Reset-After"
	headerRetryAfter = "Retry-After"
)

// Bucket tracks the remaining-call budget for one endpoint key. The mutex is
// held for the full acquire/request/release cycle so calls on the same key
// serialize; buckets for different keys never block each other.
type Bucket struct {
	mu        sync.Mutex
	remaining int
	resetAt   time.Time
	known     bool
}

// RateLimiter is a lazily populated map from endpoint key to bucket. Buckets
// live for the process lifetime.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*Bucket
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{buckets: make(map[string]*Bucket)}
}

func (r *RateLimiter) bucket(key string) *Bucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[key]
	if !ok {
		b = &Bucket{}
		r.buckets[key] = b
	}
	return b
}

// Acquire locks the bucket for key, waiting out the reset window first when
// the budget is exhausted. The caller must Release the returned bucket with
// the response headers (or nil on transport failure).
func (r *RateLimiter) Acquire(ctx context.Context, key string) (*Bucket, error) {
	b := r.bucket(key)
	b.mu.Lock()

	if b.known && b.remaining <= 0 {
		wait := time.Until(b.resetAt)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				b.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		// Window elapsed; budget is unknown until the next response.
		b.known = false
	}
	return b, nil
}

// Release updates the bucket from rate-limit response metadata and unlocks
// it. Headers may be nil when the request never produced a response.
func (b *Bucket) Release(h http.Header) {
	defer b.mu.Unlock()
	if h == nil {
		return
	}

	remaining := h.Get(headerRemaining)
	resetAfter := h.Get(headerResetAfter)
	if remaining == "" || resetAfter == "" {
		return
	}

	n, err := strconv.Atoi(remaining)
	if err != nil {
		return
	}
	secs, err := strconv.ParseFloat(resetAfter, 64)
	if err != nil {
		return
	}

	b.remaining = n
	b.resetAt = time.Now().Add(time.Duration(secs * float64(time.Second)))
	b.known = true
}

// retryAfter reads the server-provided delay from a 429 response. Falls back
// to one second when the header is absent or unparsable.
func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.ParseFloat(h.Get(headerRetryAfter), 64)
	if err != nil || secs < 0 {
		return time.Second
	}
	return time.Duration(secs * float64(time.Second))
}
