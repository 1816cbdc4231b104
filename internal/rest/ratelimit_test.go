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
	"testing"
	"time"
)

func headersWith(remaining, resetAfter string) http.Header {
	h := http.Header{}
	h.Set(headerRemaining, remaining)
	h.Set(headerResetAfter, resetAfter)
	return h
}

func TestAcquireUnknownBucketDoesNotWait(t *testing.T) {
	limiter := NewRateLimiter()

	start := time.Now()
	b, err := limiter.Acquire(context.Background(), "GET /channels/1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("first acquire waited %v", elapsed)
	}
	b.Release(nil)
}

func TestAcquireWaitsOutExhaustedBudget(t *testing.T) {
	limiter := NewRateLimiter()

	b, err := limiter.Acquire(context.Background(), "POST /channels/1/messages")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Release(headersWith("0", "0.3"))

	start := time.Now()
	b, err = limiter.Acquire(context.Background(), "POST /channels/1/messages")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	elapsed := time.Since(start)
	b.Release(headersWith("4", "1.0"))

	if elapsed < 250*time.Millisecond {
		t.Fatalf("expected acquire to wait out reset window, waited %v", elapsed)
	}
}

func TestAcquireDifferentKeysIndependent(t *testing.T) {
	limiter := NewRateLimiter()

	b, err := limiter.Acquire(context.Background(), "POST /channels/1/messages")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Release(headersWith("0", "5.0"))

	start := time.Now()
	b, err = limiter.Acquire(context.Background(), "POST /channels/2/messages")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("independent key blocked for %v", elapsed)
	}
	b.Release(nil)
}

func TestAcquireHonorsContextCancel(t *testing.T) {
	limiter := NewRateLimiter()

	b, err := limiter.Acquire(context.Background(), "GET /gateway")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.Release(headersWith("0", "10.0"))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := limiter.Acquire(ctx, "GET /gateway"); err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}

	// The bucket must be usable again after the cancelled wait.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if _, err := limiter.Acquire(ctx2, "GET /gateway"); err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded on second acquire, got %v", err)
	}
}

func TestReleaseIgnoresIncompleteHeaders(t *testing.T) {
	limiter := NewRateLimiter()

	b, err := limiter.Acquire(context.Background(), "GET /users/@me")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	h := http.Header{}
	h.Set(headerRemaining, "0")
	b.Release(h)

	// Missing reset-after left the bucket unknown, so no wait applies.
	start := time.Now()
	b, err = limiter.Acquire(context.Background(), "GET /users/@me")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("acquire waited %v on unknown bucket", elapsed)
	}
	b.Release(nil)
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	h.Set(headerRetryAfter, "2.5")
	if got := retryAfter(h); got != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s, got %v", got)
	}

	if got := retryAfter(http.Header{}); got != time.Second {
		t.Fatalf("expected 1s fallback, got %v", got)
	}
}
