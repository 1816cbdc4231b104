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
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func TestDoSetsAuthHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bot test-token" {
			t.Errorf("unexpected authorization header: %s", got)
		}
		if got := r.Header.Get("User-Agent"); got != "gateway-agent" {
			t.Errorf("unexpected user agent: %s", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("unexpected content type: %s", got)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"1"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", testLogger())
	body, err := c.Do(context.Background(), http.MethodPost, "/channels/1/messages", map[string]string{"content": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{"id":"1"}` {
		t.Fatalf("unexpected body: %s", body)
	}
}

func TestDoNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", testLogger())
	body, err := c.Do(context.Background(), http.MethodDelete, "/channels/1", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != nil {
		t.Fatalf("expected nil body, got %s", body)
	}
}

func TestDoAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"message":"missing access"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", testLogger())
	_, err := c.Do(context.Background(), http.MethodGet, "/channels/1", nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", apiErr.Status)
	}
}

func TestDoRetriesAfter429(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.Header().Set(headerRetryAfter, "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", testLogger())
	body, err := c.Do(context.Background(), http.MethodPost, "/channels/1/messages", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("unexpected body: %s", body)
	}
	if got := calls.Load(); got != 4 {
		t.Fatalf("expected 4 requests, got %d", got)
	}
}

func TestDoRateLimitExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set(headerRetryAfter, "0.01")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", testLogger(), WithMaxRetries(2))
	_, err := c.Do(context.Background(), http.MethodPost, "/channels/1/messages", nil)
	if !errors.Is(err, core.ErrRateLimitExhausted) {
		t.Fatalf("expected ErrRateLimitExhausted, got %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 requests, got %d", got)
	}
}

func TestDoAttemptCountEqualsConfiguredMaximum(t *testing.T) {
	// The server would answer the sixth request, but five consecutive 429
	// responses must exhaust a budget of five attempts first.
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 5 {
			w.Header().Set(headerRetryAfter, "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", testLogger(), WithMaxRetries(5))
	_, err := c.Do(context.Background(), http.MethodPost, "/channels/1/messages", nil)
	if !errors.Is(err, core.ErrRateLimitExhausted) {
		t.Fatalf("expected ErrRateLimitExhausted, got %v", err)
	}
	if got := calls.Load(); got != 5 {
		t.Fatalf("expected exactly 5 requests, got %d", got)
	}
}

func TestDoUpdatesBucketFromHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(headerRemaining, "0")
		w.Header().Set(headerResetAfter, "0.2")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", testLogger())
	if _, err := c.Do(context.Background(), http.MethodGet, "/channels/1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The budget headers left the bucket exhausted; the next call on the same
	// key must wait out the window before hitting the server.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Do(ctx, http.MethodGet, "/channels/1", nil); err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded while waiting on bucket, got %v", err)
	}
}

func TestGatewayURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gateway" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"url":"wss://gateway.example.com"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-token", testLogger())
	url, err := c.GatewayURL(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "wss://gateway.example.com" {
		t.Fatalf("unexpected url: %s", url)
	}
}
