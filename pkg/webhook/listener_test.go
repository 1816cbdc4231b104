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

package webhook

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/core"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type mockDispatcher struct {
	events []core.Event
	err    error
}

func (m *mockDispatcher) Dispatch(ctx context.Context, evt core.Event) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, evt)
	return nil
}

func TestHandlePostDispatchesEvent(t *testing.T) {
	d := &mockDispatcher{}
	l := New("webhook-local", 0, d, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/events/MESSAGE_CREATE", strings.NewReader(`{"content":"hi"}`))
	rec := httptest.NewRecorder()
	l.handlePost(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(d.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(d.events))
	}
	evt := d.events[0]
	if evt.Kind != "MESSAGE_CREATE" {
		t.Fatalf("unexpected kind: %s", evt.Kind)
	}
	if evt.SourceID != "webhook-local" {
		t.Fatalf("unexpected source: %s", evt.SourceID)
	}
	if string(evt.Payload) != `{"content":"hi"}` {
		t.Fatalf("unexpected payload: %s", evt.Payload)
	}
	if evt.ID == "" {
		t.Fatalf("expected generated event id")
	}
}

func TestHandlePostRejectsNonPost(t *testing.T) {
	l := New("webhook-local", 0, &mockDispatcher{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/events/MESSAGE_CREATE", nil)
	rec := httptest.NewRecorder()
	l.handlePost(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandlePostRejectsBadKind(t *testing.T) {
	l := New("webhook-local", 0, &mockDispatcher{}, testLogger())

	for _, path := range []string{"/events/", "/events/a/b"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := httptest.NewRecorder()
		l.handlePost(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %s, got %d", path, rec.Code)
		}
	}
}

func TestHandlePostDispatchFailure(t *testing.T) {
	d := &mockDispatcher{err: errors.New("queue closed")}
	l := New("webhook-local", 0, d, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/events/MESSAGE_CREATE", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	l.handlePost(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
