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

// Package webhook is a local HTTP entrypoint that injects synthetic events
// into the dispatcher, mainly for integrations and testing.
package webhook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/core"
)

// Dispatcher is the slice of the engine the listener needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt core.Event) error
}

type Listener struct {
	name       string
	port       int
	dispatcher Dispatcher
	server     *http.Server
	logger     *slog.Logger
	maxBody    int64
}

func New(name string, port int, dispatcher Dispatcher, logger *slog.Logger) *Listener {
	return &Listener{
		name:       name,
		port:       port,
		dispatcher: dispatcher,
		logger:     logger,
		maxBody:    1 << 20,
	}
}

func (l *Listener) Name() string { return l.name }

func (l *Listener) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events/", l.handlePost)

	l.server = &http.Server{Addr: fmt.Sprintf(":%d", l.port), Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		l.server.Shutdown(shutdownCtx)
	}()

	l.logger.Info("webhook entrypoint starting", "name", l.name, "port", l.port)
	if err := l.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (l *Listener) Stop(ctx context.Context) error {
	if l.server != nil {
		return l.server.Shutdown(ctx)
	}
	return nil
}

func (l *Listener) handlePost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	kind := strings.TrimPrefix(r.URL.Path, "/events/")
	if kind == "" || strings.Contains(kind, "/") {
		http.Error(w, "missing or invalid event kind", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, l.maxBody))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	evt := core.Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		SourceID:  l.name,
		Payload:   body,
		Metadata:  map[string]string{"remote_addr": r.RemoteAddr},
		Timestamp: time.Now().UTC(),
	}

	if err := l.dispatcher.Dispatch(r.Context(), evt); err != nil {
		l.logger.Error("webhook dispatch failed", "kind", kind, "error", err)
		http.Error(w, "dispatch failed", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"status":"accepted"}`))
}
