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

// Package agent assembles the gateway session, dispatcher, worker pool,
// command channel and sink bindings into one engine.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/internal/dispatch"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/internal/gateway"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/internal/rest"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/internal/routing"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/plugins"
)

// Command is the document sinks deliver on their command queues. It maps
// directly onto one rate-limited REST call.
type Command struct {
	Method string          `json:"method"`
	Path   string          `json:"path"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// Engine owns the runtime pieces and the route-driven sink subscriptions.
type Engine struct {
	dispatcher *dispatch.Dispatcher
	pool       *dispatch.Pool
	session    *gateway.Session
	rest       *rest.Client
	registry   *plugins.Registry
	routes     *routing.Table
	logger     *slog.Logger

	mu       sync.Mutex
	bindings []core.SubscriptionID
	runCtx   context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewEngine(
	dispatcher *dispatch.Dispatcher,
	pool *dispatch.Pool,
	session *gateway.Session,
	restClient *rest.Client,
	registry *plugins.Registry,
	routes *routing.Table,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		dispatcher: dispatcher,
		pool:       pool,
		session:    session,
		rest:       restClient,
		registry:   registry,
		routes:     routes,
		logger:     logger,
	}
}

// Dispatcher exposes the registration surface for entrypoints and plugins.
func (e *Engine) Dispatcher() *dispatch.Dispatcher {
	return e.dispatcher
}

// Rest exposes the command channel.
func (e *Engine) Rest() *rest.Client {
	return e.rest
}

// Start binds routes to sinks, starts the worker pool, sink command
// consumers and the gateway session.
func (e *Engine) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.runCtx = runCtx
	e.cancel = cancel
	e.mu.Unlock()

	e.BindRoutes(e.routes.All())
	e.pool.Start(runCtx)
	e.startCommandConsumers(runCtx)
	if e.session != nil {
		e.session.Start(runCtx)
	}

	e.logger.Info("engine started")
}

// Stop shuts the engine down: gateway session first so no new events
// arrive, then the dispatch intake, then the workers. Waiting for workers is
// bounded by ctx; a handler stuck past the deadline is abandoned.
func (e *Engine) Stop(ctx context.Context) {
	if e.session != nil {
		e.session.Close()
	}
	e.dispatcher.Close()

	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		e.pool.Wait()
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		e.logger.Info("engine stopped")
	case <-ctx.Done():
		e.logger.Warn("engine stop deadline reached before workers drained")
	}
}

// BindRoutes replaces the current sink subscriptions with one subscription
// per (kind, sink) route. Called at startup and on config reload.
func (e *Engine) BindRoutes(routes map[string][]*core.Route) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range e.bindings {
		if err := e.dispatcher.Unsubscribe(id); err != nil {
			e.logger.Warn("unsubscribe failed", "subscription_id", id, "error", err)
		}
	}
	e.bindings = e.bindings[:0]

	for kind, rs := range routes {
		for _, route := range rs {
			sink, err := e.registry.Sink(route.Target)
			if err != nil {
				e.logger.Warn("route target missing", "kind", kind, "target", route.Target)
				continue
			}
			if !e.registry.IsHealthy(route.Target) {
				e.logger.Warn("route target unhealthy, skipping", "kind", kind, "target", route.Target)
				continue
			}

			id := e.dispatcher.Subscribe(kind, func(ctx context.Context, evt core.Event) error {
				return sink.Publish(ctx, evt)
			})
			e.bindings = append(e.bindings, id)
		}
	}
}

// ReloadRoutes is the config watcher callback.
func (e *Engine) ReloadRoutes(routes []*core.Route) {
	e.routes.ReplaceAll(routes)
	e.BindRoutes(e.routes.All())
}

// startCommandConsumers launches one consumer goroutine per sink that
// supports inbound commands.
func (e *Engine) startCommandConsumers(ctx context.Context) {
	for name, sink := range e.registry.Sinks() {
		consumer, ok := sink.(core.CommandConsumer)
		if !ok || !e.registry.IsHealthy(name) {
			continue
		}
		e.wg.Add(1)
		go func(name string, consumer core.CommandConsumer) {
			defer e.wg.Done()
			if err := consumer.StartConsumer(ctx, e.HandleCommand); err != nil {
				if ctx.Err() == nil {
					e.logger.Error("command consumer failed", "sink", name, "error", err)
				}
			}
		}(name, consumer)
	}
}

// HandleCommand parses one command document and issues it through the
// rate-limited command channel.
func (e *Engine) HandleCommand(ctx context.Context, payload []byte) error {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	if cmd.Method == "" || cmd.Path == "" {
		return fmt.Errorf("command missing method or path")
	}

	var body any
	if len(cmd.Body) > 0 {
		body = cmd.Body
	}
	if _, err := e.rest.Do(ctx, cmd.Method, cmd.Path, body); err != nil {
		return fmt.Errorf("command %s %s: %w", cmd.Method, cmd.Path, err)
	}
	return nil
}
