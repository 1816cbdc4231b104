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

// Package plugins holds the sink registry and the broker sink
// implementations that receive dispatched gateway events.
package plugins

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/core"
)

// Registry tracks registered sinks and their connection health.
type Registry struct {
	sinks   map[string]core.Sink
	healthy map[string]bool
	logger  *slog.Logger
	mu      sync.RWMutex
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		sinks:   make(map[string]core.Sink),
		healthy: make(map[string]bool),
		logger:  logger,
	}
}

func (r *Registry) Register(s core.Sink) {
	r.mu.Lock()
	r.sinks[s.Name()] = s
	r.mu.Unlock()
	r.logger.Info("registered sink", "name", s.Name(), "type", s.Type())
}

// Sink returns a registered sink by name.
func (r *Registry) Sink(name string) (core.Sink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sinks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrSinkNotFound, name)
	}
	return s, nil
}

// Sinks returns a copy of the registration table.
func (r *Registry) Sinks() map[string]core.Sink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cp := make(map[string]core.Sink, len(r.sinks))
	for k, v := range r.sinks {
		cp[k] = v
	}
	return cp
}

// ConnectAll connects every sink and records health. A failed sink stays
// registered but unhealthy; it is skipped during route binding.
func (r *Registry) ConnectAll(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	connected := 0
	for name, s := range r.sinks {
		if err := s.Connect(ctx); err != nil {
			r.logger.Error("sink connect failed", "name", name, "error", err)
			r.healthy[name] = false
		} else {
			r.healthy[name] = true
			connected++
		}
	}
	return connected
}

func (r *Registry) IsHealthy(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.healthy[name]
}

func (r *Registry) DisconnectAll(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, s := range r.sinks {
		r.logger.Info("disconnecting sink", "name", name)
		if err := s.Disconnect(ctx); err != nil {
			r.logger.Warn("sink disconnect failed", "name", name, "error", err)
		}
	}
}
