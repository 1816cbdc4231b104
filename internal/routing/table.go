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

package routing

import (
	"sync"

	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/core"
)

// Table maps event kinds to sink targets. One kind may route to several
// sinks; registration order is preserved.
type Table struct {
	mu     sync.RWMutex
	routes map[string][]*core.Route
}

func NewTable() *Table {
	return &Table{routes: make(map[string][]*core.Route)}
}

func (t *Table) Add(route *core.Route) {
	t.mu.Lock()
	t.routes[route.Kind] = append(t.routes[route.Kind], route)
	t.mu.Unlock()
}

func (t *Table) Remove(kind string) {
	t.mu.Lock()
	delete(t.routes, kind)
	t.mu.Unlock()
}

// Lookup returns the routes registered for an event kind.
func (t *Table) Lookup(kind string) []*core.Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	routes := t.routes[kind]
	cp := make([]*core.Route, len(routes))
	copy(cp, routes)
	return cp
}

// All returns every route in the table grouped by kind.
func (t *Table) All() map[string][]*core.Route {
	t.mu.RLock()
	defer t.mu.RUnlock()
	cp := make(map[string][]*core.Route, len(t.routes))
	for kind, routes := range t.routes {
		rs := make([]*core.Route, len(routes))
		copy(rs, routes)
		cp[kind] = rs
	}
	return cp
}

func (t *Table) ReplaceAll(routes []*core.Route) {
	next := make(map[string][]*core.Route, len(routes))
	for _, r := range routes {
		next[r.Kind] = append(next[r.Kind], r)
	}
	t.mu.Lock()
	t.routes = next
	t.mu.Unlock()
}
