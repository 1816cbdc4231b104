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
	"fmt"
	"sync"
	"testing"

	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/core"
)

func TestTableAddAndLookup(t *testing.T) {
	table := NewTable()
	table.Add(&core.Route{Kind: "MESSAGE_CREATE", Target: "kafka-events"})
	table.Add(&core.Route{Kind: "MESSAGE_CREATE", Target: "audit-queue"})
	table.Add(&core.Route{Kind: "GUILD_CREATE", Target: "kafka-events"})

	routes := table.Lookup("MESSAGE_CREATE")
	if len(routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(routes))
	}
	if routes[0].Target != "kafka-events" || routes[1].Target != "audit-queue" {
		t.Fatalf("route order not preserved: %s, %s", routes[0].Target, routes[1].Target)
	}

	if got := table.Lookup("UNKNOWN"); len(got) != 0 {
		t.Fatalf("expected no routes for unknown kind, got %d", len(got))
	}
}

func TestTableRemove(t *testing.T) {
	table := NewTable()
	table.Add(&core.Route{Kind: "MESSAGE_CREATE", Target: "kafka-events"})
	table.Remove("MESSAGE_CREATE")

	if got := table.Lookup("MESSAGE_CREATE"); len(got) != 0 {
		t.Fatalf("expected no routes after remove, got %d", len(got))
	}
}

func TestTableReplaceAll(t *testing.T) {
	table := NewTable()
	table.Add(&core.Route{Kind: "MESSAGE_CREATE", Target: "kafka-events"})

	table.ReplaceAll([]*core.Route{
		{Kind: "GUILD_CREATE", Target: "audit-queue"},
		{Kind: "GUILD_CREATE", Target: "kafka-events"},
	})

	if got := table.Lookup("MESSAGE_CREATE"); len(got) != 0 {
		t.Fatalf("expected old routes gone, got %d", len(got))
	}
	routes := table.Lookup("GUILD_CREATE")
	if len(routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(routes))
	}
	if routes[0].Target != "audit-queue" {
		t.Fatalf("expected audit-queue first, got %s", routes[0].Target)
	}

	all := table.All()
	if len(all) != 1 || len(all["GUILD_CREATE"]) != 2 {
		t.Fatalf("unexpected table contents: %v", all)
	}
}

func TestTableConcurrentAccess(t *testing.T) {
	table := NewTable()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			table.Add(&core.Route{Kind: "MESSAGE_CREATE", Target: fmt.Sprintf("sink-%d", n)})
		}(i)
		go func() {
			defer wg.Done()
			table.Lookup("MESSAGE_CREATE")
		}()
	}
	wg.Wait()

	if got := len(table.Lookup("MESSAGE_CREATE")); got != 10 {
		t.Fatalf("expected 10 routes, got %d", got)
	}
}
