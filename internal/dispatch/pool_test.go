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

package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/core"
)

func TestPoolRunOutcomes(t *testing.T) {
	p := NewPool(1, nil, testLogger())

	tests := []struct {
		name    string
		handler Handler
		want    Outcome
	}{
		{
			name:    "ok",
			handler: func(ctx context.Context, evt core.Event) error { return nil },
			want:    OutcomeOK,
		},
		{
			name:    "handler error",
			handler: func(ctx context.Context, evt core.Event) error { return errors.New("boom") },
			want:    OutcomeHandlerError,
		},
		{
			name:    "handler panic",
			handler: func(ctx context.Context, evt core.Event) error { panic("boom") },
			want:    OutcomeHandlerPanic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := Task{SubID: "sub-1", Kind: "MESSAGE_CREATE", Handler: tt.handler}
			res := p.run(context.Background(), task)
			if res.Outcome != tt.want {
				t.Fatalf("expected outcome %s, got %s", tt.want, res.Outcome)
			}
			if tt.want != OutcomeOK && res.Err == nil {
				t.Fatalf("expected error on outcome %s", tt.want)
			}
		})
	}
}

func TestPoolPanicDoesNotStopOtherSubscribers(t *testing.T) {
	d := New(8, testLogger(), nil)
	p := NewPool(1, d.Queue(), testLogger())

	invoked := make(chan string, 2)
	d.Subscribe("MESSAGE_CREATE", func(ctx context.Context, evt core.Event) error {
		panic("broken subscriber")
	})
	d.Subscribe("MESSAGE_CREATE", func(ctx context.Context, evt core.Event) error {
		invoked <- evt.ID
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	if err := d.Dispatch(context.Background(), core.Event{ID: "evt-1", Kind: "MESSAGE_CREATE"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case id := <-invoked:
		if id != "evt-1" {
			t.Fatalf("expected evt-1, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("second subscriber never ran after first panicked")
	}
}

func TestPoolProcessesAfterHandlerError(t *testing.T) {
	d := New(8, testLogger(), nil)
	p := NewPool(2, d.Queue(), testLogger())

	invoked := make(chan string, 4)
	d.Subscribe("MESSAGE_CREATE", func(ctx context.Context, evt core.Event) error {
		invoked <- evt.ID
		if evt.ID == "evt-1" {
			return errors.New("downstream unavailable")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	for _, id := range []string{"evt-1", "evt-2"} {
		if err := d.Dispatch(context.Background(), core.Event{ID: id, Kind: "MESSAGE_CREATE"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-invoked:
			seen[id] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("expected 2 invocations, got %d", len(seen))
		}
	}
	if !seen["evt-1"] || !seen["evt-2"] {
		t.Fatalf("missing invocation: %v", seen)
	}
}

func TestPoolStopsOnCancel(t *testing.T) {
	d := New(1, testLogger(), nil)
	p := NewPool(4, d.Queue(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("workers did not stop after cancel")
	}
}
