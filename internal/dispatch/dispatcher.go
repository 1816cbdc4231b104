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

// Package dispatch fans inbound gateway events out to registered subscriber
// callbacks. Subscriptions are ordered per event kind; dispatching pushes one
// task per subscriber onto a bounded queue drained by a fixed worker pool.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/internal/logging"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/core"
)

// Handler processes one event payload on a pool worker.
type Handler = core.Handler

// Task is one queued unit of work. A task is handed to exactly one worker.
type Task struct {
	SubID   core.SubscriptionID
	Kind    string
	Event   core.Event
	Handler Handler
}

type subscription struct {
	id      core.SubscriptionID
	handler Handler
}

// Dispatcher owns the subscription table and the bounded task queue. It is
// an explicit instance passed to registration call sites; there is no
// package-level table.
type Dispatcher struct {
	mu     sync.RWMutex
	subs   map[string][]*subscription
	queue  chan Task
	closed bool
	logger *slog.Logger
	events *logging.EventLogger
}

var _ core.Subscriber = (*Dispatcher)(nil)

// New creates a dispatcher with the given queue capacity. A full queue blocks
// Dispatch callers; events are never silently dropped.
func New(queueSize int, logger *slog.Logger, events *logging.EventLogger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		subs:   make(map[string][]*subscription),
		queue:  make(chan Task, queueSize),
		logger: logger,
		events: events,
	}
}

// Subscribe appends a handler to the ordered subscriber list for kind.
// Registering the same handler twice yields two invocations per event.
func (d *Dispatcher) Subscribe(kind string, handler Handler) core.SubscriptionID {
	sub := &subscription{
		id:      core.SubscriptionID(uuid.New().String()),
		handler: handler,
	}
	d.mu.Lock()
	d.subs[kind] = append(d.subs[kind], sub)
	d.mu.Unlock()

	d.logger.Info("subscribed", "kind", kind, "subscription_id", sub.id)
	return sub.id
}

// Unsubscribe removes a registration.
func (d *Dispatcher) Unsubscribe(id core.SubscriptionID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for kind, subs := range d.subs {
		for i, sub := range subs {
			if sub.id == id {
				d.subs[kind] = append(subs[:i:i], subs[i+1:]...)
				if len(d.subs[kind]) == 0 {
					delete(d.subs, kind)
				}
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %s", core.ErrSubscriptionNotFound, id)
}

// SubscriberCount returns the number of registrations for kind.
func (d *Dispatcher) SubscriberCount(kind string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs[kind])
}

// Dispatch enqueues one task per subscriber of evt.Kind, in registration
// order. With zero subscribers it returns immediately without touching the
// queue. When the queue is full the call blocks until workers free space or
// ctx is cancelled: backpressure deliberately throttles the socket reader
// instead of dropping events.
func (d *Dispatcher) Dispatch(ctx context.Context, evt core.Event) error {
	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return core.ErrQueueClosed
	}
	subs := make([]*subscription, len(d.subs[evt.Kind]))
	copy(subs, d.subs[evt.Kind])
	d.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}

	if d.events != nil {
		d.events.Log(evt, "dispatch")
	}

	for _, sub := range subs {
		task := Task{
			SubID:   sub.id,
			Kind:    evt.Kind,
			Event:   evt,
			Handler: sub.handler,
		}
		select {
		case d.queue <- task:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close stops the intake side: subsequent Dispatch calls fail with
// core.ErrQueueClosed. Already queued tasks are still drained by the pool.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// Queue exposes the task queue for the worker pool.
func (d *Dispatcher) Queue() <-chan Task {
	return d.queue
}

// QueueDepth returns the number of tasks waiting for a worker.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}
