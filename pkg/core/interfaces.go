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

package core

import "context"

// Sink is an outbound plugin that receives dispatched events. Sinks are
// registered once at startup and bound to event kinds through the route
// table.
type Sink interface {
	Name() string
	Type() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Publish(ctx context.Context, evt Event) error
}

// CommandConsumer is implemented by sinks that can also carry inbound
// commands from the broker back to the agent. Received command payloads are
// handed to the supplied callback.
type CommandConsumer interface {
	StartConsumer(ctx context.Context, handle func(ctx context.Context, payload []byte) error) error
}

// Store persists gateway resume state across reconnects and restarts.
type Store interface {
	Save(ctx context.Context, state *ResumeState) error
	Load(ctx context.Context) (*ResumeState, error)
	Clear(ctx context.Context) error
	Close() error
}

// Handler processes one dispatched event.
type Handler func(ctx context.Context, evt Event) error

// Subscriber is the registration surface the agent exposes to plugins and
// sinks. Callbacks registered for a kind run on the engine worker pool.
// Unsubscribing an unknown id fails with ErrSubscriptionNotFound.
type Subscriber interface {
	Subscribe(kind string, handler Handler) SubscriptionID
	Unsubscribe(id SubscriptionID) error
}

// SubscriptionID identifies one (kind, callback) registration.
type SubscriptionID string
