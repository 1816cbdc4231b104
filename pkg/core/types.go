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

import (
	"encoding/json"
	"time"
)

// Event is one application-level event received from the backend (or injected
// through a local entrypoint). The payload body is opaque to the agent; only
// the Kind discriminator is interpreted.
type Event struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Sequence  int64             `json:"sequence"`
	SourceID  string            `json:"source_id"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp time.Time         `json:"timestamp"`
}

// ResumeState is the minimal protocol state needed to resume a gateway
// session instead of performing a fresh identify.
type ResumeState struct {
	SessionID string    `json:"session_id"`
	Sequence  int64     `json:"sequence"`
	ResumeURL string    `json:"resume_url"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Route binds an event kind to a sink target. Events dispatched for Kind are
// forwarded to the sink named Target.
type Route struct {
	Kind   string `yaml:"kind"`
	Target string `yaml:"target"`
}
