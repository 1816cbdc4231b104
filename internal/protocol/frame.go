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

// Package protocol implements the gateway wire envelope. Every message is a
// JSON document carrying an op code, an optional sequence number and event
// kind (dispatch frames only), and an opaque payload body.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Op identifies the purpose of a frame.
type Op int

const (
	OpDispatch       Op = 0
	OpHeartbeat      Op = 1
	OpIdentify       Op = 2
	OpResume         Op = 6
	OpReconnect      Op = 7
	OpInvalidSession Op = 9
	OpHello          Op = 10
	OpHeartbeatAck   Op = 11
)

func (o Op) String() string {
	switch o {
	case OpDispatch:
		return "dispatch"
	case OpHeartbeat:
		return "heartbeat"
	case OpIdentify:
		return "identify"
	case OpResume:
		return "resume"
	case OpReconnect:
		return "reconnect"
	case OpInvalidSession:
		return "invalid_session"
	case OpHello:
		return "hello"
	case OpHeartbeatAck:
		return "heartbeat_ack"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

const maxFrameSize = 10 << 20

var (
	ErrEmptyFrame    = errors.New("empty frame")
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	ErrMalformed     = errors.New("malformed frame")
)

// Frame is one decoded protocol envelope. Sequence and Kind are only set on
// dispatch frames; Payload is left undecoded for the dispatcher.
type Frame struct {
	Op       Op              `json:"op"`
	Sequence *int64          `json:"s,omitempty"`
	Kind     string          `json:"t,omitempty"`
	Payload  json.RawMessage `json:"d,omitempty"`
}

// Encode serializes a frame for the wire.
func Encode(f *Frame) ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

// Decode parses a raw websocket message into a frame. Errors are transport
// class: the caller is expected to tear the connection down.
func Decode(data []byte) (*Frame, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}
	if len(data) > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &f, nil
}

// HelloPayload is the body of an op 10 frame.
type HelloPayload struct {
	HeartbeatIntervalMS int64 `json:"heartbeat_interval"`
}

// ReadyPayload is the body of the READY dispatch frame that completes an
// identify handshake.
type ReadyPayload struct {
	SessionID string `json:"session_id"`
	ResumeURL string `json:"resume_gateway_url"`
}

// IdentifyPayload carries credentials and client metadata.
type IdentifyPayload struct {
	Token      string             `json:"token"`
	Intents    int64              `json:"intents,omitempty"`
	Properties IdentifyProperties `json:"properties"`
}

// IdentifyProperties describes the connecting client.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// ResumePayload requests continuation of a previous session.
type ResumePayload struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}
