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

package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Monitor is the per-connection heartbeat task. It sends one beat per
// interval carrying the session's current sequence and declares the
// connection stale when a beat comes due with the previous one still
// unacknowledged. The owning session cancels its context whenever the
// connection leaves the Connected/Stale states so two monitors never race on
// one socket.
type Monitor struct {
	interval time.Duration
	send     func(seq int64, valid bool) error
	sequence func() (int64, bool)
	onStale  func()
	logger   *slog.Logger

	mu       sync.Mutex
	lastSent time.Time
	lastAck  time.Time
	latency  time.Duration
	awaiting bool
}

func newMonitor(
	interval time.Duration,
	send func(seq int64, valid bool) error,
	sequence func() (int64, bool),
	onStale func(),
	logger *slog.Logger,
) *Monitor {
	return &Monitor{
		interval: interval,
		send:     send,
		sequence: sequence,
		onStale:  onStale,
		logger:   logger,
	}
}

// Run loops until ctx is cancelled or the connection goes stale. The first
// beat fires one second early so the session never runs past the interval the
// backend granted in hello.
func (m *Monitor) Run(ctx context.Context) {
	first := m.interval - time.Second
	if first <= 0 {
		first = m.interval / 2
	}

	timer := time.NewTimer(first)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		m.mu.Lock()
		stale := m.awaiting && m.lastAck.Before(m.lastSent)
		m.mu.Unlock()

		if stale {
			m.logger.Warn("heartbeat ack missed, declaring session stale",
				"interval", m.interval,
			)
			m.onStale()
			return
		}

		if err := m.beat(); err != nil {
			m.logger.Error("heartbeat send failed", "error", err)
			return
		}
		timer.Reset(m.interval)
	}
}

// beat sends one heartbeat immediately; also used for backend-requested
// beats (op 1 from the server).
func (m *Monitor) beat() error {
	seq, valid := m.sequence()

	m.mu.Lock()
	m.lastSent = time.Now()
	m.awaiting = true
	m.mu.Unlock()

	return m.send(seq, valid)
}

// Ack records a heartbeat acknowledgment and the measured round trip.
func (m *Monitor) Ack() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAck = time.Now()
	m.latency = m.lastAck.Sub(m.lastSent)
	m.awaiting = false
	return m.latency
}

// Latency returns the last measured heartbeat round trip.
func (m *Monitor) Latency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latency
}
