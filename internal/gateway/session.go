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

// Package gateway owns the persistent websocket session with the backend:
// connect, identify/resume, heartbeat, staleness detection and reconnect.
// Decoded dispatch frames are handed to the event dispatcher in socket
// arrival order.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/internal/dispatch"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/internal/protocol"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/core"
)

// State is the session's position in the connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateIdentifying
	StateConnected
	StateStale
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateIdentifying:
		return "identifying"
	case StateConnected:
		return "connected"
	case StateStale:
		return "stale"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	eventKindReady   = "READY"
	eventKindResumed = "RESUMED"

	defaultReconnectBase = time.Second
	defaultReconnectMax  = 30 * time.Second
)

var (
	errReconnectRequested = errors.New("backend requested reconnect")
	errSessionInvalidated = errors.New("backend invalidated session")
	errSessionStale       = errors.New("heartbeat ack missed")
)

// Config wires the session to its collaborators.
type Config struct {
	Token   string
	Intents int64

	// GatewayURL resolves the socket URL, normally the REST discovery call.
	GatewayURL func(ctx context.Context) (string, error)

	Dispatcher *dispatch.Dispatcher
	Store      core.Store
	Logger     *slog.Logger
	Dialer     *websocket.Dialer

	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

// Session is the gateway state machine. One socket-reader goroutine and one
// heartbeat goroutine exist per live connection; both are torn down before a
// reconnect opens a fresh socket.
type Session struct {
	cfg      Config
	dialer   *websocket.Dialer
	logger   *slog.Logger
	identify *rate.Limiter

	mu        sync.RWMutex
	state     State
	conn      *websocket.Conn
	sequence  int64
	seqValid  bool
	sessionID string
	resumeURL string
	interval  time.Duration
	latency   time.Duration

	writeMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSession(cfg Config) (*Session, error) {
	if cfg.Token == "" {
		return nil, core.ErrMissingToken
	}
	if cfg.GatewayURL == nil {
		return nil, errors.New("gateway: discovery function required")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("gateway: dispatcher required")
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = defaultReconnectBase
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = defaultReconnectMax
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Session{
		cfg:    cfg,
		dialer: dialer,
		logger: cfg.Logger,
		// The backend allows one identify per five seconds; throttling
		// locally keeps a reconnect storm inside that budget.
		identify: rate.NewLimiter(rate.Every(5*time.Second), 1),
		state:    StateDisconnected,
		done:     make(chan struct{}),
	}, nil
}

// Start launches the connection loop. It returns immediately; Close stops
// the loop and waits for it to finish.
func (s *Session) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	go s.run(runCtx)
}

// Close performs the terminal shutdown transition. No further state changes
// occur after it returns.
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancel
	conn := s.conn
	s.mu.Unlock()

	if cancel == nil {
		s.setState(StateClosed)
		return
	}
	cancel()
	if conn != nil {
		conn.Close()
	}
	<-s.done
}

func (s *Session) run(ctx context.Context) {
	defer func() {
		s.setState(StateClosed)
		s.logger.Info("gateway session closed")
		close(s.done)
	}()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		connected, err := s.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			attempt = 0
		}

		s.setState(StateReconnecting)
		delay := s.backoff(attempt)
		attempt++
		s.logger.Warn("gateway connection lost, reconnecting",
			"error", err,
			"delay", delay,
			"attempt", attempt,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// backoff returns a capped exponential delay with jitter. There is no
// maximum attempt count; the loop retries until Close.
func (s *Session) backoff(attempt int) time.Duration {
	delay := s.cfg.ReconnectBase << uint(attempt)
	if delay > s.cfg.ReconnectMax || delay <= 0 {
		delay = s.cfg.ReconnectMax
	}
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// connectOnce runs one full connection lifetime: dial, hello, identify or
// resume, then the read loop until the connection ends. It reports whether
// the session ever reached Connected.
func (s *Session) connectOnce(ctx context.Context) (connected bool, err error) {
	s.setState(StateConnecting)
	s.resetSession()

	resume, _ := s.loadResumeState(ctx)

	url, err := s.socketURL(ctx, resume)
	if err != nil {
		return false, fmt.Errorf("resolve gateway url: %w", err)
	}

	conn, _, err := s.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, fmt.Errorf("dial gateway: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		s.saveResumeState(context.Background())
	}()

	interval, err := s.awaitHello(conn)
	if err != nil {
		return false, err
	}

	s.setState(StateIdentifying)
	if resume != nil {
		err = s.sendResume(resume)
	} else {
		err = s.sendIdentify(ctx)
	}
	if err != nil {
		return false, err
	}

	monitor := newMonitor(interval, s.sendHeartbeat, s.Sequence, func() {
		s.setState(StateStale)
		// Closing the socket unblocks the reader; the run loop handles
		// the Stale -> Reconnecting edge.
		conn.Close()
	}, s.logger)
	go monitor.Run(connCtx)

	return s.readLoop(connCtx, conn, monitor)
}

// socketURL prefers the backend-provided resume URL when resuming.
func (s *Session) socketURL(ctx context.Context, resume *core.ResumeState) (string, error) {
	if resume != nil && resume.ResumeURL != "" {
		return resume.ResumeURL, nil
	}
	return s.cfg.GatewayURL(ctx)
}

// awaitHello reads the first frame of a connection, which must be op 10.
func (s *Session) awaitHello(conn *websocket.Conn) (time.Duration, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return 0, fmt.Errorf("read hello: %w", err)
	}
	frame, err := protocol.Decode(data)
	if err != nil {
		return 0, fmt.Errorf("decode hello: %w", err)
	}
	if frame.Op != protocol.OpHello {
		return 0, fmt.Errorf("expected hello, got %s", frame.Op)
	}

	var hello protocol.HelloPayload
	if err := json.Unmarshal(frame.Payload, &hello); err != nil {
		return 0, fmt.Errorf("decode hello payload: %w", err)
	}
	if hello.HeartbeatIntervalMS <= 0 {
		return 0, fmt.Errorf("invalid heartbeat interval %d", hello.HeartbeatIntervalMS)
	}

	interval := time.Duration(hello.HeartbeatIntervalMS) * time.Millisecond
	s.mu.Lock()
	s.interval = interval
	s.mu.Unlock()

	s.logger.Info("gateway hello received", "heartbeat_interval", interval)
	return interval, nil
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn, monitor *Monitor) (bool, error) {
	connected := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.State() == StateStale {
				return connected, errSessionStale
			}
			return connected, fmt.Errorf("read frame: %w", err)
		}

		frame, err := protocol.Decode(data)
		if err != nil {
			return connected, fmt.Errorf("decode frame: %w", err)
		}

		reached, err := s.handleFrame(ctx, frame, monitor)
		connected = connected || reached
		if err != nil {
			return connected, err
		}
	}
}

// handleFrame processes one inbound frame in arrival order. It reports
// whether the frame completed the handshake and whether the connection must
// end.
func (s *Session) handleFrame(ctx context.Context, frame *protocol.Frame, monitor *Monitor) (bool, error) {
	switch frame.Op {
	case protocol.OpDispatch:
		return s.handleDispatch(ctx, frame)

	case protocol.OpHeartbeat:
		// Backend asked for an immediate beat.
		return false, monitor.beat()

	case protocol.OpHeartbeatAck:
		latency := monitor.Ack()
		s.mu.Lock()
		s.latency = latency
		s.mu.Unlock()
		return false, nil

	case protocol.OpReconnect:
		// Resume state survives; the next attempt resumes.
		return false, errReconnectRequested

	case protocol.OpInvalidSession:
		var resumable bool
		_ = json.Unmarshal(frame.Payload, &resumable)
		if !resumable {
			if s.cfg.Store != nil {
				if err := s.cfg.Store.Clear(ctx); err != nil {
					s.logger.Warn("clear resume state failed", "error", err)
				}
			}
			s.mu.Lock()
			s.sessionID = ""
			s.resumeURL = ""
			s.mu.Unlock()
		}
		return false, errSessionInvalidated

	default:
		// Protocol-class error: log and keep the connection.
		s.logger.Warn("unexpected op code", "op", frame.Op.String())
		return false, nil
	}
}

func (s *Session) handleDispatch(ctx context.Context, frame *protocol.Frame) (bool, error) {
	if frame.Sequence != nil {
		s.mu.Lock()
		if !s.seqValid || *frame.Sequence > s.sequence {
			s.sequence = *frame.Sequence
			s.seqValid = true
		}
		s.mu.Unlock()
	}

	reached := false
	switch frame.Kind {
	case eventKindReady:
		var ready protocol.ReadyPayload
		if err := json.Unmarshal(frame.Payload, &ready); err != nil {
			return false, fmt.Errorf("decode ready payload: %w", err)
		}
		s.mu.Lock()
		s.sessionID = ready.SessionID
		s.resumeURL = ready.ResumeURL
		s.mu.Unlock()
		s.setState(StateConnected)
		s.saveResumeState(ctx)
		s.logger.Info("gateway session ready", "session_id", ready.SessionID)
		reached = true

	case eventKindResumed:
		s.setState(StateConnected)
		s.logger.Info("gateway session resumed", "session_id", s.SessionID())
		reached = true
	}

	evt := core.Event{
		ID:        uuid.New().String(),
		Kind:      frame.Kind,
		SourceID:  "gateway",
		Payload:   frame.Payload,
		Metadata:  map[string]string{"session_id": s.SessionID()},
		Timestamp: time.Now().UTC(),
	}
	if frame.Sequence != nil {
		evt.Sequence = *frame.Sequence
	}

	// Blocking here is deliberate: a full queue throttles the socket
	// reader rather than dropping events.
	if err := s.cfg.Dispatcher.Dispatch(ctx, evt); err != nil {
		return reached, fmt.Errorf("dispatch %s: %w", frame.Kind, err)
	}
	return reached, nil
}

func (s *Session) sendIdentify(ctx context.Context) error {
	if err := s.identify.Wait(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(protocol.IdentifyPayload{
		Token:   s.cfg.Token,
		Intents: s.cfg.Intents,
		Properties: protocol.IdentifyProperties{
			OS:      runtime.GOOS,
			Browser: "gateway-agent",
			Device:  "gateway-agent",
		},
	})
	if err != nil {
		return fmt.Errorf("encode identify: %w", err)
	}
	return s.sendFrame(&protocol.Frame{Op: protocol.OpIdentify, Payload: payload})
}

func (s *Session) sendResume(resume *core.ResumeState) error {
	payload, err := json.Marshal(protocol.ResumePayload{
		Token:     s.cfg.Token,
		SessionID: resume.SessionID,
		Sequence:  resume.Sequence,
	})
	if err != nil {
		return fmt.Errorf("encode resume: %w", err)
	}
	s.mu.Lock()
	s.sessionID = resume.SessionID
	s.resumeURL = resume.ResumeURL
	s.sequence = resume.Sequence
	s.seqValid = true
	s.mu.Unlock()
	return s.sendFrame(&protocol.Frame{Op: protocol.OpResume, Payload: payload})
}

func (s *Session) sendHeartbeat(seq int64, valid bool) error {
	frame := &protocol.Frame{Op: protocol.OpHeartbeat}
	if valid {
		payload, err := json.Marshal(seq)
		if err != nil {
			return err
		}
		frame.Payload = payload
	} else {
		frame.Payload = json.RawMessage("null")
	}
	return s.sendFrame(frame)
}

func (s *Session) sendFrame(frame *protocol.Frame) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return core.ErrSessionClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) loadResumeState(ctx context.Context) (*core.ResumeState, error) {
	if s.cfg.Store == nil {
		return nil, nil
	}
	state, err := s.cfg.Store.Load(ctx)
	if err != nil {
		if !errors.Is(err, core.ErrResumeStateNotFound) {
			s.logger.Warn("load resume state failed", "error", err)
		}
		return nil, nil
	}
	if state.SessionID == "" {
		return nil, nil
	}
	return state, nil
}

func (s *Session) saveResumeState(ctx context.Context) {
	if s.cfg.Store == nil {
		return
	}
	s.mu.RLock()
	state := &core.ResumeState{
		SessionID: s.sessionID,
		Sequence:  s.sequence,
		ResumeURL: s.resumeURL,
		UpdatedAt: time.Now().UTC(),
	}
	s.mu.RUnlock()

	if state.SessionID == "" {
		return
	}
	if err := s.cfg.Store.Save(ctx, state); err != nil {
		s.logger.Warn("save resume state failed", "error", err)
	}
}

// resetSession drops per-connection protocol state. Sequence and session id
// are only carried across connections through the resume path.
func (s *Session) resetSession() {
	s.mu.Lock()
	s.sequence = 0
	s.seqValid = false
	s.sessionID = ""
	s.resumeURL = ""
	s.latency = 0
	s.mu.Unlock()
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	prev := s.state
	if prev == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	if prev != state {
		s.logger.Info("gateway state change", "from", prev.String(), "to", state.String())
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Sequence returns the last seen dispatch sequence. The boolean is false on
// a fresh session that has not observed a dispatch frame yet.
func (s *Session) Sequence() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequence, s.seqValid
}

func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Latency reports the last measured heartbeat round trip.
func (s *Session) Latency() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latency
}

// HeartbeatInterval reports the interval granted by the backend's hello.
func (s *Session) HeartbeatInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}
