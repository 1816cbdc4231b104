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

package jms

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Azure/go-amqp"

	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/core"
)

// Sink publishes dispatched gateway events over AMQP 1.0 (JMS-compatible
// brokers), with an optional command queue consumed back into the agent.
type Sink struct {
	name         string
	url          string
	queueOut     string
	commandQueue string
	conn         *amqp.Conn
	sendSess     *amqp.Session
	sender       *amqp.Sender
	logger       *slog.Logger
}

func New(name, url, queueOut, commandQueue string, logger *slog.Logger) *Sink {
	return &Sink{
		name:         name,
		url:          url,
		queueOut:     queueOut,
		commandQueue: commandQueue,
		logger:       logger,
	}
}

func (s *Sink) Name() string { return s.name }
func (s *Sink) Type() string { return "jms" }

func (s *Sink) Connect(ctx context.Context) error {
	var err error
	s.conn, err = amqp.Dial(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("jms dial: %w", err)
	}

	if s.queueOut != "" {
		s.sendSess, err = s.conn.NewSession(ctx, nil)
		if err != nil {
			return fmt.Errorf("jms send session: %w", err)
		}
		s.sender, err = s.sendSess.NewSender(ctx, s.queueOut, nil)
		if err != nil {
			return fmt.Errorf("jms sender: %w", err)
		}
	}

	s.logger.Info("jms sink connected", "name", s.name, "url", s.url)
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	if s.sender != nil {
		s.sender.Close(ctx)
	}
	if s.sendSess != nil {
		s.sendSess.Close(ctx)
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Publish(ctx context.Context, evt core.Event) error {
	if s.sender == nil {
		return nil
	}
	msg := amqp.NewMessage(evt.Payload)
	msg.Properties = &amqp.MessageProperties{
		MessageID: evt.ID,
		Subject:   &evt.Kind,
	}
	return s.sender.Send(ctx, msg, nil)
}

// StartConsumer receives command payloads from the command queue until ctx
// is cancelled. Failed commands are released for redelivery.
func (s *Sink) StartConsumer(ctx context.Context, handle func(ctx context.Context, payload []byte) error) error {
	if s.commandQueue == "" {
		<-ctx.Done()
		return nil
	}

	recvSess, err := s.conn.NewSession(ctx, nil)
	if err != nil {
		return fmt.Errorf("jms receive session: %w", err)
	}
	defer recvSess.Close(context.Background())

	receiver, err := recvSess.NewReceiver(ctx, s.commandQueue, nil)
	if err != nil {
		return fmt.Errorf("jms receiver: %w", err)
	}
	defer receiver.Close(context.Background())

	for {
		msg, err := receiver.Receive(ctx, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("jms receive: %w", err)
		}

		if err := handle(ctx, msg.GetData()); err != nil {
			s.logger.Error("command failed", "name", s.name, "error", err)
			receiver.ReleaseMessage(ctx, msg)
			continue
		}
		receiver.AcceptMessage(ctx, msg)
	}
}
