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

package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/core"
)

// Sink publishes dispatched gateway events to a rabbitmq queue, with an
// optional command queue consumed back into the agent.
type Sink struct {
	name         string
	url          string
	queueOut     string
	commandQueue string
	conn         *amqp.Connection
	pubCh        *amqp.Channel
	consumerCh   *amqp.Channel
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
func (s *Sink) Type() string { return "rabbitmq" }

func (s *Sink) Connect(ctx context.Context) error {
	var err error
	s.conn, err = amqp.Dial(s.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}

	s.pubCh, err = s.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq publish channel: %w", err)
	}

	for _, q := range []string{s.queueOut, s.commandQueue} {
		if q != "" {
			if _, err := s.pubCh.QueueDeclare(q, true, false, false, false, nil); err != nil {
				return fmt.Errorf("rabbitmq queue declare %s: %w", q, err)
			}
		}
	}

	s.logger.Info("rabbitmq sink connected", "name", s.name, "url", s.url)
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	if s.consumerCh != nil {
		s.consumerCh.Close()
	}
	if s.pubCh != nil {
		s.pubCh.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Publish(ctx context.Context, evt core.Event) error {
	if s.queueOut == "" || s.pubCh == nil {
		return nil
	}
	return s.pubCh.PublishWithContext(ctx,
		"",
		s.queueOut,
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Body:        evt.Payload,
			MessageId:   evt.ID,
			Type:        evt.Kind,
			Timestamp:   evt.Timestamp,
		},
	)
}

// StartConsumer drains the command queue until ctx is cancelled. Failed
// commands are nacked for redelivery.
func (s *Sink) StartConsumer(ctx context.Context, handle func(ctx context.Context, payload []byte) error) error {
	if s.commandQueue == "" {
		<-ctx.Done()
		return nil
	}

	var err error
	s.consumerCh, err = s.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq consumer channel: %w", err)
	}
	defer s.consumerCh.Close()

	if err := s.consumerCh.Qos(1, 0, false); err != nil {
		return fmt.Errorf("rabbitmq qos: %w", err)
	}

	deliveries, err := s.consumerCh.Consume(
		s.commandQueue,
		"gateway-agent-"+s.name,
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("rabbitmq consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			if err := handle(ctx, d.Body); err != nil {
				s.logger.Error("command failed", "name", s.name, "error", err)
				d.Nack(false, true)
				continue
			}
			d.Ack(false)
		}
	}
}
