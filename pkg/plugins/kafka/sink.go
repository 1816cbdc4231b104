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

package kafka

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/core"
)

// Sink publishes dispatched gateway events to a kafka topic. When a command
// topic is configured it also consumes command payloads and hands them to
// the agent's command channel.
type Sink struct {
	name         string
	brokers      []string
	topicOut     string
	commandTopic string
	groupID      string
	writer       *kafka.Writer
	reader       *kafka.Reader
	logger       *slog.Logger
}

func New(name string, brokers []string, topicOut, commandTopic, groupID string, logger *slog.Logger) *Sink {
	return &Sink{
		name:         name,
		brokers:      brokers,
		topicOut:     topicOut,
		commandTopic: commandTopic,
		groupID:      groupID,
		logger:       logger,
	}
}

func (s *Sink) Name() string { return s.name }
func (s *Sink) Type() string { return "kafka" }

func (s *Sink) Connect(ctx context.Context) error {
	if s.topicOut != "" {
		s.writer = &kafka.Writer{
			Addr:     kafka.TCP(s.brokers...),
			Topic:    s.topicOut,
			Balancer: &kafka.LeastBytes{},
		}
	}
	s.logger.Info("kafka sink connected",
		"name", s.name,
		"brokers", strings.Join(s.brokers, ","),
		"topic_out", s.topicOut,
		"command_topic", s.commandTopic,
	)
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	if s.reader != nil {
		s.reader.Close()
	}
	if s.writer != nil {
		return s.writer.Close()
	}
	return nil
}

func (s *Sink) Publish(ctx context.Context, evt core.Event) error {
	if s.writer == nil {
		return nil
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.Kind),
		Value: evt.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(evt.ID)},
			{Key: "event_kind", Value: []byte(evt.Kind)},
		},
	})
}

// StartConsumer drains the command topic until ctx is cancelled. Each
// message body is handed to the agent; failed commands are not committed so
// they redeliver.
func (s *Sink) StartConsumer(ctx context.Context, handle func(ctx context.Context, payload []byte) error) error {
	if s.commandTopic == "" {
		<-ctx.Done()
		return nil
	}

	groupID := s.groupID
	if groupID == "" {
		groupID = "gateway-agent-" + s.name
	}

	s.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:  s.brokers,
		Topic:    s.commandTopic,
		GroupID:  groupID,
		MaxWait:  500 * time.Millisecond,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer s.reader.Close()

	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("kafka fetch error", "name", s.name, "error", err)
			return err
		}

		if err := handle(ctx, msg.Value); err != nil {
			s.logger.Error("command failed", "name", s.name, "error", err)
			continue
		}
		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			s.logger.Warn("kafka commit failed", "name", s.name, "error", err)
		}
	}
}
