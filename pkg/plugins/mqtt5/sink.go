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

package mqtt5

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/core"
)

// Sink publishes dispatched gateway events to an MQTT 5 topic. Events for a
// kind are published under topicOut/<kind>; an optional command topic is
// consumed back into the agent.
type Sink struct {
	name         string
	brokerURL    string
	topicOut     string
	commandTopic string
	cm           *autopaho.ConnectionManager
	router       paho.Router
	logger       *slog.Logger
}

func New(name, brokerURL, topicOut, commandTopic string, logger *slog.Logger) *Sink {
	return &Sink{
		name:         name,
		brokerURL:    brokerURL,
		topicOut:     topicOut,
		commandTopic: commandTopic,
		logger:       logger,
		router:       paho.NewStandardRouter(),
	}
}

func (s *Sink) Name() string { return s.name }
func (s *Sink) Type() string { return "mqtt5" }

func (s *Sink) Connect(ctx context.Context) error {
	serverURL, err := url.Parse(s.brokerURL)
	if err != nil {
		return fmt.Errorf("mqtt5 invalid URL: %w", err)
	}

	cfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverURL},
		KeepAlive:                     30,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
			s.logger.Info("mqtt5 connection up", "name", s.name)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "gateway-agent-" + s.name + "-" + uuid.New().String()[:8],
			Router:   s.router,
		},
	}

	s.cm, err = autopaho.NewConnection(ctx, cfg)
	if err != nil {
		return fmt.Errorf("mqtt5 connection: %w", err)
	}
	if err := s.cm.AwaitConnection(ctx); err != nil {
		return fmt.Errorf("mqtt5 await connection: %w", err)
	}

	s.logger.Info("mqtt5 sink connected", "name", s.name, "broker", s.brokerURL)
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	if s.cm != nil {
		return s.cm.Disconnect(ctx)
	}
	return nil
}

func (s *Sink) Publish(ctx context.Context, evt core.Event) error {
	if s.topicOut == "" || s.cm == nil {
		return nil
	}
	_, err := s.cm.Publish(ctx, &paho.Publish{
		Topic:   s.topicOut + "/" + evt.Kind,
		QoS:     1,
		Payload: evt.Payload,
	})
	return err
}

// StartConsumer subscribes to the command topic until ctx is cancelled.
func (s *Sink) StartConsumer(ctx context.Context, handle func(ctx context.Context, payload []byte) error) error {
	if s.commandTopic == "" {
		<-ctx.Done()
		return nil
	}

	cmdCh := make(chan *paho.Publish, 1)
	s.router.RegisterHandler(s.commandTopic, func(p *paho.Publish) {
		select {
		case cmdCh <- p:
		default:
		}
	})

	_, err := s.cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: s.commandTopic, QoS: 1},
		},
	})
	if err != nil {
		return fmt.Errorf("mqtt5 subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case pub := <-cmdCh:
			if err := handle(ctx, pub.Payload); err != nil {
				s.logger.Error("command failed", "name", s.name, "error", err)
			}
		}
	}
}
