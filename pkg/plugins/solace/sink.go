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

package solace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"solace.dev/go/messaging"
	"solace.dev/go/messaging/pkg/solace"
	"solace.dev/go/messaging/pkg/solace/config"
	"solace.dev/go/messaging/pkg/solace/message"
	"solace.dev/go/messaging/pkg/solace/resource"

	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/core"
)

// Sink publishes dispatched gateway events to a Solace topic, with an
// optional command topic consumed back into the agent.
type Sink struct {
	name         string
	host         string
	vpn          string
	username     string
	password     string
	topicOut     string
	commandTopic string
	service      solace.MessagingService
	publisher    solace.DirectMessagePublisher
	logger       *slog.Logger
}

func New(name, host, vpn, username, password, topicOut, commandTopic string, logger *slog.Logger) *Sink {
	return &Sink{
		name:         name,
		host:         host,
		vpn:          vpn,
		username:     username,
		password:     password,
		topicOut:     topicOut,
		commandTopic: commandTopic,
		logger:       logger,
	}
}

func (s *Sink) Name() string { return s.name }
func (s *Sink) Type() string { return "solace" }

func (s *Sink) Connect(ctx context.Context) error {
	var err error
	s.service, err = messaging.NewMessagingServiceBuilder().
		FromConfigurationProvider(config.ServicePropertyMap{
			config.TransportLayerPropertyHost:                s.host,
			config.ServicePropertyVPNName:                    s.vpn,
			config.AuthenticationPropertySchemeBasicUserName: s.username,
			config.AuthenticationPropertySchemeBasicPassword: s.password,
		}).Build()
	if err != nil {
		return fmt.Errorf("solace build: %w", err)
	}
	if err = s.service.Connect(); err != nil {
		return fmt.Errorf("solace connect: %w", err)
	}

	if s.topicOut != "" {
		s.publisher, err = s.service.CreateDirectMessagePublisherBuilder().Build()
		if err != nil {
			return fmt.Errorf("solace publisher build: %w", err)
		}
		if err = s.publisher.Start(); err != nil {
			return fmt.Errorf("solace publisher start: %w", err)
		}
	}

	s.logger.Info("solace sink connected", "name", s.name, "host", s.host)
	return nil
}

func (s *Sink) Disconnect(ctx context.Context) error {
	if s.publisher != nil {
		s.publisher.Terminate(5 * time.Second)
	}
	if s.service != nil {
		s.service.Disconnect()
	}
	return nil
}

func (s *Sink) Publish(ctx context.Context, evt core.Event) error {
	if s.publisher == nil {
		return nil
	}
	msg, err := s.service.MessageBuilder().BuildWithByteArrayPayload(evt.Payload)
	if err != nil {
		return err
	}
	return s.publisher.Publish(msg, resource.TopicOf(s.topicOut+"/"+evt.Kind))
}

// StartConsumer receives command payloads from the command topic until ctx
// is cancelled.
func (s *Sink) StartConsumer(ctx context.Context, handle func(ctx context.Context, payload []byte) error) error {
	if s.commandTopic == "" {
		<-ctx.Done()
		return nil
	}

	receiver, err := s.service.CreateDirectMessageReceiverBuilder().
		WithSubscriptions(resource.TopicSubscriptionOf(s.commandTopic)).
		Build()
	if err != nil {
		return fmt.Errorf("solace receiver build: %w", err)
	}
	if err = receiver.Start(); err != nil {
		return fmt.Errorf("solace receiver start: %w", err)
	}
	defer receiver.Terminate(5 * time.Second)

	err = receiver.ReceiveAsync(func(inMsg message.InboundMessage) {
		payload, _ := inMsg.GetPayloadAsBytes()
		if err := handle(ctx, payload); err != nil {
			s.logger.Error("command failed", "name", s.name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("solace receive async: %w", err)
	}

	<-ctx.Done()
	return nil
}
