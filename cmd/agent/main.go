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

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/internal/agent"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/internal/dispatch"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/internal/gateway"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/internal/logging"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/internal/rest"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/internal/routing"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/config"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/plugins"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/plugins/jms"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/plugins/kafka"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/plugins/mqtt5"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/plugins/rabbitmq"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/plugins/solace"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/store"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/webhook"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "/etc/gateway-agent/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}

	sessionStore, err := store.NewStore(cfg.Store)
	if err != nil {
		logger.Error("failed to create store", "type", cfg.Store.Type, "error", err)
		os.Exit(1)
	}
	defer sessionStore.Close()

	registry := plugins.NewRegistry(logger)
	registerSinks(cfg, registry, logger)

	routeTable := routing.NewTable()
	for _, rc := range cfg.Routes {
		routeTable.Add(rc.ToRoute())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry.ConnectAll(ctx)

	var events *logging.EventLogger
	if cfg.Engine.EventTrace {
		events = logging.NewEventLogger(logger.With("component", "events"))
	}

	dispatcher := dispatch.New(cfg.Engine.QueueSize, logger.With("component", "dispatch"), events)
	pool := dispatch.NewPool(cfg.Engine.Workers, dispatcher.Queue(), logger.With("component", "pool"))

	restClient := rest.NewClient(
		cfg.Agent.APIBaseURL,
		cfg.Agent.Token,
		logger.With("component", "rest"),
		rest.WithMaxRetries(cfg.Engine.MaxRetries),
	)

	session, err := gateway.NewSession(gateway.Config{
		Token:         cfg.Agent.Token,
		Intents:       cfg.Agent.Intents,
		GatewayURL:    restClient.GatewayURL,
		Dispatcher:    dispatcher,
		Store:         sessionStore,
		Logger:        logger.With("component", "gateway"),
		ReconnectBase: cfg.Engine.ReconnectBase,
		ReconnectMax:  cfg.Engine.ReconnectMax,
	})
	if err != nil {
		logger.Error("failed to create gateway session", "error", err)
		os.Exit(1)
	}

	engine := agent.NewEngine(dispatcher, pool, session, restClient, registry, routeTable, logger.With("component", "engine"))

	watcher := config.NewWatcher(configPath, engine.ReloadRoutes, logger.With("component", "config"))
	go watcher.Watch(ctx)

	if cfg.Webhook.Enabled {
		listener := webhook.New("webhook", cfg.Webhook.Port, dispatcher, logger.With("component", "webhook"))
		go func() {
			if err := listener.Start(ctx); err != nil {
				logger.Error("webhook entrypoint failed", "error", err)
			}
		}()
	}

	engine.Start(ctx)
	logger.Info("gateway agent started", "config", configPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down gateway agent")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	engine.Stop(shutdownCtx)
	cancel()
	registry.DisconnectAll(shutdownCtx)

	logger.Info("gateway agent stopped")
}

func registerSinks(cfg *config.Config, reg *plugins.Registry, logger *slog.Logger) {
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "kafka":
			brokers := strings.Split(sc.Config["brokers"], ",")
			reg.Register(kafka.New(
				sc.Name, brokers,
				sc.Config["topic_out"], sc.Config["command_topic"],
				sc.Config["group_id"],
				logger,
			))
		case "rabbitmq":
			reg.Register(rabbitmq.New(
				sc.Name,
				sc.Config["url"],
				sc.Config["queue_out"], sc.Config["command_queue"],
				logger,
			))
		case "mqtt5":
			reg.Register(mqtt5.New(
				sc.Name,
				sc.Config["broker_url"],
				sc.Config["topic_out"], sc.Config["command_topic"],
				logger,
			))
		case "jms":
			reg.Register(jms.New(
				sc.Name,
				sc.Config["url"],
				sc.Config["queue_out"], sc.Config["command_queue"],
				logger,
			))
		case "solace":
			reg.Register(solace.New(
				sc.Name,
				sc.Config["host"], sc.Config["vpn"],
				sc.Config["username"], sc.Config["password"],
				sc.Config["topic_out"], sc.Config["command_topic"],
				logger,
			))
		default:
			logger.Warn("unknown sink type", "name", sc.Name, "type", sc.Type)
		}
	}
}
