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

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/core"
	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/store"
)

type Config struct {
	Agent   AgentConfig     `yaml:"agent"`
	Engine  EngineConfig    `yaml:"engine"`
	Store   store.Config    `yaml:"store"`
	Webhook WebhookConfig   `yaml:"webhook"`
	Sinks   []SinkConfig    `yaml:"sinks"`
	Routes  []RouteConfig   `yaml:"routes"`
}

type AgentConfig struct {
	Token      string `yaml:"token"`
	Intents    int64  `yaml:"intents"`
	APIBaseURL string `yaml:"api_base_url"`
}

type EngineConfig struct {
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
	MaxRetries    int           `yaml:"max_retries"`
	ReconnectBase time.Duration `yaml:"reconnect_base"`
	ReconnectMax  time.Duration `yaml:"reconnect_max"`
	EventTrace    bool          `yaml:"event_trace"`
}

type WebhookConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type SinkConfig struct {
	Name   string            `yaml:"name"`
	Type   string            `yaml:"type"`
	Config map[string]string `yaml:"config"`
}

type RouteConfig struct {
	Kind   string `yaml:"kind"`
	Target string `yaml:"target"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// validate rejects configurations that must never reach Connecting.
func (c *Config) validate() error {
	if c.Agent.Token == "" {
		return fmt.Errorf("%w: agent.token is required", core.ErrMissingToken)
	}
	if c.Agent.APIBaseURL == "" {
		return fmt.Errorf("agent.api_base_url is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Engine.Workers <= 0 {
		c.Engine.Workers = 4
	}
	if c.Engine.QueueSize <= 0 {
		c.Engine.QueueSize = 256
	}
	if c.Engine.MaxRetries <= 0 {
		c.Engine.MaxRetries = 5
	}
	if c.Webhook.Port == 0 {
		c.Webhook.Port = 8077
	}
}

func (rc RouteConfig) ToRoute() *core.Route {
	return &core.Route{Kind: rc.Kind, Target: rc.Target}
}
