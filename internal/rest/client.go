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

// Package rest is the outbound command channel. Every request is wrapped
// with per-endpoint rate limiting and bounded 429 retries.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wso2/api-platform/gateway/gateway-runtime/gateway-agent/pkg/core"
)

const defaultMaxRetries = 5

// APIError is a non-success response surfaced to the caller.
type APIError struct {
	Status int
	Body   []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.Status, e.Body)
}

// Client issues rate-limited requests against the backend REST API.
type Client struct {
	baseURL    string
	token      string
	userAgent  string
	httpClient *http.Client
	limiter    *RateLimiter
	maxRetries int
	logger     *slog.Logger
}

type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxRetries bounds the total number of attempts per call. Once that
// many consecutive 429 responses arrive the call fails with
// core.ErrRateLimitExhausted.
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

func NewClient(baseURL, token string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		token:      token,
		userAgent:  "gateway-agent",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    NewRateLimiter(),
		maxRetries: defaultMaxRetries,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do issues one request keyed by method+path for rate limiting. On 429 the
// server-provided delay is slept out and the request retried; total attempts
// never exceed the configured maximum. The decoded body is returned, or nil
// for empty bodies.
func (c *Client) Do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		payload = data
	}

	key := method + " " + path

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		bucket, err := c.limiter.Acquire(ctx, key)
		if err != nil {
			return nil, err
		}

		respBody, status, header, err := c.roundTrip(ctx, method, path, payload)
		bucket.Release(header)
		if err != nil {
			return nil, err
		}

		if status == http.StatusTooManyRequests {
			if attempt+1 >= c.maxRetries {
				// Attempt budget spent; no point sleeping out the delay.
				break
			}
			delay := retryAfter(header)
			c.logger.Warn("rate limited",
				"endpoint", key,
				"retry_after", delay,
				"attempt", attempt+1,
			)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			}
			continue
		}

		if status == http.StatusNoContent {
			return nil, nil
		}
		if status < 200 || status > 299 {
			return nil, &APIError{Status: status, Body: respBody}
		}
		return respBody, nil
	}

	return nil, fmt.Errorf("%w: endpoint=%s retries=%d", core.ErrRateLimitExhausted, key, c.maxRetries)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload []byte) ([]byte, int, http.Header, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, resp.Header, nil
}

type gatewayInfo struct {
	URL string `json:"url"`
}

// GatewayURL resolves the websocket URL through the discovery endpoint.
func (c *Client) GatewayURL(ctx context.Context) (string, error) {
	body, err := c.Do(ctx, http.MethodGet, "/gateway", nil)
	if err != nil {
		return "", err
	}
	var info gatewayInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("decode gateway info: %w", err)
	}
	return info.URL, nil
}
