// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api is the console's only door to the SentinelOps backend.
//
// # Description
//
// Client wraps every backend endpoint the console consumes. All methods
// follow one contract: a successful call returns the decoded value, and
// every failure (transport, non-2xx status, undecodable body) is returned
// as an *Error carrying an operator-presentable message. Callers never need
// to distinguish the three failure kinds to render a reason.
//
// # Thread Safety
//
// Client is safe for concurrent use.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/pkg/logging"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// RequestIDHeader carries a per-request uuid so backend logs can be
// correlated with console logs.
const RequestIDHeader = "X-Request-ID"

// Observer receives one callback per finished request. outcome is "ok" or
// the ErrorKind of the failure.
type Observer interface {
	ObserveRequest(endpoint, outcome string, elapsed time.Duration)
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	// Timeout bounds a single request. Default: 30s.
	Timeout time.Duration

	// RateLimit is the sustained requests per second. 0 disables limiting.
	RateLimit float64

	// Burst is the limiter burst. Default: 1 when RateLimit is set.
	Burst int

	// HTTPClient overrides the transport entirely (tests).
	HTTPClient *http.Client

	Logger   *logging.Logger
	Observer Observer
}

// Client talks to the backend REST API rooted at a base URL such as
// http://localhost:8080/api.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logging.Logger
	observer   Observer
}

// NewClient creates a Client for baseURL.
//
// # Inputs
//
//   - baseURL: API root, trailing slash optional.
//   - opts: see Options.
//
// # Outputs
//
//   - *Client: ready to use; the default transport is wrapped with otelhttp
//     so each call becomes a client span when tracing is enabled.
func NewClient(baseURL string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
		limiter:    limiter,
		logger:     logger,
		observer:   opts.Observer,
	}
}

// BaseURL returns the API root this client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// -----------------------------------------------------------------------------
// Servers
// -----------------------------------------------------------------------------

// ListServers returns the server registry.
func (c *Client) ListServers(ctx context.Context) ([]models.Server, error) {
	resp, err := c.do(ctx, "servers", http.MethodGet, "/servers", nil, nil)
	if err != nil {
		return nil, err
	}
	return Decode[[]models.Server](resp)
}

// CheckHealth asks the backend to re-check a server. The body is ignored;
// the registry must be refetched to observe the new health value.
func (c *Client) CheckHealth(ctx context.Context, serverID string) error {
	resp, err := c.do(ctx, "server_health", http.MethodGet, "/servers/"+url.PathEscape(serverID)+"/health", nil, nil)
	if err != nil {
		return err
	}
	_, err = Decode[Payload](resp)
	return err
}

// -----------------------------------------------------------------------------
// Telemetry
// -----------------------------------------------------------------------------

// Snapshot fetches a fresh telemetry snapshot. An empty serverID targets
// the backend's configured default server.
func (c *Client) Snapshot(ctx context.Context, serverID string) (models.Snapshot, error) {
	q := url.Values{}
	if serverID != "" {
		q.Set("serverId", serverID)
	}
	resp, err := c.do(ctx, "snapshot", http.MethodGet, "/snapshot", q, nil)
	if err != nil {
		return models.Snapshot{}, err
	}
	return Decode[models.Snapshot](resp)
}

// Anomalies returns the last N detected anomalies in backend order.
func (c *Client) Anomalies(ctx context.Context, serverID string, lastN int) ([]models.Anomaly, error) {
	q := url.Values{}
	q.Set("serverId", serverID)
	q.Set("lastN", strconv.Itoa(lastN))
	resp, err := c.do(ctx, "anomalies", http.MethodGet, "/analytics/anomalies", q, nil)
	if err != nil {
		return nil, err
	}
	return Decode[[]models.Anomaly](resp)
}

// DiskTrend returns per-mount disk usage history.
func (c *Client) DiskTrend(ctx context.Context, serverID string, limit int) (models.DiskTrend, error) {
	q := url.Values{}
	q.Set("serverId", serverID)
	q.Set("limit", strconv.Itoa(limit))
	resp, err := c.do(ctx, "disk_trend", http.MethodGet, "/analytics/disk", q, nil)
	if err != nil {
		return models.DiskTrend{}, err
	}
	return Decode[models.DiskTrend](resp)
}

// NginxLogs returns the most recent USSD lines of the nginx access log.
func (c *Client) NginxLogs(ctx context.Context, serverID string, limit int) (models.LogTail, error) {
	q := url.Values{}
	q.Set("serverId", serverID)
	q.Set("limit", strconv.Itoa(limit))
	resp, err := c.do(ctx, "nginx_logs", http.MethodGet, "/nginx/ussd-logs", q, nil)
	if err != nil {
		return models.LogTail{}, err
	}
	return Decode[models.LogTail](resp)
}

// -----------------------------------------------------------------------------
// Commands
// -----------------------------------------------------------------------------

// AnalyzeCommand asks the backend to classify a command.
func (c *Client) AnalyzeCommand(ctx context.Context, command string) (models.CommandAnalysis, error) {
	resp, err := c.do(ctx, "analyze", http.MethodPost, "/commands/analyze", nil, models.AnalyzeRequest{Command: command})
	if err != nil {
		return models.CommandAnalysis{}, err
	}
	return Decode[models.CommandAnalysis](resp)
}

// ExecuteCommand runs a previously analyzed command.
func (c *Client) ExecuteCommand(ctx context.Context, req models.ExecuteRequest) (models.ExecutionResult, error) {
	resp, err := c.do(ctx, "execute", http.MethodPost, "/commands/execute", nil, req)
	if err != nil {
		return models.ExecutionResult{}, err
	}
	return Decode[models.ExecutionResult](resp)
}

// CommandHistory returns the backend's execution log.
func (c *Client) CommandHistory(ctx context.Context) ([]models.CommandLogEntry, error) {
	resp, err := c.do(ctx, "command_history", http.MethodGet, "/commands/history", nil, nil)
	if err != nil {
		return nil, err
	}
	return Decode[[]models.CommandLogEntry](resp)
}

// -----------------------------------------------------------------------------
// Chat
// -----------------------------------------------------------------------------

// ChatMode returns the backend's answering mode (OPENAI, LOCAL, ...).
func (c *Client) ChatMode(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, "chat_mode", http.MethodGet, "/chat/mode", nil, nil)
	if err != nil {
		return "", err
	}
	reply, err := Decode[models.ChatModeReply](resp)
	if err != nil {
		return "", err
	}
	return reply.Mode, nil
}

// Chat sends one message.
func (c *Client) Chat(ctx context.Context, req models.ChatRequest) (models.ChatReply, error) {
	resp, err := c.do(ctx, "chat", http.MethodPost, "/chat", nil, req)
	if err != nil {
		return models.ChatReply{}, err
	}
	return Decode[models.ChatReply](resp)
}

// -----------------------------------------------------------------------------
// Transport
// -----------------------------------------------------------------------------

func (c *Client) do(ctx context.Context, endpoint, method, path string, query url.Values, body any) (resp Response, err error) {
	start := time.Now()
	defer func() {
		if c.observer == nil {
			return
		}
		outcome := "ok"
		if err != nil {
			outcome = string(KindOf(err))
		} else if !resp.OK() {
			outcome = string(KindStatus)
		}
		c.observer.ObserveRequest(endpoint, outcome, time.Since(start))
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Response{}, transportError(err)
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Response{}, requestError("encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	var req *http.Request
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, target, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, target, nil)
	}
	if err != nil {
		return Response{}, requestError("build request", err)
	}
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("backend request failed",
			"endpoint", endpoint,
			"request_id", requestID,
			"error", err.Error(),
		)
		return Response{}, transportError(err)
	}
	resp, err = NewResponse(httpResp)
	if err != nil {
		return Response{}, err
	}
	c.logger.Debug("backend request finished",
		"endpoint", endpoint,
		"request_id", requestID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}
