// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package statusapi serves the state of a headless console over HTTP.
//
// Routes:
//
//	GET /healthz  liveness plus the active selection
//	GET /state    snapshot, analytics, log tail and polling state as JSON
//	GET /metrics  Prometheus exposition of the console metrics
//	GET /events   websocket stream of state frames, one per change topic
//
// The API is read-only. Commands are never accepted over HTTP.
package statusapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/console"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/poller"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/store"
	"github.com/AleutianAI/SentinelOps/pkg/logging"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ServiceName is the otel service name of the status API spans.
const ServiceName = "sentinel-watch"

// StateSource is read by the handlers. *console.Controller implements it.
type StateSource interface {
	View() console.View
	Subscribe(buffer int) (<-chan store.Topic, func())
}

// Server is the status API.
type Server struct {
	source   StateSource
	gatherer prometheus.Gatherer
	logger   *logging.Logger
	started  time.Time
	router   *gin.Engine
	upgrader websocket.Upgrader

	// closing is closed when Run shuts down; hijacked event streams do not
	// see http.Server.Shutdown on their own.
	closing   chan struct{}
	closeOnce sync.Once
}

// New builds the router. gatherer may be nil, in which case /metrics
// serves the default registry.
func New(source StateSource, gatherer prometheus.Gatherer, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		source:   source,
		gatherer: gatherer,
		logger:   logger,
		started:  time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 64 * 1024,
		},
		closing: make(chan struct{}),
	}
	s.initRouter()
	return s
}

func (s *Server) initRouter() {
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(ServiceName))

	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/state", s.handleState)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	s.router.GET("/events", s.handleEvents)
}

// Router returns the gin engine, for tests and embedding.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	srv.RegisterOnShutdown(s.closeStreams)
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}

// =============================================================================
// Responses
// =============================================================================

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	ServerID string `json:"serverId"`
	Epoch    uint64 `json:"epoch"`
	Uptime   string `json:"uptime"`
}

// StateResponse is the body of GET /state.
type StateResponse struct {
	Selection SelectionView   `json:"selection"`
	Servers   []models.Server `json:"servers"`
	Snapshot  SnapshotView    `json:"snapshot"`
	Analytics AnalyticsView   `json:"analytics"`
	Logs      LogsView        `json:"logs"`
	Polling   PollingView     `json:"polling"`
	Pending   []string        `json:"pendingActions"`
}

// SelectionView describes the active server.
type SelectionView struct {
	ServerID   string `json:"serverId"`
	Label      string `json:"label,omitempty"`
	Epoch      uint64 `json:"epoch"`
	LogBearing bool   `json:"logBearing"`
}

// SnapshotView is the snapshot panel.
type SnapshotView struct {
	Snapshot  *models.Snapshot `json:"snapshot"`
	Error     string           `json:"error,omitempty"`
	Loading   bool             `json:"loading"`
	FetchedAt *time.Time       `json:"fetchedAt,omitempty"`
}

// AnalyticsView is the anomaly panel.
type AnalyticsView struct {
	Anomalies []models.Anomaly  `json:"anomalies"`
	DiskTrend *models.DiskTrend `json:"diskTrend"`
	Error     string            `json:"error,omitempty"`
}

// LogsView is the log tail panel.
type LogsView struct {
	Lines     []string   `json:"lines"`
	Loading   bool       `json:"loading"`
	Error     string     `json:"error,omitempty"`
	FetchedAt *time.Time `json:"fetchedAt,omitempty"`
}

// PollingView lists the live timers.
type PollingView struct {
	AutoRefresh string   `json:"autoRefresh"`
	Active      []string `json:"active"`
}

func (s *Server) handleHealth(c *gin.Context) {
	v := s.source.View()
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		ServerID: v.Selection.ServerID,
		Epoch:    v.Selection.Epoch,
		Uptime:   time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, buildState(s.source.View()))
}

func buildState(v console.View) StateResponse {
	resp := StateResponse{
		Selection: SelectionView{
			ServerID:   v.Selection.ServerID,
			Epoch:      v.Selection.Epoch,
			LogBearing: v.Selection.LogBearing,
		},
		Servers: v.Servers.Servers,
		Snapshot: SnapshotView{
			Snapshot:  v.Snapshot.Snapshot,
			Error:     v.Snapshot.Err,
			Loading:   v.Snapshot.Loading,
			FetchedAt: optionalTime(v.Snapshot.FetchedAt),
		},
		Analytics: AnalyticsView{
			Anomalies: v.Analytics.Anomalies,
			DiskTrend: v.Analytics.DiskTrend,
			Error:     v.Analytics.Err,
		},
		Logs: LogsView{
			Lines:     v.Logs.Lines,
			Loading:   v.Logs.Loading,
			Error:     v.Logs.Err,
			FetchedAt: optionalTime(v.Logs.FetchedAt),
		},
		Polling: PollingView{
			AutoRefresh: poller.FormatInterval(v.AutoRefresh),
			Active:      make([]string, 0, len(v.Polling)),
		},
		Pending: v.Pending,
	}
	if v.Selection.Server != nil {
		resp.Selection.Label = v.Selection.Server.Label()
	}
	if resp.Servers == nil {
		resp.Servers = []models.Server{}
	}
	if resp.Analytics.Anomalies == nil {
		resp.Analytics.Anomalies = []models.Anomaly{}
	}
	if resp.Logs.Lines == nil {
		resp.Logs.Lines = []string{}
	}
	if resp.Pending == nil {
		resp.Pending = []string{}
	}
	for _, c := range v.Polling {
		resp.Polling.Active = append(resp.Polling.Active, string(c))
	}
	return resp
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
