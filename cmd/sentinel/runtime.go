// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/config"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/api"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/console"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/journal"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/observability"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/riskgate"
	"github.com/AleutianAI/SentinelOps/pkg/logging"
	"github.com/AleutianAI/SentinelOps/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const telemetryShutdownTimeout = 5 * time.Second

// runtimeOptions adjust how a runtime is built for one command.
type runtimeOptions struct {
	// quiet silences console logging (the full-screen UI owns the terminal).
	quiet bool

	// noTelemetry skips the OpenTelemetry exporters (tests).
	noTelemetry bool

	// httpClient overrides the backend transport (tests).
	httpClient *http.Client
}

// runtime holds everything a command needs: the backend client, the
// logger, the metrics registry and the optional journal.
type runtime struct {
	cfg      config.SentinelConfig
	logger   *logging.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	client   *api.Client
	journal  *journal.Journal
	shutdown telemetry.Shutdown
}

// newRuntime wires a runtime from cfg.
//
// # Description
//
// Builds the logger from the logging section, starts the configured
// OpenTelemetry exporters (bridged into a private Prometheus registry),
// registers the console metrics on the same registry, creates the backend
// client and opens the journal when enabled. A journal that cannot be
// opened is logged and skipped; commands still run without history.
//
// # Outputs
//
//   - *runtime: must be closed.
//   - error: invalid log level or telemetry setup failure.
func newRuntime(ctx context.Context, cfg config.SentinelConfig, opts runtimeOptions) (*runtime, error) {
	levelName := cfg.Logging.Level
	if logLevel != "" {
		levelName = logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "sentinel",
		JSON:    cfg.Logging.JSON,
		Quiet:   opts.quiet,
	})

	rt := &runtime{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		shutdown: func(context.Context) error { return nil },
	}

	if !opts.noTelemetry {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: version,
			TraceExporter:  cfg.Telemetry.Traces,
			MetricExporter: cfg.Telemetry.Metrics,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			OTLPInsecure:   true,
			Registerer:     rt.registry,
		})
		if err != nil {
			_ = logger.Close()
			return nil, fmt.Errorf("telemetry: %w", err)
		}
		rt.shutdown = shutdown
	}

	rt.metrics = observability.NewMetrics(rt.registry)
	rt.client = api.NewClient(cfg.Backend.BaseURL, api.Options{
		Timeout:    cfg.Backend.Timeout,
		RateLimit:  cfg.Backend.RateLimit,
		Burst:      cfg.Backend.Burst,
		HTTPClient: opts.httpClient,
		Logger:     logger,
		Observer:   rt.metrics,
	})

	if cfg.Journal.Enabled {
		jcfg := journal.DefaultConfig(cfg.JournalPath())
		if cfg.Journal.Retention > 0 {
			jcfg.Retention = cfg.Journal.Retention
		}
		j, err := journal.Open(jcfg, logger)
		if err != nil {
			logger.Warn("journal unavailable, continuing without history", "path", jcfg.Path, "error", err)
		} else {
			rt.journal = j
		}
	}

	logger.Debug("runtime ready", "base_url", cfg.Backend.BaseURL, "journal", rt.journal != nil)
	return rt, nil
}

// openRuntime builds a runtime from the loaded global config.
func openRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	return newRuntime(ctx, config.Global, opts)
}

// gateHook fans a gate event out to the metrics and, when open, the
// journal.
func (r *runtime) gateHook() riskgate.Hook {
	hooks := []riskgate.Hook{r.metrics.GateHook()}
	if r.journal != nil {
		hooks = append(hooks, r.journal.Hook())
	}
	return func(ev riskgate.Event) {
		for _, h := range hooks {
			h(ev)
		}
	}
}

// newGate creates a risk gate for a one-shot CLI command.
func (r *runtime) newGate(src riskgate.Source) *riskgate.Gate {
	return riskgate.New(r.client,
		riskgate.WithLogger(r.logger),
		riskgate.WithHook(r.gateHook()),
		riskgate.WithSource(src),
		riskgate.WithTracer(otel.Tracer("sentinel")),
	)
}

// consoleConfig maps the console section onto a controller config.
func (r *runtime) consoleConfig() console.Config {
	c := r.cfg.Console
	return console.Config{
		Server:          targetServer(r.cfg),
		AutoRefresh:     c.AutoRefresh,
		LogTailInterval: c.LogTailInterval,
		LogTailLimit:    c.LogTailLimit,
		AnomaliesLastN:  c.AnomaliesLastN,
		DiskTrendLimit:  c.DiskTrendLimit,
		LogHostPatterns: c.LogHostPatterns,
		FetchTimeout:    r.cfg.Backend.Timeout,
	}
}

// newController builds a console controller wired to the runtime's
// metrics and, when open, the journal.
func (r *runtime) newController(opts ...console.Option) *console.Controller {
	base := []console.Option{
		console.WithLogger(r.logger),
		console.WithMetrics(r.metrics),
	}
	if r.journal != nil {
		base = append(base, console.WithGateHook(r.journal.Hook()))
	}
	return console.New(r.client, r.consoleConfig(), append(base, opts...)...)
}

// close flushes telemetry and closes the journal and logger.
func (r *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := r.shutdown(ctx); err != nil {
		r.logger.Warn("telemetry shutdown failed", "error", err)
	}
	if r.journal != nil {
		if err := r.journal.Close(); err != nil {
			r.logger.Warn("journal close failed", "error", err)
		}
	}
	_ = r.logger.Close()
}
