// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/poller"
)

// SentinelConfig is the on-disk configuration at ~/.sentinel/sentinel.yaml.
type SentinelConfig struct {
	// Backend: where the SentinelOps API lives
	Backend BackendConfig `yaml:"backend"`

	// Console: what the console selects and how often it polls
	Console ConsoleConfig `yaml:"console"`

	// Actions: the policy for non-interactive quick actions
	Actions ActionsConfig `yaml:"actions"`

	// Journal: local record of analyzed and executed commands
	Journal JournalConfig `yaml:"journal"`

	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Watch     WatchConfig     `yaml:"watch"`

	// Personality: full, standard, minimal or machine
	Personality string `yaml:"personality" validate:"omitempty,oneof=full standard minimal machine"`
}

type BackendConfig struct {
	// BaseURL e.g. http://localhost:8080/api
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout" validate:"min=1s"`

	// RateLimit is requests per second; 0 is unlimited
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `yaml:"burst" validate:"gte=0"`
}

type ConsoleConfig struct {
	// Server is selected on start. Empty picks the first registered server.
	Server          string        `yaml:"server,omitempty"`
	AutoRefresh     time.Duration `yaml:"auto_refresh" validate:"refresh_interval"`
	LogTailInterval time.Duration `yaml:"log_tail_interval" validate:"min=1s"`
	LogTailLimit    int           `yaml:"log_tail_limit" validate:"min=1,max=500"`
	AnomaliesLastN  int           `yaml:"anomalies_last_n" validate:"min=1,max=1000"`
	DiskTrendLimit  int           `yaml:"disk_trend_limit" validate:"min=1,max=1000"`

	// LogHostPatterns are matched against server name and host
	LogHostPatterns []string `yaml:"log_host_patterns" validate:"dive,required"`
}

type ActionsConfig struct {
	// MaxAutoApprove is the highest risk a non-interactive quick action
	// runs without a prompt.
	MaxAutoApprove string `yaml:"max_auto_approve" validate:"oneof=LOW MEDIUM HIGH"`
}

type JournalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path" validate:"required_if=Enabled true"`
	Retention time.Duration `yaml:"retention" validate:"gte=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

type TelemetryConfig struct {
	Traces       string `yaml:"traces" validate:"oneof=none stdout otlp"`
	Metrics      string `yaml:"metrics" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" validate:"required_if=Traces otlp"`
	ServiceName  string `yaml:"service_name" validate:"required"`
}

type WatchConfig struct {
	Listen string `yaml:"listen" validate:"required,hostname_port"`
}

// MaxAutoApproveLevel returns the configured ceiling as a RiskLevel.
func (a ActionsConfig) MaxAutoApproveLevel() models.RiskLevel {
	return models.RiskLevel(a.MaxAutoApprove)
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() SentinelConfig {
	return SentinelConfig{
		Backend: BackendConfig{
			BaseURL:   "http://localhost:8080/api",
			Timeout:   30 * time.Second,
			RateLimit: 10,
			Burst:     5,
		},
		Console: ConsoleConfig{
			AutoRefresh:     0,
			LogTailInterval: poller.DefaultLogTailInterval,
			LogTailLimit:    60,
			AnomaliesLastN:  20,
			DiskTrendLimit:  50,
			LogHostPatterns: []string{"nginx"},
		},
		Actions: ActionsConfig{
			MaxAutoApprove: string(models.RiskMedium),
		},
		Journal: JournalConfig{
			Enabled:   true,
			Path:      "~/.sentinel/journal",
			Retention: 30 * 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.sentinel/logs",
		},
		Telemetry: TelemetryConfig{
			Traces:      "none",
			Metrics:     "prometheus",
			ServiceName: "sentinel",
		},
		Watch: WatchConfig{
			Listen: ":9464",
		},
		Personality: "standard",
	}
}
