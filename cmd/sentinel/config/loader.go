// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates ~/.sentinel/sentinel.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/poller"
	"github.com/AleutianAI/SentinelOps/pkg/logging"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvAPIURL overrides backend.base_url when set.
const EnvAPIURL = "SENTINEL_API_URL"

var (
	// Global is a singleton instance
	Global SentinelConfig
	once   sync.Once

	configValidate *validator.Validate
)

func init() {
	configValidate = validator.New(validator.WithRequiredStructEnabled())
	configValidate.RegisterTagNameFunc(yamlFieldName)
	_ = configValidate.RegisterValidation("refresh_interval", validateRefreshInterval)
}

// validateRefreshInterval accepts only the auto-refresh settings the
// console can cycle through.
func validateRefreshInterval(fl validator.FieldLevel) bool {
	if fl.Field().Type() != reflect.TypeOf(time.Duration(0)) {
		return false
	}
	return poller.ValidInterval(time.Duration(fl.Field().Int()))
}

func yamlFieldName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// DefaultPath returns ~/.sentinel/sentinel.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".sentinel", "sentinel.yaml"), nil
}

// Load ensures the config is loaded into the Global variable. An empty
// path uses DefaultPath. Only the first call reads the file.
func Load(path string) error {
	var err error
	once.Do(func() {
		if path == "" {
			path, err = DefaultPath()
			if err != nil {
				return
			}
		}
		Global, err = LoadFrom(path)
	})
	return err
}

// LoadFrom reads path, creating it with defaults on first run. Keys
// missing from the file keep their default values. The result has the
// SENTINEL_API_URL override applied and has been validated.
func LoadFrom(path string) (SentinelConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, " First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return SentinelConfig{}, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return SentinelConfig{}, fmt.Errorf("failed to read the config file %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return SentinelConfig{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of DefaultConfig, applies the environment
// override and validates.
func Parse(data []byte) (SentinelConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return SentinelConfig{}, fmt.Errorf("failed to parse the config: %w", err)
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPIURL)); v != "" {
		cfg.Backend.BaseURL = v
	}
	if err := cfg.Validate(); err != nil {
		return SentinelConfig{}, err
	}
	return cfg, nil
}

// Validate checks every field. Errors name the YAML key, e.g.
// "console.auto_refresh".
func (c SentinelConfig) Validate() error {
	err := configValidate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	key := fe.Namespace()
	if i := strings.IndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	switch fe.Tag() {
	case "refresh_interval":
		allowed := make([]string, 0, len(poller.AllowedIntervals))
		for _, d := range poller.AllowedIntervals {
			allowed = append(allowed, poller.FormatInterval(d))
		}
		return fmt.Sprintf("%s must be one of %s", key, strings.Join(allowed, ", "))
	case "required", "required_if":
		return key + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", key, fe.Param(), fe.Value())
	case "url":
		return fmt.Sprintf("%s is not a valid URL: %q", key, fe.Value())
	default:
		if fe.Param() != "" {
			return fmt.Sprintf("%s failed %s=%s", key, fe.Tag(), fe.Param())
		}
		return fmt.Sprintf("%s failed %s", key, fe.Tag())
	}
}

// JournalPath returns the journal directory with ~ expanded.
func (c SentinelConfig) JournalPath() string {
	return logging.ExpandPath(c.Journal.Path)
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
