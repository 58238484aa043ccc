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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/AleutianAI/SentinelOps/pkg/logging"
	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDebounce collapses the burst of events editors produce
// on save.
const DefaultReloadDebounce = 200 * time.Millisecond

// ReloadFunc receives every configuration that parsed and validated.
type ReloadFunc func(SentinelConfig)

// Watcher reloads a config file when it changes on disk.
//
// # Description
//
// The parent directory is watched rather than the file, so editors that
// save by renaming a temp file over the original are still seen. Events
// for other files in the directory are ignored. A reload that fails to
// parse or validate is logged and dropped; the previous configuration
// stays in effect.
//
// # Thread Safety
//
// Start and Close may be called from any goroutine. The ReloadFunc is
// called from the watcher goroutine, one reload at a time.
type Watcher struct {
	path     string
	debounce time.Duration
	onReload ReloadFunc
	logger   *logging.Logger

	watcher *fsnotify.Watcher
	events  chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// NewWatcher watches path. debounce <= 0 uses DefaultReloadDebounce.
func NewWatcher(path string, debounce time.Duration, logger *logging.Logger, onReload ReloadFunc) (*Watcher, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if debounce <= 0 {
		debounce = DefaultReloadDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		debounce: debounce,
		onReload: onReload,
		logger:   logger.With("config", abs),
		watcher:  fw,
		events:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}, nil
}

// Start runs the watcher until ctx is cancelled or Close is called.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(2)
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
}

// Close stops the watcher and waits for its goroutines.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			select {
			case w.events <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	defer w.wg.Done()
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-w.events:
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		// A rename-over save can briefly leave no file behind.
		w.logger.Debug("config not readable, keeping previous", "error", err)
		return
	}
	cfg, err := Parse(data)
	if err != nil {
		w.logger.Warn("config reload rejected, keeping previous", "error", err)
		return
	}
	w.logger.Info("config reloaded")
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
