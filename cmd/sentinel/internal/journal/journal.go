// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package journal keeps a local record of every gated command session.
//
// The backend keeps its own command history; the journal is the operator's
// side of it. It records what the operator was shown (the analysis) and
// what came back (the result), including fail-safe analyses and rejected
// executions that never reach the backend's history.
//
// Storage is an embedded BadgerDB. Keys are laid out as
//
//	e/<analyzed-at unix nanos, 20 digits>/<session id>  -> Entry JSON
//	i/<session id>                                        -> primary key
//
// so a reverse prefix scan returns newest first.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/riskgate"
	"github.com/AleutianAI/SentinelOps/pkg/logging"
	"github.com/dgraph-io/badger/v4"
)

const (
	entryPrefix = "e/"
	indexPrefix = "i/"

	// DefaultListLimit bounds List when the caller passes zero.
	DefaultListLimit = 50
)

// ErrNotFound is returned by Get for unknown sessions.
var ErrNotFound = errors.New("journal: entry not found")

// Entry is one journaled session.
type Entry struct {
	SessionID  string                  `json:"sessionId"`
	ServerID   string                  `json:"serverId,omitempty"`
	Source     riskgate.Source         `json:"source"`
	Command    string                  `json:"command"`
	Analysis   *models.CommandAnalysis `json:"analysis,omitempty"`
	Result     *models.ExecutionResult `json:"result,omitempty"`
	AnalyzedAt time.Time               `json:"analyzedAt"`
	SettledAt  time.Time               `json:"settledAt,omitempty"`
}

// Settled reports whether an execute attempt completed.
func (e Entry) Settled() bool {
	return e.Result != nil
}

// LogEntry renders the entry in the backend's history shape so both
// histories print the same way.
func (e Entry) LogEntry() models.CommandLogEntry {
	out := models.CommandLogEntry{
		ID:        e.SessionID,
		Timestamp: &models.Instant{Time: e.AnalyzedAt},
		Command:   e.Command,
	}
	if e.Analysis != nil {
		out.RiskLevel = e.Analysis.RiskLevel
		out.RollbackSuggestion = e.Analysis.RollbackSuggestion
	}
	if e.Result != nil {
		out.Success = e.Result.Succeeded()
		if e.Result.ExitCode != nil {
			out.ExitCode = *e.Result.ExitCode
		}
		out.Stdout = e.Result.Stdout
		out.Stderr = e.Result.Stderr
		if !e.Result.Executed {
			out.Stderr = e.Result.RejectionReason
		}
		if e.Result.RollbackSuggestion != "" {
			out.RollbackSuggestion = e.Result.RollbackSuggestion
		}
	}
	return out
}

// Query filters List.
type Query struct {
	// ServerID restricts results to one server. Empty matches all.
	ServerID string

	// Limit caps the number of entries. Zero means DefaultListLimit.
	Limit int

	// SettledOnly skips sessions that were analyzed but never executed.
	SettledOnly bool
}

// Journal is the session journal.
//
// # Thread Safety
//
// Safe for concurrent use.
type Journal struct {
	db        *db
	retention time.Duration
	logger    *logging.Logger
}

// Open opens or creates a journal.
func Open(cfg Config, logger *logging.Logger) (*Journal, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.Logger == nil && !cfg.InMemory {
		cfg.Logger = logger.Slog()
	}
	d, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return &Journal{db: d, retention: cfg.Retention, logger: logger}, nil
}

// OpenInMemory opens a journal with no disk persistence.
func OpenInMemory() (*Journal, error) {
	return Open(InMemoryConfig(), nil)
}

// Close stops GC and closes the database.
func (j *Journal) Close() error {
	return j.db.close()
}

func entryKey(analyzedAt time.Time, sessionID string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", entryPrefix, analyzedAt.UnixNano(), sessionID))
}

// Record upserts the entry for s. Sessions that were never analyzed are
// ignored.
func (j *Journal) Record(ctx context.Context, s riskgate.Session) error {
	if s.Analysis == nil || s.Command == "" {
		return nil
	}
	e := Entry{
		SessionID:  s.ID,
		ServerID:   s.ServerID,
		Source:     s.Source,
		Command:    s.Command,
		Analysis:   s.Analysis,
		Result:     s.Result,
		AnalyzedAt: s.AnalyzedAt.UTC(),
		SettledAt:  s.SettledAt.UTC(),
	}
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal: encode entry: %w", err)
	}
	key := entryKey(e.AnalyzedAt, e.SessionID)

	return j.db.withTxn(ctx, func(txn *badger.Txn) error {
		// A re-analysis of the same session moves the entry; drop the old key.
		idx := []byte(indexPrefix + e.SessionID)
		if item, err := txn.Get(idx); err == nil {
			old, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if string(old) != string(key) {
				if err := txn.Delete(old); err != nil {
					return err
				}
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		entry := badger.NewEntry(key, value)
		index := badger.NewEntry(idx, key)
		if j.retention > 0 {
			entry = entry.WithTTL(j.retention)
			index = index.WithTTL(j.retention)
		}
		if err := txn.SetEntry(entry); err != nil {
			return err
		}
		return txn.SetEntry(index)
	})
}

// Hook returns a riskgate hook that journals every analyzed and settled
// session. Write failures are logged, never surfaced to the gate.
func (j *Journal) Hook() riskgate.Hook {
	return func(ev riskgate.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := j.Record(ctx, ev.Session); err != nil {
			j.logger.Warn("journal write failed",
				"session", ev.Session.ID,
				"error", err.Error(),
			)
		}
	}
}

// Get returns the entry for a session.
func (j *Journal) Get(ctx context.Context, sessionID string) (Entry, error) {
	var e Entry
	err := j.db.withReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(indexPrefix + sessionID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	return e, err
}

// List returns entries newest first.
func (j *Journal) List(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	out := make([]Entry, 0, limit)

	err := j.db.withReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(entryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks to the largest key <= seek.
		for it.Seek([]byte(entryPrefix + "\xff")); it.ValidForPrefix(opts.Prefix); it.Next() {
			if len(out) >= limit {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("journal: decode %s: %w", it.Item().Key(), err)
			}
			if q.ServerID != "" && e.ServerID != q.ServerID {
				continue
			}
			if q.SettledOnly && !e.Settled() {
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
