// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package journal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/riskgate"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	analysis models.CommandAnalysis
	result   models.ExecutionResult
	execErr  error
}

func (b stubBackend) AnalyzeCommand(context.Context, string) (models.CommandAnalysis, error) {
	return b.analysis, nil
}

func (b stubBackend) ExecuteCommand(context.Context, models.ExecuteRequest) (models.ExecutionResult, error) {
	return b.result, b.execErr
}

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Config{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path is required")
}

func TestOpenPersistent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SyncWrites = false

	j, err := Open(cfg, nil)
	require.NoError(t, err)

	s := riskgate.Session{
		ID:         "sess-1",
		Command:    "df -h",
		Analysis:   &models.CommandAnalysis{RiskLevel: models.RiskLow},
		AnalyzedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, j.Record(context.Background(), s))
	require.NoError(t, j.Close())

	j, err = Open(cfg, nil)
	require.NoError(t, err)
	defer j.Close()

	got, err := j.Get(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "df -h", got.Command)
	assert.False(t, got.Settled())
}

func TestHook_RecordsAnalyzedThenSettled(t *testing.T) {
	j := openTestJournal(t)
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	zero := 0
	gate := riskgate.New(stubBackend{
		analysis: models.CommandAnalysis{RiskLevel: models.RiskHigh, Reason: "Deletes data"},
		result:   models.ExecutionResult{Executed: true, ExitCode: &zero, Stdout: "ok"},
	}, riskgate.WithClock(clock), riskgate.WithHook(j.Hook()))

	ctx := context.Background()
	require.NoError(t, gate.SubmitCommand("rm -rf /data"))
	_, err := gate.Analyze(ctx)
	require.NoError(t, err)

	id := gate.Session().ID
	got, err := j.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.RiskHigh, got.Analysis.RiskLevel)
	assert.False(t, got.Settled())

	clock.Advance(3 * time.Second)
	_, err = gate.ConfirmExecute(ctx, "srv-1")
	require.NoError(t, err)

	got, err = j.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.Settled())
	assert.Equal(t, "srv-1", got.ServerID)
	assert.Equal(t, riskgate.SourceManual, got.Source)
	assert.Equal(t, 3*time.Second, got.SettledAt.Sub(got.AnalyzedAt))

	entries, err := j.List(ctx, Query{})
	require.NoError(t, err)
	assert.Len(t, entries, 1, "settling must update the analyzed entry in place")
}

func TestHook_RecordsRejectedExecution(t *testing.T) {
	j := openTestJournal(t)
	gate := riskgate.New(stubBackend{
		analysis: models.CommandAnalysis{RiskLevel: models.RiskMedium},
		execErr:  errors.New("executor offline"),
	}, riskgate.WithHook(j.Hook()))

	ctx := context.Background()
	require.NoError(t, gate.SubmitCommand("systemctl restart nginx"))
	_, err := gate.Analyze(ctx)
	require.NoError(t, err)
	_, err = gate.ConfirmExecute(ctx, "")
	require.NoError(t, err)

	got, err := j.Get(ctx, gate.Session().ID)
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.False(t, got.Result.Executed)

	log := got.LogEntry()
	assert.False(t, log.Success)
	assert.Equal(t, "executor offline", log.Stderr)
	assert.Equal(t, models.RiskMedium, log.RiskLevel)
}

func TestRecord_IgnoresUnanalyzedSessions(t *testing.T) {
	j := openTestJournal(t)
	require.NoError(t, j.Record(context.Background(), riskgate.Session{ID: "x", Command: "ls"}))

	_, err := j.Get(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecord_ReanalysisMovesEntry(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	s := riskgate.Session{
		ID:         "s",
		Command:    "ls",
		Analysis:   &models.CommandAnalysis{RiskLevel: models.RiskLow},
		AnalyzedAt: base,
	}
	require.NoError(t, j.Record(ctx, s))
	s.AnalyzedAt = base.Add(time.Minute)
	require.NoError(t, j.Record(ctx, s))

	entries, err := j.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, base.Add(time.Minute), entries[0].AnalyzedAt)
}

func TestList_NewestFirstWithFilters(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	record := func(id, server string, offset time.Duration, settled bool) {
		s := riskgate.Session{
			ID:         id,
			ServerID:   server,
			Command:    "cmd " + id,
			Analysis:   &models.CommandAnalysis{RiskLevel: models.RiskLow},
			AnalyzedAt: base.Add(offset),
		}
		if settled {
			s.Result = &models.ExecutionResult{Executed: true}
			s.SettledAt = s.AnalyzedAt.Add(time.Second)
		}
		require.NoError(t, j.Record(ctx, s))
	}
	record("a", "srv-1", 0, true)
	record("b", "srv-2", time.Minute, true)
	record("c", "srv-1", 2*time.Minute, false)
	record("d", "srv-1", 3*time.Minute, true)

	ids := func(entries []Entry) []string {
		var out []string
		for _, e := range entries {
			out = append(out, e.SessionID)
		}
		return out
	}

	all, err := j.List(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "b", "a"}, ids(all))

	srv1, err := j.List(ctx, Query{ServerID: "srv-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "c", "a"}, ids(srv1))

	settled, err := j.List(ctx, Query{ServerID: "srv-1", SettledOnly: true, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, ids(settled))
}

func TestList_CancelledContext(t *testing.T) {
	j := openTestJournal(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := j.List(ctx, Query{})
	assert.ErrorIs(t, err, context.Canceled)
}
