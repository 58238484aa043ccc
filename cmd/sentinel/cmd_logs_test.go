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
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/pkg/logging"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLines(t *testing.T) {
	tests := []struct {
		name string
		prev []string
		cur  []string
		want []string
	}{
		{"first fetch", nil, []string{"a", "b"}, []string{"a", "b"}},
		{"unchanged", []string{"a", "b"}, []string{"a", "b"}, []string{}},
		{"window slid by one", []string{"a", "b", "c"}, []string{"b", "c", "d"}, []string{"d"}},
		{"appended", []string{"a"}, []string{"a", "b", "c"}, []string{"b", "c"}},
		{"no overlap", []string{"a", "b"}, []string{"x", "y"}, []string{"x", "y"}},
		{"empty current", []string{"a"}, []string{}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, newLines(tt.prev, tt.cur))
		})
	}
}

// scriptedLogs returns one window per call, repeating the last.
type scriptedLogs struct {
	mu      sync.Mutex
	windows [][]string
	errs    []error
	calls   int
}

func (s *scriptedLogs) NginxLogs(context.Context, string, int) (models.LogTail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.windows) {
		i = len(s.windows) - 1
	}
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return models.LogTail{Lines: s.windows[i]}, err
}

func (s *scriptedLogs) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// syncBuffer is a bytes.Buffer safe for one writer and one reader.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestLogFollower_PrintsOnlyNewLines(t *testing.T) {
	logs := &scriptedLogs{
		windows: [][]string{
			{"l1", "l2"},
			{"l1", "l2"},
			{"l2", "l3"},
			{"l2", "l3"},
			{"l3", "l4"},
		},
		errs: []error{nil, nil, nil, errors.New("backend down")},
	}
	var out syncBuffer
	f := logFollower{client: logs, serverID: "edge", limit: 2, out: &out, logger: logging.Discard()}
	clock := clockwork.NewFakeClock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.follow(ctx, clock, 5*time.Second) }()

	for want := 2; want <= 5; want++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(5 * time.Second)
		require.Eventually(t, func() bool { return logs.callCount() >= want }, time.Second, 5*time.Millisecond)
	}
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "l4") }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, "l1\nl2\nl3\nl4\n", out.String())
}

func TestLogFollower_OnceFailure(t *testing.T) {
	logs := &scriptedLogs{windows: [][]string{nil}, errs: []error{errors.New("no route to host")}}
	f := logFollower{client: logs, out: &bytes.Buffer{}, logger: logging.Discard()}
	assert.Error(t, f.once(context.Background()))
}
