// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/api"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackend(t *testing.T, handler http.HandlerFunc) *api.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return api.NewClient(srv.URL, api.Options{})
}

func TestSend_AppendsUserAndAssistant(t *testing.T) {
	var body map[string]any
	client := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = io.WriteString(w, `{"response":"Disk on / is at 91%.","mode":"LOCAL"}`)
	})

	var notified atomic.Int32
	s := NewSession(client, nil, func() { notified.Add(1) })
	assert.Equal(t, models.ChatModeUnknown, s.Mode())

	reply, err := s.Send(context.Background(), "  how full is the disk?  ", true, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, Message{Role: RoleAssistant, Content: "Disk on / is at 91%."}, reply)

	st := s.State()
	assert.False(t, st.Loading)
	assert.Equal(t, "LOCAL", st.Mode)
	assert.Equal(t, []Message{
		{Role: RoleUser, Content: "how full is the disk?"},
		{Role: RoleAssistant, Content: "Disk on / is at 91%."},
	}, st.Messages)

	assert.Equal(t, "how full is the disk?", body["message"])
	assert.Equal(t, true, body["includeSystemContext"])
	assert.Equal(t, "srv-1", body["serverId"])
	assert.GreaterOrEqual(t, notified.Load(), int32(2))
}

func TestSend_NoServerSendsNull(t *testing.T) {
	var raw string
	client := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		raw = string(b)
		_, _ = io.WriteString(w, `{"response":"ok"}`)
	})
	s := NewSession(client, nil, nil)
	_, err := s.Send(context.Background(), "hi", false, "")
	require.NoError(t, err)
	assert.Contains(t, raw, `"serverId":null`)
	assert.Equal(t, models.ChatModeUnknown, s.Mode(), "a reply without mode keeps the old mode")
}

func TestSend_FailureTexts(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "status with backend message",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = io.WriteString(w, `{"error":"LLM quota exceeded","mode":"OPENAI"}`)
			},
			want: "LLM quota exceeded",
		},
		{
			name: "status without body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			want: "Internal Server Error",
		},
		{
			name: "empty success",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			want: NoResponseText,
		},
		{
			name: "html success",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, "<html>proxy</html>")
			},
			want: NoResponseText,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(newBackend(t, tt.handler), nil, nil)
			reply, err := s.Send(context.Background(), "status?", false, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, reply.Content)
			assert.Len(t, s.State().Messages, 2)
			assert.Equal(t, models.ChatModeUnknown, s.Mode())
		})
	}
}

func TestSend_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	s := NewSession(api.NewClient(srv.URL, api.Options{}), nil, nil)

	reply, err := s.Send(context.Background(), "hello", false, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(reply.Content, "Error: "), reply.Content)
	assert.True(t, strings.HasSuffix(reply.Content, ". Is the backend running?"), reply.Content)
	assert.False(t, s.State().Loading)
}

func TestSend_RejectsBlankAndBusy(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	client := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		<-release
		_, _ = io.WriteString(w, `{"response":"done"}`)
	})
	s := NewSession(client, nil, nil)

	_, err := s.Send(context.Background(), "   ", false, "")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Send(context.Background(), "first", false, "")
	}()
	<-entered
	assert.True(t, s.State().Loading)

	_, err = s.Send(context.Background(), "second", false, "")
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	<-done
	assert.Len(t, s.State().Messages, 2)
}

func TestPublishedTranscriptIsNotMutated(t *testing.T) {
	client := newBackend(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"response":"pong"}`)
	})
	s := NewSession(client, nil, nil)
	_, err := s.Send(context.Background(), "ping", false, "")
	require.NoError(t, err)

	before := s.State().Messages
	_, err = s.Send(context.Background(), "ping again", false, "")
	require.NoError(t, err)

	assert.Len(t, before, 2)
	assert.Len(t, s.State().Messages, 4)

	s.Clear()
	assert.Empty(t, s.State().Messages)
	assert.Len(t, before, 2)
}

func TestRefreshMode(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	client := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/mode", r.URL.Path)
		w.WriteHeader(int(status.Load()))
		if status.Load() == http.StatusOK {
			_, _ = io.WriteString(w, `{"mode":"OPENAI"}`)
		}
	})
	s := NewSession(client, nil, nil)

	assert.Equal(t, "OPENAI", s.RefreshMode(context.Background()))
	assert.Equal(t, "OPENAI", s.Mode())

	status.Store(http.StatusBadGateway)
	assert.Equal(t, models.ChatModeUnknown, s.RefreshMode(context.Background()))
	assert.Equal(t, models.ChatModeUnknown, s.Mode())
}
