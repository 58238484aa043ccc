// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package statusapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/console"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/store"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// streamSource is a StateSource whose view and topics the test drives.
type streamSource struct {
	mu         sync.Mutex
	view       console.View
	topics     chan store.Topic
	subscribed chan struct{}
}

func newStreamSource(v console.View) *streamSource {
	return &streamSource{
		view:       v,
		topics:     make(chan store.Topic, 4),
		subscribed: make(chan struct{}),
	}
}

func (s *streamSource) View() console.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *streamSource) Subscribe(int) (<-chan store.Topic, func()) {
	close(s.subscribed)
	return s.topics, func() {}
}

func (s *streamSource) setView(v console.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = v
}

func dialEvents(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	return ws
}

func TestEvents_InitialFrameThenOnePerTopic(t *testing.T) {
	src := newStreamSource(sampleView())
	ws := dialEvents(t, New(src, prometheus.NewRegistry(), nil))

	var frame EventFrame
	require.NoError(t, ws.ReadJSON(&frame))
	assert.Equal(t, TopicInitial, frame.Topic)
	assert.Equal(t, "edge", frame.State.Selection.ServerID)
	assert.Equal(t, "30s", frame.State.Polling.AutoRefresh)

	next := sampleView()
	next.Snapshot.Err = "Bad Gateway"
	next.Snapshot.Snapshot = nil
	src.setView(next)
	src.topics <- store.TopicSnapshot

	require.NoError(t, ws.ReadJSON(&frame))
	assert.Equal(t, string(store.TopicSnapshot), frame.Topic)
	assert.Nil(t, frame.State.Snapshot.Snapshot)
	assert.Equal(t, "Bad Gateway", frame.State.Snapshot.Error)
}

func TestEvents_ClosedSourceEndsStream(t *testing.T) {
	src := newStreamSource(console.View{})
	ws := dialEvents(t, New(src, prometheus.NewRegistry(), nil))

	var frame EventFrame
	require.NoError(t, ws.ReadJSON(&frame))
	assert.Equal(t, []models.Server{}, frame.State.Servers)

	close(src.topics)
	_, _, err := ws.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestEvents_ShutdownClosesStreams(t *testing.T) {
	src := newStreamSource(console.View{})
	s := New(src, prometheus.NewRegistry(), nil)
	ws := dialEvents(t, s)

	var frame EventFrame
	require.NoError(t, ws.ReadJSON(&frame))
	<-src.subscribed

	s.closeStreams()
	s.closeStreams()
	_, _, err := ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestEvents_PlainRequestIsRejected(t *testing.T) {
	s := New(staticSource{view: sampleView()}, prometheus.NewRegistry(), nil)
	w := serve(t, s, "/events")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
