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
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// TopicInitial tags the first frame of every stream.
	TopicInitial = "state"

	eventBuffer  = 32
	writeWait    = 5 * time.Second
	pingInterval = 30 * time.Second
)

// EventFrame is one message of GET /events.
type EventFrame struct {
	Topic string        `json:"topic"`
	State StateResponse `json:"state"`
}

// handleEvents upgrades to a websocket and pushes the full state after
// every change topic. Client messages are read and ignored; the stream is
// read-only like the rest of the API.
func (s *Server) handleEvents(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("event stream upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	topics, unsubscribe := s.source.Subscribe(eventBuffer)
	defer unsubscribe()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	s.logger.Debug("event stream connected", "remote", c.ClientIP())
	if err := s.writeFrame(ws, TopicInitial); err != nil {
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			s.logger.Debug("event stream disconnected", "remote", c.ClientIP())
			return
		case <-s.closing:
			s.writeClose(ws, "server shutting down")
			return
		case topic, ok := <-topics:
			if !ok {
				s.writeClose(ws, "console closed")
				return
			}
			if err := s.writeFrame(ws, string(topic)); err != nil {
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeFrame(ws *websocket.Conn, topic string) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	err := ws.WriteJSON(EventFrame{Topic: topic, State: buildState(s.source.View())})
	if err != nil {
		s.logger.Warn("event stream write failed", "topic", topic, "error", err)
	}
	return err
}

func (s *Server) writeClose(ws *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (s *Server) closeStreams() {
	s.closeOnce.Do(func() { close(s.closing) })
}
