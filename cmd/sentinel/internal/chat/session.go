// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chat holds the operator's Q&A transcript with the backend
// assistant and the assistant's reported mode.
//
// Answers are generated remotely; this package only keeps the transcript
// consistent. Every failure becomes an assistant message, so a send never
// leaves the transcript without a reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/api"
	"github.com/AleutianAI/SentinelOps/cmd/sentinel/internal/models"
	"github.com/AleutianAI/SentinelOps/pkg/logging"
)

// NoResponseText is shown when the backend answered without content.
const NoResponseText = "No response received."

var (
	// ErrBusy is returned while a send is in flight.
	ErrBusy = errors.New("chat: a message is already being answered")

	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("chat: empty message")
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript line.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Backend is the chat collaborator. *api.Client satisfies it.
type Backend interface {
	Chat(ctx context.Context, req models.ChatRequest) (models.ChatReply, error)
	ChatMode(ctx context.Context) (string, error)
}

// State is a published view of the session.
type State struct {
	Messages []Message
	Mode     string
	Loading  bool
}

// Session is one chat transcript.
type Session struct {
	backend Backend
	logger  *logging.Logger
	notify  func()

	mu    sync.Mutex
	state State
}

// NewSession creates an empty transcript in mode UNKNOWN. notify, when
// non-nil, is called after every state change.
func NewSession(backend Backend, logger *logging.Logger, notify func()) *Session {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Session{
		backend: backend,
		logger:  logger,
		notify:  notify,
		state:   State{Messages: []Message{}, Mode: models.ChatModeUnknown},
	}
}

// State returns the current transcript. The Messages slice is never
// mutated after publication.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode returns the last known assistant mode.
func (s *Session) Mode() string {
	return s.State().Mode
}

// RefreshMode asks the backend which mode it runs in. Any failure, and
// any blank answer, reports UNKNOWN.
func (s *Session) RefreshMode(ctx context.Context) string {
	mode, err := s.backend.ChatMode(ctx)
	if err != nil {
		s.logger.Debug("chat mode unavailable", "error", api.Message(err))
		mode = models.ChatModeUnknown
	}
	if strings.TrimSpace(mode) == "" {
		mode = models.ChatModeUnknown
	}
	s.update(func(st *State) { st.Mode = mode })
	return mode
}

// Send appends the operator's message, asks the backend, and appends the
// reply.
//
// # Description
//
// Reply content is chosen as follows:
//   - success: the response text, or NoResponseText when blank
//   - status failure: the backend's error message, else the status text
//   - decode failure of a 2xx body: NoResponseText
//   - transport failure: "Error: <msg>. Is the backend running?"
//
// A mode reported in a successful reply updates the session mode.
//
// # Outputs
//
//   - Message: the assistant reply that was appended.
//   - error: ErrEmptyMessage or ErrBusy; backend failures are not errors.
func (s *Session) Send(ctx context.Context, text string, includeContext bool, serverID string) (Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.state.Loading {
		s.mu.Unlock()
		return Message{}, ErrBusy
	}
	s.state = State{
		Messages: appendMessage(s.state.Messages, Message{Role: RoleUser, Content: text}),
		Mode:     s.state.Mode,
		Loading:  true,
	}
	s.mu.Unlock()
	s.changed()

	reply, err := s.backend.Chat(ctx, models.ChatRequest{
		Message:              text,
		IncludeSystemContext: includeContext,
		ServerID:             models.OptionalID(serverID),
	})
	answer := Message{Role: RoleAssistant, Content: replyText(reply, err)}
	if err != nil {
		s.logger.Warn("chat request failed",
			"error_kind", string(api.KindOf(err)),
			"error", api.Message(err),
		)
	}

	s.update(func(st *State) {
		st.Messages = appendMessage(st.Messages, answer)
		st.Loading = false
		if err == nil && reply.Mode != "" {
			st.Mode = reply.Mode
		}
	})
	return answer, nil
}

// Clear empties the transcript and keeps the mode.
func (s *Session) Clear() {
	s.update(func(st *State) { st.Messages = []Message{} })
}

func replyText(reply models.ChatReply, err error) string {
	if err == nil {
		if strings.TrimSpace(reply.Response) == "" {
			return NoResponseText
		}
		return reply.Response
	}
	switch api.KindOf(err) {
	case api.KindTransport, "":
		return fmt.Sprintf("Error: %s. Is the backend running?", api.Message(err))
	case api.KindDecode:
		return NoResponseText
	default:
		if msg := strings.TrimSpace(api.Message(err)); msg != "" {
			return msg
		}
		return "Request failed"
	}
}

// appendMessage returns a new slice so published transcripts never share
// a backing array with later ones.
func appendMessage(msgs []Message, m Message) []Message {
	out := make([]Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, m)
}

func (s *Session) update(fn func(*State)) {
	s.mu.Lock()
	next := s.state
	fn(&next)
	s.state = next
	s.mu.Unlock()
	s.changed()
}

func (s *Session) changed() {
	if s.notify != nil {
		s.notify()
	}
}
