// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package models

// Chat modes reported by GET /chat/mode.
const (
	ChatModeOpenAI  = "OPENAI"
	ChatModeLocal   = "LOCAL"
	ChatModeUnknown = "UNKNOWN"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message              string  `json:"message"`
	IncludeSystemContext bool    `json:"includeSystemContext"`
	ServerID             *string `json:"serverId"`
}

// ChatReply is the response of POST /chat.
type ChatReply struct {
	Response string `json:"response"`
	Mode     string `json:"mode,omitempty"`
}

// ChatModeReply is the response of GET /chat/mode.
type ChatModeReply struct {
	Mode string `json:"mode"`
}
