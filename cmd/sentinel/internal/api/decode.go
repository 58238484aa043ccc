// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
)

// Fallback messages used when neither the payload nor the status line
// carries anything readable.
const (
	msgInvalidResponse = "Invalid response"
	msgRequestFailed   = "Request failed"
)

// Response is a fully read transport response.
type Response struct {
	StatusCode int
	StatusText string
	Body       []byte
}

// OK reports a 2xx status.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// NewResponse reads and closes the body of an *http.Response.
//
// A body read failure is reported as a transport error; a partial body is
// never decoded.
func NewResponse(resp *http.Response) (Response, error) {
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return Response{}, transportError(err)
	}
	return Response{
		StatusCode: resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Body:       buf.Bytes(),
	}, nil
}

// Payload is a decoded JSON object.
type Payload map[string]any

// ErrorText returns the payload's "error" field when it is a non-empty
// string.
func (p Payload) ErrorText() (string, bool) {
	v, ok := p["error"].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// SafeDecode turns a response into a JSON object without ever failing.
//
// # Description
//
// An empty or whitespace-only body decodes to an empty Payload. A body that
// is not a JSON object decodes to {"error": statusText} (or "Invalid
// response" when there is no status text). Anything else is returned as
// parsed. Consumers can therefore read ErrorText uniformly, without a
// second path for decode failures.
func SafeDecode(resp Response) Payload {
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return Payload{}
	}
	var p Payload
	if err := json.Unmarshal(resp.Body, &p); err != nil || p == nil {
		return Payload{"error": orDefault(resp.StatusText, msgInvalidResponse)}
	}
	return p
}

// Decode converts a response into T following the same rules as SafeDecode.
//
// # Outputs
//
//   - Non-2xx status: *Error of KindStatus whose message is the payload's
//     error field, else the status text, else "Request failed".
//   - Empty 2xx body: the zero value of T and no error.
//   - Unparseable 2xx body: *Error of KindDecode.
func Decode[T any](resp Response) (T, error) {
	var out T
	if !resp.OK() {
		msg, ok := SafeDecode(resp).ErrorText()
		if !ok {
			msg = orDefault(resp.StatusText, msgRequestFailed)
		}
		return out, &Error{Kind: KindStatus, Status: resp.StatusCode, Message: msg}
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		var zero T
		return zero, &Error{
			Kind:    KindDecode,
			Status:  resp.StatusCode,
			Message: orDefault(resp.StatusText, msgInvalidResponse),
			Err:     err,
		}
	}
	return out, nil
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
