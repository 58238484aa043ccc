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
	"errors"
	"fmt"
)

// ErrorKind classifies a failed backend call.
type ErrorKind string

const (
	// KindTransport means no response was received (refused, timeout,
	// cancelled, rate limiter aborted).
	KindTransport ErrorKind = "transport"

	// KindStatus means the backend answered with a non-2xx status.
	KindStatus ErrorKind = "status"

	// KindDecode means a 2xx body could not be parsed.
	KindDecode ErrorKind = "decode"
)

// Error is returned by every Client method on failure.
//
// Message is always operator-presentable; boundary code renders it as-is.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message extracts the operator-facing text of any error returned by this
// package, falling back to err.Error() for foreign errors.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// KindOf returns the kind of an api error, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

func transportError(err error) *Error {
	return &Error{Kind: KindTransport, Message: err.Error(), Err: err}
}

func requestError(op string, err error) *Error {
	return &Error{Kind: KindTransport, Message: fmt.Sprintf("%s: %v", op, err), Err: err}
}
