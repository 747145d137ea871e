// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// AuthReason classifies an AuthError.
type AuthReason string

const (
	ReasonNoRefreshToken  AuthReason = "no refresh token"
	ReasonRefreshRejected AuthReason = "refresh rejected"
	ReasonLoginRejected   AuthReason = "login rejected"
	ReasonInvalidResponse AuthReason = "invalid auth response"
)

// AuthError is a terminal authentication failure. When it comes out of Do the
// session has already been cleared.
type AuthError struct {
	Reason AuthReason
	Status int // HTTP status from the auth endpoint, 0 if none
	Err    error
}

func (e *AuthError) Error() string {
	msg := "authentication failed: " + string(e.Reason)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is or wraps an *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

var (
	// ErrRefreshUnavailable means the refresh endpoint could not be reached.
	// Unlike AuthError it does not end the session.
	ErrRefreshUnavailable = errors.New("refresh endpoint unavailable")

	// ErrNotAuthenticated is returned by operations that need a stored session.
	ErrNotAuthenticated = errors.New("not authenticated")
)
