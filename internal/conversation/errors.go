// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error variables for refused operations. None of them touch state or the
// network.
var (
	ErrClosed           = errors.New("chat screen closed")
	ErrNoPersona        = errors.New("no persona selected")
	ErrEmptyMessage     = errors.New("message is empty")
	ErrBusy             = errors.New("another operation is in progress")
	ErrArchived         = errors.New("conversation is archived")
	ErrNotReady         = errors.New("conversation is not loaded")
	ErrNotRestoreFailed = errors.New("nothing to retry")
	ErrNotArchived      = errors.New("conversation is not archived")
	ErrMessageNotFound  = errors.New("message not found")
	ErrNotEditable      = errors.New("message cannot be edited")
	ErrPersonaMismatch  = errors.New("conversation belongs to another persona")
	ErrNoUploader       = errors.New("attachments are not supported")

	// ErrSuperseded is returned when the screen navigated elsewhere while a
	// call was in flight. The result was dropped.
	ErrSuperseded = errors.New("screen moved to another conversation")
)

// RestoreTimeout is reported when a restore neither succeeds nor fails within
// the watchdog window.
type RestoreTimeout struct {
	ConversationID string
	After          time.Duration
}

// Error implements the error interface.
func (e *RestoreTimeout) Error() string {
	return fmt.Sprintf("loading conversation %s timed out after %s", e.ConversationID, e.After)
}

// Unwrap lets errors.Is match context.DeadlineExceeded.
func (e *RestoreTimeout) Unwrap() error {
	return context.DeadlineExceeded
}

// EditFailure is the notice shown when an edit is rejected by the backend.
// The message list is left as it was.
type EditFailure struct {
	MessageID string
	Err       error
}

// Error implements the error interface.
func (e *EditFailure) Error() string {
	return fmt.Sprintf("edit of %s failed: %v", e.MessageID, e.Err)
}

// Unwrap returns the underlying error.
func (e *EditFailure) Unwrap() error {
	return e.Err
}
