// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/jeranaias/personachat/internal/api"
	"github.com/jeranaias/personachat/internal/config"
	"github.com/jeranaias/personachat/internal/conversation"
	"github.com/jeranaias/personachat/internal/kvstore"
	"github.com/jeranaias/personachat/internal/session"
	"github.com/jeranaias/personachat/internal/upload"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitNotFoundError = 7
	ExitTimeoutError  = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError is a failed command with context.
type CommandError struct {
	Command string // e.g. "chat"
	Action  string // e.g. "restore"
	Reason  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s failed: %s: %v", e.Command, e.Action, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Command, e.Action, e.Reason)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ValidationError is bad user input on the command line.
type ValidationError struct {
	Field   string
	Value   string
	Reason  string
	Example string // optional
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

// NewCommandError creates a *CommandError.
func NewCommandError(command, action, reason string, err error) error {
	return &CommandError{Command: command, Action: action, Reason: reason, Err: err}
}

// ErrMissingArgument reports a required argument that was not given.
func ErrMissingArgument(name, usage string) error {
	return &ValidationError{Field: name, Reason: "required argument missing", Example: usage}
}

// ErrUnknownCommand reports an unrecognized command or subcommand.
func ErrUnknownCommand(name string) error {
	return &ValidationError{Field: "command", Value: name, Reason: "unknown command", Example: "personachat help"}
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err to w, as JSON when jsonMode is set.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		displayErrorJSON(w, err)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
	if session.IsAuthError(err) || errors.Is(err, session.ErrNotAuthenticated) {
		fmt.Fprintln(w, DimStyle.Render("Run 'personachat login' to sign in."))
	}
}

func displayErrorJSON(w io.Writer, err error) {
	out := map[string]interface{}{
		"success":    false,
		"error":      err.Error(),
		"error_type": errorType(err),
		"exit_code":  GetExitCode(err),
	}
	if status := api.StatusOf(err); status != 0 {
		out["status"] = status
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

func errorType(err error) string {
	var (
		ve  *ValidationError
		ce  *CommandError
		ae  *session.AuthError
		re  *api.RequestError
		uve *upload.ValidationError
	)
	switch {
	case errors.As(err, &ve):
		return "validation_error"
	case errors.As(err, &ae):
		return "auth_error"
	case errors.As(err, &uve):
		return "upload_rejected"
	case errors.As(err, &re):
		return "request_error"
	case errors.As(err, &ce):
		return "command_error"
	default:
		return "generic_error"
	}
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode maps err to a process exit code by type, never by message text.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		ve   *ValidationError
		uve  *upload.ValidationError
		cfgs config.ValidateErrors
		rt   *conversation.RestoreTimeout
		re   *api.RequestError
		ne   net.Error
	)
	switch {
	case errors.As(err, &ve), errors.As(err, &uve):
		return ExitUsageError
	case errors.As(err, &cfgs), errors.Is(err, kvstore.ErrSealed), errors.Is(err, kvstore.ErrBadPassphrase):
		return ExitConfigError
	case session.IsAuthError(err), errors.Is(err, session.ErrNotAuthenticated), errors.Is(err, ErrSessionExpired):
		return ExitAuthError
	case errors.As(err, &rt), errors.Is(err, context.DeadlineExceeded):
		return ExitTimeoutError
	case errors.As(err, &re):
		switch re.Status {
		case http.StatusNotFound:
			return ExitNotFoundError
		case http.StatusUnauthorized, http.StatusForbidden:
			return ExitAuthError
		}
		return ExitGeneralError
	case errors.Is(err, session.ErrRefreshUnavailable), errors.As(err, &ne):
		return ExitNetworkError
	default:
		return ExitGeneralError
	}
}
