// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error variables for backend responses.
var (
	// ErrInvalidResponse indicates a response body that failed schema validation.
	ErrInvalidResponse = errors.New("invalid response from backend")

	// ErrResponseTooLarge indicates a body above MaxResponseSize.
	ErrResponseTooLarge = errors.New("response too large")
)

// RequestError is a failed backend call after any refresh-and-retry.
type RequestError struct {
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("request failed [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	if e.Message == "" {
		return fmt.Sprintf("request failed (HTTP %d)", e.Status)
	}
	return fmt.Sprintf("request failed (HTTP %d): %s", e.Status, e.Message)
}

// NotFound reports whether the backend answered 404.
func (e *RequestError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var re *RequestError
	if errors.As(err, &re) {
		return re.Status
	}
	return 0
}

// errorBody covers the error shapes the backend emits:
// {"error":"..."}, {"error":{"code","message"}} and {"code","message"}.
type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

// newRequestError converts a non-2xx response body into a RequestError.
func newRequestError(status int, body []byte) *RequestError {
	re := &RequestError{Status: status}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		re.Message = strings.TrimSpace(string(body))
	} else {
		re.Code, re.Message = eb.Code, eb.Message
	}

	if len(eb.Error) > 0 {
		var s string
		if json.Unmarshal(eb.Error, &s) == nil {
			re.Message = s
		} else {
			var nested struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if json.Unmarshal(eb.Error, &nested) == nil {
				if nested.Code != "" {
					re.Code = nested.Code
				}
				if nested.Message != "" {
					re.Message = nested.Message
				}
			}
		}
	}
	if re.Message == "" {
		re.Message = http.StatusText(status)
	}
	return re
}
