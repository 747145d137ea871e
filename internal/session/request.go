// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
)

// =============================================================================
// REQUEST
// =============================================================================

// Request describes a backend call. The body is held as bytes so the call can
// be rebuilt for the retry after a refresh.
type Request struct {
	Method      string
	Path        string // relative to the API base URL, may include a query
	Body        []byte
	ContentType string
	Header      http.Header
}

// NewRequest creates a bodiless request.
func NewRequest(method, path string) *Request {
	return &Request{Method: method, Path: path, Header: make(http.Header)}
}

// NewJSONRequest creates a request with v encoded as a JSON body.
// A nil v produces no body.
func NewJSONRequest(method, path string, v any) (*Request, error) {
	r := NewRequest(method, path)
	if v == nil {
		return r, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	r.Body = data
	r.ContentType = "application/json"
	return r, nil
}

// =============================================================================
// RESPONSE INSPECTION
// =============================================================================

// MaxErrorBodySize bounds how much of an error body is read to classify it.
const MaxErrorBodySize = 64 * 1024

// tokenErrorPattern matches server messages about a bad bearer token, which
// some backends report as a 500 instead of a 401.
var tokenErrorPattern = regexp.MustCompile(
	`(?i)(invalid|expired|malformed).{0,20}(token|jwt)|(token|jwt).{0,20}(invalid|expired|malformed)`,
)

// errorMessage pulls a message out of the common JSON error shapes, falling
// back to the raw body.
func errorMessage(body []byte) string {
	var shaped struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &shaped); err != nil {
		return string(body)
	}
	if len(shaped.Error) > 0 {
		var s string
		if json.Unmarshal(shaped.Error, &s) == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(shaped.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}
	if shaped.Message != "" {
		return shaped.Message
	}
	return string(body)
}

// needsRefresh reports whether resp signals an unusable access token. For a
// 500 the body is read and then restored so callers can still consume it.
func needsRefresh(resp *http.Response) (bool, error) {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return true, nil
	case http.StatusInternalServerError:
		body, err := io.ReadAll(io.LimitReader(resp.Body, MaxErrorBodySize))
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(body))
		if err != nil {
			return false, fmt.Errorf("failed to read response: %w", err)
		}
		return tokenErrorPattern.MatchString(errorMessage(body)), nil
	default:
		return false, nil
	}
}

// discard drains and closes a response body so the connection can be reused.
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxErrorBodySize))
	resp.Body.Close()
}
