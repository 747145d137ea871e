// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// conversationIDPattern is the accepted shape of a route-carried id.
var conversationIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ValidConversationID reports whether id has an acceptable shape.
func ValidConversationID(id string) bool {
	return conversationIDPattern.MatchString(id)
}

// =============================================================================
// ROUTE PARAMETERS
// =============================================================================

// Params are the chat screen's route parameters. Draft and ConversationID are
// mutually exclusive; Draft wins when both are present.
type Params struct {
	PersonaID      string
	ConversationID string
	Draft          string
}

// String renders the params as a path with a query, for display and history.
func (p Params) String() string {
	q := url.Values{}
	if p.ConversationID != "" {
		q.Set("conversationId", p.ConversationID)
	}
	if p.Draft != "" {
		q.Set("draft", p.Draft)
	}
	s := "/chat/" + url.PathEscape(p.PersonaID)
	if len(q) > 0 {
		s += "?" + q.Encode()
	}
	return s
}

// ParseParams reads params from a path produced by String.
func ParseParams(s string) (Params, error) {
	u, err := url.Parse(s)
	if err != nil {
		return Params{}, err
	}
	persona, err := url.PathUnescape(strings.TrimPrefix(u.EscapedPath(), "/chat/"))
	if err != nil {
		return Params{}, err
	}
	q := u.Query()
	return Params{
		PersonaID:      persona,
		ConversationID: q.Get("conversationId"),
		Draft:          q.Get("draft"),
	}, nil
}

// =============================================================================
// ROUTE
// =============================================================================

// Route is the navigation surface hosting a chat screen.
type Route interface {
	// Params returns the current route parameters.
	Params() Params
	// Replace swaps the current entry without adding history.
	Replace(p Params)
	// Push navigates to p, adding a history entry.
	Push(p Params)
}

// MemoryRoute is an in-memory Route with a history stack. It is safe for
// concurrent use.
type MemoryRoute struct {
	mu      sync.Mutex
	history []Params
}

// NewMemoryRoute creates a route positioned at p.
func NewMemoryRoute(p Params) *MemoryRoute {
	return &MemoryRoute{history: []Params{p}}
}

// Params implements Route.
func (r *MemoryRoute) Params() Params {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history[len(r.history)-1]
}

// Replace implements Route.
func (r *MemoryRoute) Replace(p Params) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[len(r.history)-1] = p
}

// Push implements Route.
func (r *MemoryRoute) Push(p Params) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, p)
}

// Back pops the current entry. It reports false when there is nowhere to go.
func (r *MemoryRoute) Back() (Params, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) < 2 {
		return r.history[0], false
	}
	r.history = r.history[:len(r.history)-1]
	return r.history[len(r.history)-1], true
}

// History returns the entries from oldest to current.
func (r *MemoryRoute) History() []Params {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Params(nil), r.history...)
}

// Len returns the number of history entries.
func (r *MemoryRoute) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history)
}
