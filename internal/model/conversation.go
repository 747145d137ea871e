// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sync"
	"time"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Visibility controls who can see a conversation.
type Visibility string

const (
	VisibilityPrivate Visibility = "PRIVATE"
	VisibilityShared  Visibility = "SHARED"
)

// Conversation is the client cache of a server-tracked thread.
type Conversation struct {
	ID          string     `json:"id"`
	PersonaID   string     `json:"persona_id"`
	OwnerUserID string     `json:"owner_user_id,omitempty"`
	Title       string     `json:"title"`
	Visibility  Visibility `json:"visibility"`
	ArchivedAt  *time.Time `json:"archived_at,omitempty"`
	Messages    []Message  `json:"messages"`
}

// IsArchived reports whether the conversation has been archived.
func (c *Conversation) IsArchived() bool {
	return c != nil && c.ArchivedAt != nil
}

// =============================================================================
// MESSAGE LIST
// =============================================================================

// MessageList keeps messages in append order and indexes them by id, so that
// reconciliation never depends on list position.
// It is safe for concurrent use.
type MessageList struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*Message
}

// NewMessageList creates an empty message list.
func NewMessageList() *MessageList {
	return &MessageList{
		byID: make(map[string]*Message),
	}
}

// Append adds a message to the end of the list. A message whose id is already
// present is ignored and false is returned.
func (l *MessageList) Append(msg Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[msg.ID]; exists {
		return false
	}
	m := msg.Clone()
	l.byID[m.ID] = &m
	l.order = append(l.order, m.ID)
	return true
}

// Get returns a copy of the message with the given id.
func (l *MessageList) Get(id string) (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	m, ok := l.byID[id]
	if !ok {
		return Message{}, false
	}
	return m.Clone(), true
}

// Update applies fn to the message with the given id in place.
func (l *MessageList) Update(id string, fn func(*Message)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.byID[id]
	if !ok {
		return false
	}
	fn(m)
	// fn must not change identity; Replace and Rekey handle that.
	m.ID = id
	return true
}

// Replace swaps the message stored under id for msg, keeping its position.
// If msg carries a different id the entry is rekeyed.
func (l *MessageList) Replace(id string, msg Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byID[id]; !ok {
		return false
	}
	if msg.ID != id {
		if _, taken := l.byID[msg.ID]; taken {
			return false
		}
	}
	m := msg.Clone()
	delete(l.byID, id)
	l.byID[m.ID] = &m
	for i, oid := range l.order {
		if oid == id {
			l.order[i] = m.ID
			break
		}
	}
	return true
}

// Rekey changes a message id from oldID to newID without moving it.
func (l *MessageList) Rekey(oldID, newID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if oldID == newID {
		_, ok := l.byID[oldID]
		return ok
	}
	m, ok := l.byID[oldID]
	if !ok {
		return false
	}
	if _, taken := l.byID[newID]; taken {
		return false
	}
	m.ID = newID
	delete(l.byID, oldID)
	l.byID[newID] = m
	for i, oid := range l.order {
		if oid == oldID {
			l.order[i] = newID
			break
		}
	}
	return true
}

// Remove deletes the message with the given id.
func (l *MessageList) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byID[id]; !ok {
		return false
	}
	delete(l.byID, id)
	for i, oid := range l.order {
		if oid == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of messages.
func (l *MessageList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Last returns a copy of the newest message.
func (l *MessageList) Last() (Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.order) == 0 {
		return Message{}, false
	}
	return l.byID[l.order[len(l.order)-1]].Clone(), true
}

// Snapshot returns copies of all messages in append order.
func (l *MessageList) Snapshot() []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Message, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id].Clone())
	}
	return out
}

// Reset replaces the list contents. Duplicate ids after the first are dropped.
func (l *MessageList) Reset(msgs []Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.order = make([]string, 0, len(msgs))
	l.byID = make(map[string]*Message, len(msgs))
	for _, msg := range msgs {
		if _, exists := l.byID[msg.ID]; exists {
			continue
		}
		m := msg.Clone()
		l.byID[m.ID] = &m
		l.order = append(l.order, m.ID)
	}
}

// Clear removes all messages.
func (l *MessageList) Clear() {
	l.Reset(nil)
}
