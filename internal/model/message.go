// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// SENDER TYPE
// =============================================================================

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// String returns the string representation of the sender.
func (s Sender) String() string {
	return string(s)
}

// DisplayName returns a human-readable name for the sender.
func (s Sender) DisplayName() string {
	switch s {
	case SenderUser:
		return "You"
	case SenderAssistant:
		return "Assistant"
	default:
		return string(s)
	}
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

// Attachment references an uploaded file carried by a message.
type Attachment struct {
	FileID    string `json:"file_id"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// TempIDPrefix marks client-assigned ids that have not been confirmed by the server.
const TempIDPrefix = "tmp_"

// Message represents a single entry in a chat screen.
type Message struct {
	// Identity
	ID          string    `json:"id"`
	Sender      Sender    `json:"sender"`
	OwnerUserID string    `json:"owner_user_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	// Content
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Edited      bool         `json:"edited"`
	Reactions   []Reaction   `json:"reactions,omitempty"`

	// Transient UI state (not sent to the server)
	IsTyping bool `json:"-"`
	IsError  bool `json:"-"`
}

// NewTempID returns a fresh client-side correlation id.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTemporaryID reports whether id was assigned by the client.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// NewUserMessage creates an optimistic user message with a temporary id.
func NewUserMessage(text, ownerUserID string, attachments ...Attachment) Message {
	return Message{
		ID:          NewTempID(),
		Sender:      SenderUser,
		OwnerUserID: ownerUserID,
		Text:        text,
		Attachments: attachments,
		CreatedAt:   time.Now(),
	}
}

// NewTypingPlaceholder creates the assistant bubble shown while a reply is pending.
func NewTypingPlaceholder() Message {
	return Message{
		ID:        NewTempID(),
		Sender:    SenderAssistant,
		IsTyping:  true,
		CreatedAt: time.Now(),
	}
}

// NewAssistantMessage creates a confirmed assistant message.
func NewAssistantMessage(id, text string) Message {
	return Message{
		ID:        id,
		Sender:    SenderAssistant,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// NewErrorMessage creates the synthetic assistant bubble shown when a send fails.
// It keeps a temporary id since the server never saw it.
func NewErrorMessage(text string) Message {
	return Message{
		ID:        NewTempID(),
		Sender:    SenderAssistant,
		Text:      text,
		IsError:   true,
		CreatedAt: time.Now(),
	}
}

// IsTemporary reports whether the message still carries a client id.
func (m Message) IsTemporary() bool {
	return IsTemporaryID(m.ID)
}

// Clone returns a deep copy so callers can hand snapshots to other goroutines.
func (m Message) Clone() Message {
	c := m
	if m.Attachments != nil {
		c.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Reactions != nil {
		c.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	return c
}

// Preview returns a truncated preview of the message text.
// Uses rune-based truncation to handle Unicode correctly.
func (m Message) Preview(maxLen int) string {
	runes := []rune(m.Text)
	if len(runes) <= maxLen {
		return m.Text
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// =============================================================================
// TEXT HELPERS
// =============================================================================

// NormalizeText returns s in Unicode NFC form so that visually identical input
// produces identical bytes on the wire.
func NormalizeText(s string) string {
	return norm.NFC.String(s)
}

// IsBlank reports whether s is empty after trimming whitespace.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
