// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"strings"
	"time"

	"github.com/jeranaias/personachat/internal/model"
)

// =============================================================================
// CHAT
// =============================================================================

// ChatRequest is the body of POST /personas/{id}/chat.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
	FileID         string `json:"fileId,omitempty"`
}

// ChatReply is the canonical chat response.
type ChatReply struct {
	Reply              string
	ConversationID     string
	AssistantMessageID string // empty when the backend assigned none
	UserMessageID      string // empty when the backend assigned none
	SuggestedTitle     string
}

type chatWire struct {
	Reply              string `json:"reply" validate:"required"`
	ConversationID     string `json:"conversationId" validate:"required"`
	MessageID          string `json:"messageId"` // legacy name for assistantMessageId
	AssistantMessageID string `json:"assistantMessageId"`
	UserMessageID      string `json:"userMessageId"`
	SuggestedTitle     string `json:"suggestedTitle"`
}

func (w chatWire) canonical() *ChatReply {
	return &ChatReply{
		Reply:              w.Reply,
		ConversationID:     w.ConversationID,
		AssistantMessageID: firstNonEmpty(w.AssistantMessageID, w.MessageID),
		UserMessageID:      w.UserMessageID,
		SuggestedTitle:     strings.TrimSpace(w.SuggestedTitle),
	}
}

// =============================================================================
// EDIT
// =============================================================================

type editRequest struct {
	Content string `json:"content"`
}

// EditResult is the canonical edit response. AssistantMessageContent is the
// follow-up reply, when the backend produced one.
type EditResult struct {
	AssistantMessageID      string
	AssistantMessageContent string
	ConversationID          string
}

// HasFollowUp reports whether the edit produced a new assistant reply.
func (r *EditResult) HasFollowUp() bool {
	return r.AssistantMessageID != "" && r.AssistantMessageContent != ""
}

type editWire struct {
	AssistantMessageID      string `json:"assistantMessageId" validate:"required_without=MessageID"`
	MessageID               string `json:"messageId"`
	AssistantMessageContent string `json:"assistantMessageContent"`
	ConversationID          string `json:"conversationId" validate:"required"`
}

func (w editWire) canonical() *EditResult {
	return &EditResult{
		AssistantMessageID:      firstNonEmpty(w.AssistantMessageID, w.MessageID),
		AssistantMessageContent: w.AssistantMessageContent,
		ConversationID:          w.ConversationID,
	}
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

type attachmentWire struct {
	FileID    string `json:"fileId" validate:"required"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes" validate:"gte=0"`
}

type reactionWire struct {
	Type   string `json:"type" validate:"required,oneof=LIKE DISLIKE"`
	UserID string `json:"userId" validate:"required"`
}

type messageWire struct {
	ID          string           `json:"id" validate:"required"`
	Role        string           `json:"role" validate:"required,oneof=USER ASSISTANT"`
	Content     string           `json:"content"`
	Edited      bool             `json:"edited"`
	UserID      string           `json:"userId"`
	CreatedAt   time.Time        `json:"createdAt"`
	Reactions   []reactionWire   `json:"reactions" validate:"dive"`
	Attachments []attachmentWire `json:"attachments" validate:"dive"`
}

type conversationWire struct {
	ID         string        `json:"id" validate:"required"`
	PersonaID  string        `json:"personaId" validate:"required"`
	UserID     string        `json:"userId"`
	Title      string        `json:"title"`
	Visibility string        `json:"visibility" validate:"omitempty,oneof=PRIVATE SHARED"`
	ArchivedAt *time.Time    `json:"archivedAt"`
	Messages   []messageWire `json:"messages" validate:"dive"`
}

// normalize upper-cases enum fields so older lowercase payloads validate.
func (w *conversationWire) normalize() {
	w.Visibility = strings.ToUpper(w.Visibility)
	for i := range w.Messages {
		w.Messages[i].Role = strings.ToUpper(w.Messages[i].Role)
		for j := range w.Messages[i].Reactions {
			w.Messages[i].Reactions[j].Type = strings.ToUpper(w.Messages[i].Reactions[j].Type)
		}
	}
}

func (w conversationWire) toModel() *model.Conversation {
	conv := &model.Conversation{
		ID:          w.ID,
		PersonaID:   w.PersonaID,
		OwnerUserID: w.UserID,
		Title:       w.Title,
		Visibility:  model.Visibility(w.Visibility),
		ArchivedAt:  w.ArchivedAt,
		Messages:    make([]model.Message, 0, len(w.Messages)),
	}
	if conv.Visibility == "" {
		conv.Visibility = model.VisibilityPrivate
	}
	for _, m := range w.Messages {
		conv.Messages = append(conv.Messages, m.toModel())
	}
	return conv
}

func (w messageWire) toModel() model.Message {
	msg := model.Message{
		ID:          w.ID,
		Sender:      model.SenderAssistant,
		OwnerUserID: w.UserID,
		CreatedAt:   w.CreatedAt,
		Text:        w.Content,
		Edited:      w.Edited,
	}
	if w.Role == "USER" {
		msg.Sender = model.SenderUser
	}
	for _, r := range w.Reactions {
		msg.Reactions = append(msg.Reactions, model.Reaction{Type: model.ReactionType(r.Type), UserID: r.UserID})
	}
	for _, a := range w.Attachments {
		msg.Attachments = append(msg.Attachments, model.Attachment{
			FileID:    a.FileID,
			Filename:  a.Filename,
			MimeType:  a.MimeType,
			SizeBytes: a.SizeBytes,
		})
	}
	return msg
}

// ConversationUpdate is the body of PATCH /conversations/{id}. Only the set
// fields are sent.
type ConversationUpdate struct {
	Unarchive bool
	Title     *string
}

func (u ConversationUpdate) body() map[string]any {
	out := make(map[string]any, 2)
	if u.Unarchive {
		out["archivedAt"] = nil
	}
	if u.Title != nil {
		out["title"] = *u.Title
	}
	return out
}

// =============================================================================
// FILES
// =============================================================================

// FileUploadRequest is the body of POST /conversations/{id}/files.
type FileUploadRequest struct {
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}

// FileUpload is the presigned upload target for a file.
type FileUpload struct {
	PresignedURL string `json:"presignedUrl" validate:"required,url"`
	FileID       string `json:"fileId" validate:"required"`
}

// =============================================================================
// REACTIONS
// =============================================================================

type reactRequest struct {
	Type model.ReactionType `json:"type"`
}

// ReactionResult reports what a reaction toggle did on the server.
type ReactionResult struct {
	MessageID string               `json:"messageId" validate:"required"`
	Type      model.ReactionType   `json:"type" validate:"required,oneof=LIKE DISLIKE"`
	Action    model.ReactionAction `json:"action" validate:"required,oneof=added removed updated"`
	Toggled   bool                 `json:"toggled"`
}

// =============================================================================
// PERSONAS
// =============================================================================

type personaWire struct {
	ID          string `json:"id" validate:"required"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Intro       string `json:"intro"`
}

func (w personaWire) toModel() *model.Persona {
	return &model.Persona{ID: w.ID, Name: w.Name, Description: w.Description, Intro: w.Intro}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
