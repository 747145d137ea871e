// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fakeapi

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/personachat/internal/util"
)

// =============================================================================
// STATE
// =============================================================================

const (
	roleUser      = "USER"
	roleAssistant = "ASSISTANT"

	uploadAudience = "upload"
	uploadTTL      = 15 * time.Minute
	titleRunes     = 48
)

type reaction struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type attachment struct {
	FileID    string `json:"fileId"`
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}

type message struct {
	ID          string       `json:"id"`
	Role        string       `json:"role"`
	Content     string       `json:"content"`
	Edited      bool         `json:"edited"`
	UserID      string       `json:"userId,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	Reactions   []reaction   `json:"reactions"`
	Attachments []attachment `json:"attachments"`
}

type conversation struct {
	ID         string     `json:"id"`
	PersonaID  string     `json:"personaId"`
	UserID     string     `json:"userId"`
	Title      string     `json:"title"`
	Visibility string     `json:"visibility"`
	ArchivedAt *time.Time `json:"archivedAt"`
	Messages   []*message `json:"messages"`
}

type file struct {
	ID             string
	ConversationID string
	UserID         string
	Filename       string
	MimeType       string
	SizeBytes      int64
	Data           []byte
	Uploaded       bool
}

// ownedLocked returns the conversation if it exists and belongs to userID.
// Conversations of other users are reported as missing.
func (s *Server) ownedLocked(id, userID string) (*conversation, bool) {
	conv, ok := s.conversations[id]
	if !ok || conv.UserID != userID {
		return nil, false
	}
	return conv, true
}

func (s *Server) messageLocked(id, userID string) (*conversation, *message, bool) {
	convID, ok := s.messages[id]
	if !ok {
		return nil, nil, false
	}
	conv, ok := s.ownedLocked(convID, userID)
	if !ok {
		return nil, nil, false
	}
	for _, m := range conv.Messages {
		if m.ID == id {
			return conv, m, true
		}
	}
	return nil, nil, false
}

func (s *Server) appendLocked(conv *conversation, m *message) {
	conv.Messages = append(conv.Messages, m)
	s.messages[m.ID] = conv.ID
}

func newMessage(role, content, userID string) *message {
	return &message{
		ID:          uuid.NewString(),
		Role:        role,
		Content:     content,
		UserID:      userID,
		CreatedAt:   time.Now().UTC(),
		Reactions:   []reaction{},
		Attachments: []attachment{},
	}
}

// =============================================================================
// CHAT
// =============================================================================

type chatBody struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId"`
	FileID         string `json:"fileId"`
}

func (s *Server) chat(c *fiber.Ctx) error {
	s.count.chats.Add(1)
	userID := callerID(c)

	var body chatBody
	if err := c.BodyParser(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, "malformed body")
	}
	text := strings.TrimSpace(body.Message)
	if text == "" && body.FileID == "" {
		return fail(c, fiber.StatusBadRequest, "message is required")
	}
	if body.FileID != "" && body.ConversationID == "" {
		return fail(c, fiber.StatusBadRequest, "attachments need an existing conversation")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	persona, ok := s.personas[c.Params("id")]
	if !ok {
		return fail(c, fiber.StatusNotFound, "persona not found")
	}

	var conv *conversation
	if body.ConversationID != "" {
		conv, ok = s.ownedLocked(body.ConversationID, userID)
		if !ok {
			return fail(c, fiber.StatusNotFound, "conversation not found")
		}
		if conv.PersonaID != persona.ID {
			return fail(c, fiber.StatusConflict, "conversation belongs to another persona")
		}
		if conv.ArchivedAt != nil {
			return fail(c, fiber.StatusConflict, "conversation is archived")
		}
	} else {
		conv = &conversation{
			ID:         uuid.NewString(),
			PersonaID:  persona.ID,
			UserID:     userID,
			Visibility: "PRIVATE",
		}
		s.conversations[conv.ID] = conv
	}

	user := newMessage(roleUser, text, userID)
	if body.FileID != "" {
		f, ok := s.files[body.FileID]
		if !ok || f.ConversationID != conv.ID || !f.Uploaded {
			return fail(c, fiber.StatusBadRequest, "file is not uploaded to this conversation")
		}
		user.Attachments = append(user.Attachments, attachment{
			FileID:    f.ID,
			Filename:  f.Filename,
			MimeType:  f.MimeType,
			SizeBytes: f.SizeBytes,
		})
	}
	s.appendLocked(conv, user)

	reply := newMessage(roleAssistant, s.opts.Reply(persona, text), "")
	s.appendLocked(conv, reply)

	suggested := ""
	if conv.Title == "" && text != "" {
		suggested = util.TruncateRunes(util.SingleLine(text), titleRunes)
		conv.Title = suggested
	}

	s.logger.Debug("chat", zap.String("conversation_id", conv.ID), zap.String("persona_id", persona.ID))
	return c.JSON(fiber.Map{
		"reply":              reply.Content,
		"conversationId":     conv.ID,
		"assistantMessageId": reply.ID,
		"userMessageId":      user.ID,
		"suggestedTitle":     suggested,
	})
}

// =============================================================================
// MESSAGES
// =============================================================================

type editBody struct {
	Content string `json:"content"`
}

func (s *Server) editMessage(c *fiber.Ctx) error {
	s.count.edits.Add(1)
	userID := callerID(c)

	var body editBody
	if err := c.BodyParser(&body); err != nil || strings.TrimSpace(body.Content) == "" {
		return fail(c, fiber.StatusBadRequest, "content is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, msg, ok := s.messageLocked(c.Params("id"), userID)
	if !ok {
		return fail(c, fiber.StatusNotFound, "message not found")
	}
	if msg.Role != roleUser || msg.UserID != userID {
		return fail(c, fiber.StatusForbidden, "only your own messages can be edited")
	}
	if conv.ArchivedAt != nil {
		return fail(c, fiber.StatusConflict, "conversation is archived")
	}

	msg.Content = strings.TrimSpace(body.Content)
	msg.Edited = true

	follow := newMessage(roleAssistant, s.opts.Reply(s.personas[conv.PersonaID], msg.Content), "")
	s.appendLocked(conv, follow)

	return c.JSON(fiber.Map{
		"assistantMessageId":      follow.ID,
		"assistantMessageContent": follow.Content,
		"conversationId":          conv.ID,
	})
}

type reactBody struct {
	Type string `json:"type"`
}

func (s *Server) react(c *fiber.Ctx) error {
	s.count.reactions.Add(1)
	userID := callerID(c)

	var body reactBody
	if err := c.BodyParser(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, "malformed body")
	}
	kind := strings.ToUpper(body.Type)
	if kind != "LIKE" && kind != "DISLIKE" {
		return fail(c, fiber.StatusBadRequest, "type must be LIKE or DISLIKE")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, msg, ok := s.messageLocked(c.Params("id"), userID)
	if !ok {
		return fail(c, fiber.StatusNotFound, "message not found")
	}

	action := "added"
	kept := msg.Reactions[:0]
	for _, r := range msg.Reactions {
		if r.UserID != userID {
			kept = append(kept, r)
			continue
		}
		if r.Type == kind {
			action = "removed"
		} else {
			action = "updated"
		}
	}
	if action != "removed" {
		kept = append(kept, reaction{Type: kind, UserID: userID})
	}
	msg.Reactions = kept

	return c.JSON(fiber.Map{
		"messageId": msg.ID,
		"type":      kind,
		"action":    action,
		"toggled":   action != "removed",
	})
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

func (s *Server) getConversation(c *fiber.Ctx) error {
	s.count.conversations.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.ownedLocked(c.Params("id"), callerID(c))
	if !ok {
		return fail(c, fiber.StatusNotFound, "conversation not found")
	}
	return c.JSON(conv)
}

func (s *Server) updateConversation(c *fiber.Ctx) error {
	s.count.updates.Add(1)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(c.Body(), &fields); err != nil {
		return fail(c, fiber.StatusBadRequest, "malformed body")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.ownedLocked(c.Params("id"), callerID(c))
	if !ok {
		return fail(c, fiber.StatusNotFound, "conversation not found")
	}

	if raw, ok := fields["archivedAt"]; ok {
		var at *time.Time
		if err := json.Unmarshal(raw, &at); err != nil {
			return fail(c, fiber.StatusBadRequest, "archivedAt must be a timestamp or null")
		}
		conv.ArchivedAt = at
	}
	if raw, ok := fields["title"]; ok {
		var title string
		if err := json.Unmarshal(raw, &title); err != nil {
			return fail(c, fiber.StatusBadRequest, "title must be a string")
		}
		conv.Title = strings.TrimSpace(title)
	}
	return c.JSON(conv)
}

// Archive marks a conversation archived, as another device would.
func (s *Server) Archive(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[conversationID]
	if !ok {
		return false
	}
	now := time.Now().UTC()
	conv.ArchivedAt = &now
	return true
}

// =============================================================================
// FILES
// =============================================================================

type fileBody struct {
	Filename  string `json:"filename"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}

func (s *Server) createFile(c *fiber.Ctx) error {
	s.count.fileUploads.Add(1)
	userID := callerID(c)

	var body fileBody
	if err := c.BodyParser(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, "malformed body")
	}
	if body.Filename == "" || body.MimeType == "" || body.SizeBytes <= 0 {
		return fail(c, fiber.StatusBadRequest, "filename, mimeType and sizeBytes are required")
	}

	s.mu.Lock()
	conv, ok := s.ownedLocked(c.Params("id"), userID)
	if !ok {
		s.mu.Unlock()
		return fail(c, fiber.StatusNotFound, "conversation not found")
	}
	f := &file{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		UserID:         userID,
		Filename:       body.Filename,
		MimeType:       body.MimeType,
		SizeBytes:      body.SizeBytes,
	}
	s.files[f.ID] = f
	s.mu.Unlock()

	sig, err := s.signUpload(f.ID)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"presignedUrl": c.BaseURL() + "/uploads/" + url.PathEscape(f.ID) + "?signature=" + url.QueryEscape(sig),
		"fileId":       f.ID,
	})
}

func (s *Server) signUpload(fileID string) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   fileID,
		Audience:  jwt.ClaimStrings{uploadAudience},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(uploadTTL)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) putUpload(c *fiber.Ctx) error {
	s.count.puts.Add(1)
	id := c.Params("id")

	_, err := jwt.Parse(c.Query("signature"), func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(uploadAudience),
		jwt.WithSubject(id),
	)
	if err != nil {
		return fail(c, fiber.StatusForbidden, "signature does not match")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[id]
	if !ok {
		return fail(c, fiber.StatusNotFound, "file not found")
	}
	data := c.Body()
	if int64(len(data)) != f.SizeBytes {
		return fail(c, fiber.StatusBadRequest, "size does not match registration")
	}
	if ct := c.Get(fiber.HeaderContentType); ct != "" && !strings.HasPrefix(ct, f.MimeType) {
		return fail(c, fiber.StatusBadRequest, "content type does not match registration")
	}
	f.Data = append([]byte(nil), data...)
	f.Uploaded = true
	return c.SendStatus(fiber.StatusOK)
}
