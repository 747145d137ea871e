// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/jeranaias/personachat/internal/logging"
	"github.com/jeranaias/personachat/internal/model"
	"github.com/jeranaias/personachat/internal/session"
)

// MaxResponseSize is the maximum allowed response body size.
const MaxResponseSize = 10 * 1024 * 1024

// Doer issues authenticated backend requests. *session.Manager implements it.
type Doer interface {
	Do(ctx context.Context, r *session.Request) (*http.Response, error)
}

// Client wraps the backend endpoints.
type Client struct {
	doer     Doer
	validate *validator.Validate
	logger   *zap.Logger
}

// New creates a client over doer.
func New(doer Doer) *Client {
	return &Client{
		doer:     doer,
		validate: validator.New(),
		logger:   zap.NewNop(),
	}
}

// WithLogger sets the logger.
func (c *Client) WithLogger(l *zap.Logger) *Client {
	c.logger = logging.OrNop(l)
	return c
}

// =============================================================================
// ENDPOINTS
// =============================================================================

// Chat sends a message to a persona. An empty ConversationID starts a new
// conversation.
func (c *Client) Chat(ctx context.Context, personaID string, req ChatRequest) (*ChatReply, error) {
	var w chatWire
	if err := c.call(ctx, http.MethodPost, "/personas/"+url.PathEscape(personaID)+"/chat", req, &w); err != nil {
		return nil, err
	}
	return w.canonical(), nil
}

// EditMessage replaces the content of a user message.
func (c *Client) EditMessage(ctx context.Context, messageID, content string) (*EditResult, error) {
	var w editWire
	if err := c.call(ctx, http.MethodPatch, "/messages/"+url.PathEscape(messageID), editRequest{Content: content}, &w); err != nil {
		return nil, err
	}
	return w.canonical(), nil
}

// GetConversation fetches a conversation with its messages.
func (c *Client) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var w conversationWire
	if err := c.call(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), nil, &w); err != nil {
		return nil, err
	}
	return w.toModel(), nil
}

// UpdateConversation patches conversation metadata and returns the result.
func (c *Client) UpdateConversation(ctx context.Context, id string, u ConversationUpdate) (*model.Conversation, error) {
	var w conversationWire
	if err := c.call(ctx, http.MethodPatch, "/conversations/"+url.PathEscape(id), u.body(), &w); err != nil {
		return nil, err
	}
	return w.toModel(), nil
}

// CreateFileUpload registers a file on a conversation and returns where to PUT
// its bytes.
func (c *Client) CreateFileUpload(ctx context.Context, conversationID string, req FileUploadRequest) (*FileUpload, error) {
	var out FileUpload
	if err := c.call(ctx, http.MethodPost, "/conversations/"+url.PathEscape(conversationID)+"/files", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// React toggles the caller's reaction on a message.
func (c *Client) React(ctx context.Context, messageID string, t model.ReactionType) (*ReactionResult, error) {
	var out ReactionResult
	if err := c.call(ctx, http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/reactions", reactRequest{Type: t}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPersona fetches a persona.
func (c *Client) GetPersona(ctx context.Context, id string) (*model.Persona, error) {
	var w personaWire
	if err := c.call(ctx, http.MethodGet, "/personas/"+url.PathEscape(id), nil, &w); err != nil {
		return nil, err
	}
	return w.toModel(), nil
}

// =============================================================================
// TRANSPORT
// =============================================================================

// normalizer is implemented by wire types that need normalizing before
// validation.
type normalizer interface {
	normalize()
}

// call issues one request and decodes a validated JSON body into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	req, err := session.NewJSONRequest(method, path, in)
	if err != nil {
		return err
	}

	resp, err := c.doer.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		re := newRequestError(resp.StatusCode, body)
		c.logger.Info("backend error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", re.Status),
			zap.String("code", re.Code),
		)
		return re
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrInvalidResponse, method, path, err)
	}
	if n, ok := out.(normalizer); ok {
		n.normalize()
	}
	if err := c.validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrInvalidResponse, method, path, err)
	}
	return nil
}

// readResponse reads the response body with a size limit.
func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) > MaxResponseSize {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, MaxResponseSize)
	}
	return body, nil
}
