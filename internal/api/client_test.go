// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/personachat/internal/model"
	"github.com/jeranaias/personachat/internal/session"
)

// recorderDoer serves requests from a handler in-process.
type recorderDoer struct {
	handler http.HandlerFunc

	lastMethod string
	lastPath   string
	lastBody   []byte
	calls      int
}

func (d *recorderDoer) Do(ctx context.Context, r *session.Request) (*http.Response, error) {
	d.calls++
	d.lastMethod, d.lastPath, d.lastBody = r.Method, r.Path, r.Body
	req := httptest.NewRequest(r.Method, r.Path, bytes.NewReader(r.Body)).WithContext(ctx)
	rec := httptest.NewRecorder()
	d.handler(rec, req)
	return rec.Result(), nil
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}
}

// =============================================================================
// CHAT TESTS
// =============================================================================

func TestChat_CanonicalAssistantID(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"assistantMessageId wins", `{"reply":"hi","conversationId":"c1","messageId":"old","assistantMessageId":"new"}`, "new"},
		{"legacy messageId", `{"reply":"hi","conversationId":"c1","messageId":"old"}`, "old"},
		{"none", `{"reply":"hi","conversationId":"c1"}`, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := New(&recorderDoer{handler: jsonHandler(200, tc.body)})
			reply, err := c.Chat(context.Background(), "p1", ChatRequest{Message: "hello"})
			require.NoError(t, err)
			assert.Equal(t, tc.want, reply.AssistantMessageID)
			assert.Equal(t, "c1", reply.ConversationID)
		})
	}
}

func TestChat_RequestShape(t *testing.T) {
	d := &recorderDoer{handler: jsonHandler(200, `{"reply":"hi","conversationId":"c1","userMessageId":"u9","suggestedTitle":" Greetings "}`)}
	c := New(d)

	reply, err := c.Chat(context.Background(), "p 1", ChatRequest{Message: "hello"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, d.lastMethod)
	assert.Equal(t, "/personas/p%201/chat", d.lastPath)
	assert.JSONEq(t, `{"message":"hello"}`, string(d.lastBody), "empty conversation id is omitted")
	assert.Equal(t, "u9", reply.UserMessageID)
	assert.Equal(t, "Greetings", reply.SuggestedTitle)
}

func TestChat_InvalidSchema(t *testing.T) {
	tests := []string{
		`{"conversationId":"c1"}`,
		`{"reply":"hi"}`,
		`not json`,
	}
	for _, body := range tests {
		c := New(&recorderDoer{handler: jsonHandler(200, body)})
		_, err := c.Chat(context.Background(), "p1", ChatRequest{Message: "x"})
		assert.ErrorIs(t, err, ErrInvalidResponse, "body %s", body)
	}
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestRequestError_Shapes(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
	}{
		{"string error", 400, `{"error":"bad input"}`, "", "bad input"},
		{"nested error", 409, `{"error":{"code":"ARCHIVED","message":"conversation archived"}}`, "ARCHIVED", "conversation archived"},
		{"flat", 404, `{"code":"NOT_FOUND","message":"no such persona"}`, "NOT_FOUND", "no such persona"},
		{"raw", 502, `upstream down`, "", "upstream down"},
		{"empty", 503, ``, "", "Service Unavailable"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := New(&recorderDoer{handler: jsonHandler(tc.status, tc.body)})
			_, err := c.GetPersona(context.Background(), "p1")

			var re *RequestError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tc.status, re.Status)
			assert.Equal(t, tc.wantCode, re.Code)
			assert.Equal(t, tc.wantMsg, re.Message)
			assert.Equal(t, tc.status, StatusOf(err))
		})
	}
}

func TestCall_PropagatesDoerError(t *testing.T) {
	authErr := &session.AuthError{Reason: session.ReasonRefreshRejected}
	c := New(doerFunc(func(context.Context, *session.Request) (*http.Response, error) {
		return nil, authErr
	}))

	_, err := c.GetConversation(context.Background(), "c1")
	assert.True(t, session.IsAuthError(err))
	assert.Equal(t, 0, StatusOf(err))
}

func TestReadResponse_SizeLimit(t *testing.T) {
	resp := &http.Response{Body: io.NopCloser(io.LimitReader(zeroReader{}, MaxResponseSize+10))}
	_, err := readResponse(resp)
	assert.True(t, errors.Is(err, ErrResponseTooLarge))
}

type doerFunc func(context.Context, *session.Request) (*http.Response, error)

func (f doerFunc) Do(ctx context.Context, r *session.Request) (*http.Response, error) { return f(ctx, r) }

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 'a'
	}
	return len(p), nil
}

// =============================================================================
// EDIT / CONVERSATION / REACTION TESTS
// =============================================================================

func TestEditMessage(t *testing.T) {
	d := &recorderDoer{handler: jsonHandler(200, `{"assistantMessageId":"m2","assistantMessageContent":"Sure thing","conversationId":"c1"}`)}
	c := New(d)

	res, err := c.EditMessage(context.Background(), "m1", "Hi there")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, d.lastMethod)
	assert.Equal(t, "/messages/m1", d.lastPath)
	assert.JSONEq(t, `{"content":"Hi there"}`, string(d.lastBody))
	assert.True(t, res.HasFollowUp())
	assert.Equal(t, "m2", res.AssistantMessageID)
}

func TestEditMessage_LegacyAndMissingIDs(t *testing.T) {
	c := New(&recorderDoer{handler: jsonHandler(200, `{"messageId":"m3","conversationId":"c1"}`)})
	res, err := c.EditMessage(context.Background(), "m1", "x")
	require.NoError(t, err)
	assert.Equal(t, "m3", res.AssistantMessageID)
	assert.False(t, res.HasFollowUp())

	c = New(&recorderDoer{handler: jsonHandler(200, `{"conversationId":"c1"}`)})
	_, err = c.EditMessage(context.Background(), "m1", "x")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestGetConversation_Maps(t *testing.T) {
	body := `{
		"id": "c1",
		"personaId": "p1",
		"userId": "u1",
		"title": "Greetings",
		"visibility": "shared",
		"archivedAt": "2025-01-02T03:04:05Z",
		"messages": [
			{"id": "m1", "role": "user", "content": "Hello", "userId": "u1", "edited": true,
			 "attachments": [{"fileId": "f1", "filename": "a.png", "mimeType": "image/png", "sizeBytes": 10}]},
			{"id": "m2", "role": "ASSISTANT", "content": "Hi there",
			 "reactions": [{"type": "like", "userId": "u1"}]}
		]
	}`
	c := New(&recorderDoer{handler: jsonHandler(200, body)})

	conv, err := c.GetConversation(context.Background(), "c1")
	require.NoError(t, err)

	assert.Equal(t, "p1", conv.PersonaID)
	assert.Equal(t, model.VisibilityShared, conv.Visibility)
	assert.True(t, conv.IsArchived())
	require.Len(t, conv.Messages, 2)

	m1 := conv.Messages[0]
	assert.Equal(t, model.SenderUser, m1.Sender)
	assert.True(t, m1.Edited)
	assert.Equal(t, "u1", m1.OwnerUserID)
	require.Len(t, m1.Attachments, 1)
	assert.Equal(t, "f1", m1.Attachments[0].FileID)

	m2 := conv.Messages[1]
	assert.Equal(t, model.SenderAssistant, m2.Sender)
	assert.Equal(t, []model.Reaction{{Type: model.ReactionLike, UserID: "u1"}}, m2.Reactions)
}

func TestGetConversation_RejectsBadRole(t *testing.T) {
	c := New(&recorderDoer{handler: jsonHandler(200, `{"id":"c1","personaId":"p1","messages":[{"id":"m1","role":"SYSTEM"}]}`)})
	_, err := c.GetConversation(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestUpdateConversation_UnarchiveSendsNull(t *testing.T) {
	d := &recorderDoer{handler: jsonHandler(200, `{"id":"c1","personaId":"p1","archivedAt":null}`)}
	c := New(d)

	conv, err := c.UpdateConversation(context.Background(), "c1", ConversationUpdate{Unarchive: true})
	require.NoError(t, err)
	assert.False(t, conv.IsArchived())

	var sent map[string]any
	require.NoError(t, json.Unmarshal(d.lastBody, &sent))
	v, ok := sent["archivedAt"]
	assert.True(t, ok)
	assert.Nil(t, v)
	_, hasTitle := sent["title"]
	assert.False(t, hasTitle)
}

func TestCreateFileUpload(t *testing.T) {
	d := &recorderDoer{handler: jsonHandler(200, `{"presignedUrl":"https://files.example.com/put/abc?sig=1","fileId":"f1"}`)}
	c := New(d)

	up, err := c.CreateFileUpload(context.Background(), "c1", FileUploadRequest{Filename: "a.png", MimeType: "image/png", SizeBytes: 5})
	require.NoError(t, err)
	assert.Equal(t, "/conversations/c1/files", d.lastPath)
	assert.Equal(t, "f1", up.FileID)
	assert.True(t, strings.HasPrefix(up.PresignedURL, "https://"))

	c = New(&recorderDoer{handler: jsonHandler(200, `{"presignedUrl":"not a url","fileId":"f1"}`)})
	_, err = c.CreateFileUpload(context.Background(), "c1", FileUploadRequest{})
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestReact(t *testing.T) {
	d := &recorderDoer{handler: jsonHandler(200, `{"messageId":"m2","type":"LIKE","action":"added","toggled":true}`)}
	c := New(d)

	res, err := c.React(context.Background(), "m2", model.ReactionLike)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"LIKE"}`, string(d.lastBody))
	assert.Equal(t, model.ReactionAdded, res.Action)

	c = New(&recorderDoer{handler: jsonHandler(200, `{"messageId":"m2","type":"LIKE","action":"exploded"}`)})
	_, err = c.React(context.Background(), "m2", model.ReactionLike)
	assert.ErrorIs(t, err, ErrInvalidResponse)
}

func TestGetPersona(t *testing.T) {
	c := New(&recorderDoer{handler: jsonHandler(200, `{"id":"p1","name":"Ada","intro":"Hello, I am Ada."}`)})
	p, err := c.GetPersona(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", p.DisplayName())
	assert.Equal(t, "Hello, I am Ada.", p.Intro)
}
