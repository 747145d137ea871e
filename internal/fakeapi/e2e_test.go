// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fakeapi_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/personachat/internal/api"
	"github.com/jeranaias/personachat/internal/conversation"
	"github.com/jeranaias/personachat/internal/fakeapi"
	"github.com/jeranaias/personachat/internal/kvstore"
	"github.com/jeranaias/personachat/internal/model"
	"github.com/jeranaias/personachat/internal/session"
	"github.com/jeranaias/personachat/internal/upload"
)

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	t        *testing.T
	server   *fakeapi.Server
	manager  *session.Manager
	client   *api.Client
	uploader *upload.Uploader
	toLogin  atomic.Int32
}

func scriptedReply(p model.Persona, message string) string {
	switch message {
	case "Hello":
		return "Hi there"
	case "Hi there":
		return "Sure thing"
	default:
		return p.Name + ": " + message
	}
}

func newHarness(t *testing.T, mutate ...func(*fakeapi.Options)) *harness {
	t.Helper()
	opts := fakeapi.DefaultOptions()
	opts.Reply = scriptedReply
	for _, fn := range mutate {
		fn(&opts)
	}
	server, err := fakeapi.New(opts)
	require.NoError(t, err)
	baseURL, err := server.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Shutdown() })

	h := &harness{t: t, server: server}
	h.manager = session.NewManager(session.Config{BaseURL: baseURL, RequestTimeout: 5 * time.Second}, kvstore.NewMemoryStore()).
		WithNavigator(session.NavigatorFunc(func() { h.toLogin.Add(1) }))
	t.Cleanup(h.manager.Stop)

	_, err = h.manager.Login(context.Background(), session.Credentials{Email: "demo@example.com", Password: "demo"})
	require.NoError(t, err)

	h.client = api.New(h.manager)
	h.uploader = upload.NewUploader(h.client, h.manager.HTTPClient(), upload.Policy{
		MaxBytes:     upload.DefaultMaxBytes,
		AllowedTypes: upload.DefaultAllowedTypes,
	})
	return h
}

func (h *harness) screen(p conversation.Params) (*conversation.Controller, *conversation.MemoryRoute) {
	route := conversation.NewMemoryRoute(p)
	c := conversation.New(h.client, route, conversation.Options{
		RestoreTimeout: 5 * time.Second,
		CurrentUserID:  h.manager.CurrentUserID,
		Uploader:       h.uploader,
	})
	h.t.Cleanup(c.Close)
	require.NoError(h.t, c.Mount())
	return c, route
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)

// =============================================================================
// SCENARIOS
// =============================================================================

func TestEndToEnd_ChatEditReactRestore(t *testing.T) {
	h := newHarness(t)
	c, route := h.screen(conversation.Params{PersonaID: "ada"})

	assert.True(t, c.Snapshot().ShowIntro())
	assert.Equal(t, "Ada", c.Snapshot().Persona.Name)

	require.NoError(t, c.Send("Hello", nil))

	convID := route.Params().ConversationID
	require.NotEmpty(t, convID)
	assert.Equal(t, 1, route.Len())

	snap := c.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "Hi there", snap.Messages[1].Text)
	assert.Equal(t, "Hello", snap.Title)
	for _, m := range snap.Messages {
		assert.False(t, m.IsTemporary())
	}

	userMsg := snap.Messages[0]
	require.NoError(t, c.EditMessage(userMsg.ID, "Hi there"))
	snap = c.Snapshot()
	require.Len(t, snap.Messages, 3)
	assert.True(t, snap.Messages[0].Edited)
	assert.Equal(t, "Sure thing", snap.Messages[2].Text)

	require.NoError(t, c.ToggleReaction(snap.Messages[2].ID, model.ReactionLike))

	require.NoError(t, c.Send("see attachment", &upload.File{Name: "pixel.png", Data: pngBytes}))
	assert.Equal(t, int64(1), h.server.Stats().Puts)

	// A second screen restores the same state from the backend.
	restored, _ := h.screen(conversation.Params{PersonaID: "ada", ConversationID: convID})
	got := restored.Snapshot()
	assert.Equal(t, conversation.StateActive, got.State)
	require.Len(t, got.Messages, 5)
	assert.Equal(t, userMsg.ID, got.Messages[0].ID)
	assert.True(t, got.Messages[0].Edited)
	assert.Equal(t, "u1", got.Messages[0].OwnerUserID)
	assert.Equal(t, []model.Reaction{{Type: model.ReactionLike, UserID: "u1"}}, got.Messages[2].Reactions)
	require.Len(t, got.Messages[3].Attachments, 1)
	assert.Equal(t, "image/png", got.Messages[3].Attachments[0].MimeType)
}

func TestEndToEnd_RevokedAccessRefreshesTransparently(t *testing.T) {
	h := newHarness(t)
	c, _ := h.screen(conversation.Params{PersonaID: "ada"})

	h.server.RevokeAccess("u1")
	require.NoError(t, c.Send("Hello", nil))

	assert.Equal(t, int64(1), h.server.Stats().Refreshes)
	assert.Equal(t, int32(0), h.toLogin.Load())
	assert.True(t, h.manager.Snapshot().Authenticated())
}

func TestEndToEnd_TokenErrorAs500Refreshes(t *testing.T) {
	h := newHarness(t, func(o *fakeapi.Options) { o.ExpiredAs500 = true })
	c, _ := h.screen(conversation.Params{PersonaID: "ada"})

	h.server.RevokeAccess("u1")
	require.NoError(t, c.Send("Hello", nil))
	assert.Equal(t, int64(1), h.server.Stats().Refreshes)
}

func TestEndToEnd_RefreshRejectedLogsOut(t *testing.T) {
	h := newHarness(t)
	c, _ := h.screen(conversation.Params{PersonaID: "ada"})

	h.server.RevokeAccess("u1")
	h.server.RevokeRefreshTokens()

	err := c.Send("Hello", nil)
	require.Error(t, err)
	assert.True(t, session.IsAuthError(err))
	assert.Equal(t, int32(1), h.toLogin.Load())
	assert.False(t, h.manager.Snapshot().Authenticated())

	msgs := c.Snapshot().Messages
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsError)
}

func TestEndToEnd_ArchivedConversation(t *testing.T) {
	h := newHarness(t)
	first, route := h.screen(conversation.Params{PersonaID: "ada"})
	require.NoError(t, first.Send("Hello", nil))
	convID := route.Params().ConversationID
	require.True(t, h.server.Archive(convID))

	c, _ := h.screen(conversation.Params{PersonaID: "ada", ConversationID: convID})
	require.Equal(t, conversation.StateArchived, c.State())

	chats := h.server.Stats().Chats
	assert.ErrorIs(t, c.Send("still there?", nil), conversation.ErrArchived)
	assert.Equal(t, chats, h.server.Stats().Chats)

	require.NoError(t, c.Unarchive())
	require.NoError(t, c.Send("still there?", nil))
	assert.Len(t, c.Snapshot().Messages, 4)
}

func TestEndToEnd_ConversationOfAnotherPersona(t *testing.T) {
	h := newHarness(t)
	first, route := h.screen(conversation.Params{PersonaID: "ada"})
	require.NoError(t, first.Send("Hello", nil))
	convID := route.Params().ConversationID

	c, r := h.screen(conversation.Params{PersonaID: "sage", ConversationID: convID})
	assert.Equal(t, "ada", c.Snapshot().Persona.ID)
	assert.Equal(t, conversation.Params{PersonaID: "ada", ConversationID: convID}, r.Params())
	assert.Len(t, c.Snapshot().Messages, 2)
}

func TestEndToEnd_UnknownConversation(t *testing.T) {
	h := newHarness(t)
	route := conversation.NewMemoryRoute(conversation.Params{PersonaID: "ada", ConversationID: "does-not-exist"})
	c := conversation.New(h.client, route, conversation.Options{CurrentUserID: h.manager.CurrentUserID})
	defer c.Close()

	err := c.Mount()
	var re *api.RequestError
	require.ErrorAs(t, err, &re)
	assert.True(t, re.NotFound())
	assert.True(t, c.Snapshot().CanRetry())
}
