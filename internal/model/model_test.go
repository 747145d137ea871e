// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewUserMessage_TemporaryID(t *testing.T) {
	msg := NewUserMessage("Hello", "user-1")

	if !strings.HasPrefix(msg.ID, TempIDPrefix) {
		t.Errorf("ID = %q, want prefix %q", msg.ID, TempIDPrefix)
	}
	if msg.Sender != SenderUser {
		t.Errorf("Sender = %q, want %q", msg.Sender, SenderUser)
	}
	if msg.OwnerUserID != "user-1" {
		t.Errorf("OwnerUserID = %q, want user-1", msg.OwnerUserID)
	}
	if !msg.IsTemporary() {
		t.Error("IsTemporary() = false, want true")
	}
}

func TestNewTempID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewTempID()
		if seen[id] {
			t.Fatalf("duplicate temp id %q", id)
		}
		seen[id] = true
	}
}

func TestNewTypingPlaceholder(t *testing.T) {
	msg := NewTypingPlaceholder()
	if !msg.IsTyping || msg.Sender != SenderAssistant {
		t.Errorf("placeholder = %+v, want typing assistant message", msg)
	}
}

func TestMessage_CloneIsDeep(t *testing.T) {
	orig := Message{
		ID:          "m1",
		Reactions:   []Reaction{{Type: ReactionLike, UserID: "u1"}},
		Attachments: []Attachment{{FileID: "f1"}},
	}
	c := orig.Clone()
	c.Reactions[0].Type = ReactionDislike
	c.Attachments[0].FileID = "f2"

	if orig.Reactions[0].Type != ReactionLike {
		t.Error("Clone shares reaction storage with original")
	}
	if orig.Attachments[0].FileID != "f1" {
		t.Error("Clone shares attachment storage with original")
	}
}

func TestMessage_Preview(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		maxLen int
		want   string
	}{
		{"short", "hi", 10, "hi"},
		{"truncated", "hello world", 8, "hello..."},
		{"tiny limit", "hello", 2, "he"},
		{"unicode", "\u65e5\u672c\u8a9e\u306e\u30c6\u30ad\u30b9\u30c8", 5, "\u65e5\u672c..."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Message{Text: tc.text}.Preview(tc.maxLen)
			if got != tc.want {
				t.Errorf("Preview(%d) = %q, want %q", tc.maxLen, got, tc.want)
			}
		})
	}
}

func TestNormalizeText(t *testing.T) {
	decomposed := "e\u0301"
	if got := NormalizeText(decomposed); got != "\u00e9" {
		t.Errorf("NormalizeText(%q) = %q, want %q", decomposed, got, "\u00e9")
	}
}

func TestIsBlank(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"", true},
		{"   ", true},
		{"\t\n ", true},
		{" a ", false},
	}
	for _, tc := range tests {
		if got := IsBlank(tc.in); got != tc.want {
			t.Errorf("IsBlank(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

// =============================================================================
// MESSAGE LIST TESTS
// =============================================================================

func TestMessageList_AppendOrder(t *testing.T) {
	l := NewMessageList()
	l.Append(Message{ID: "a"})
	l.Append(Message{ID: "b"})
	l.Append(Message{ID: "c"})

	assert.Equal(t, []string{"a", "b", "c"}, ids(l.Snapshot()))
	assert.False(t, l.Append(Message{ID: "b"}), "duplicate id must be rejected")
	assert.Equal(t, 3, l.Len())
}

func TestMessageList_RekeyKeepsPosition(t *testing.T) {
	l := NewMessageList()
	user := NewUserMessage("Hello", "u1")
	typing := NewTypingPlaceholder()
	l.Append(Message{ID: "earlier"})
	l.Append(user)
	l.Append(typing)

	require.True(t, l.Rekey(user.ID, "srv_user"))

	snap := l.Snapshot()
	assert.Equal(t, []string{"earlier", "srv_user", typing.ID}, ids(snap))
	assert.Equal(t, "Hello", snap[1].Text)

	_, ok := l.Get(user.ID)
	assert.False(t, ok, "old id must be gone")
}

func TestMessageList_RekeyConflicts(t *testing.T) {
	l := NewMessageList()
	l.Append(Message{ID: "a"})
	l.Append(Message{ID: "b"})

	assert.False(t, l.Rekey("a", "b"), "rekey onto existing id")
	assert.False(t, l.Rekey("missing", "c"))
	assert.True(t, l.Rekey("a", "a"))
}

func TestMessageList_ReplaceByIDNotPosition(t *testing.T) {
	l := NewMessageList()
	typing := NewTypingPlaceholder()
	l.Append(typing)
	// A later append shifts the placeholder away from the tail.
	l.Append(Message{ID: "later", Text: "later"})

	require.True(t, l.Replace(typing.ID, NewAssistantMessage("srv_reply", "Hi there")))

	snap := l.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "srv_reply", snap[0].ID)
	assert.Equal(t, "Hi there", snap[0].Text)
	assert.False(t, snap[0].IsTyping)
	assert.Equal(t, "later", snap[1].ID)
}

func TestMessageList_UpdateKeepsID(t *testing.T) {
	l := NewMessageList()
	l.Append(Message{ID: "m1", Text: "Hi"})

	ok := l.Update("m1", func(m *Message) {
		m.Text = "Hi there"
		m.Edited = true
		m.ID = "sneaky"
	})
	require.True(t, ok)

	got, ok := l.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "Hi there", got.Text)
	assert.True(t, got.Edited)
}

func TestMessageList_RemoveAndReset(t *testing.T) {
	l := NewMessageList()
	l.Reset([]Message{{ID: "a"}, {ID: "b"}, {ID: "a"}})
	assert.Equal(t, []string{"a", "b"}, ids(l.Snapshot()))

	assert.True(t, l.Remove("a"))
	assert.False(t, l.Remove("a"))
	last, ok := l.Last()
	require.True(t, ok)
	assert.Equal(t, "b", last.ID)

	l.Clear()
	assert.Equal(t, 0, l.Len())
	_, ok = l.Last()
	assert.False(t, ok)
}

func TestMessageList_SnapshotIsolated(t *testing.T) {
	l := NewMessageList()
	l.Append(Message{ID: "a", Text: "orig"})

	snap := l.Snapshot()
	snap[0].Text = "mutated"

	got, _ := l.Get("a")
	assert.Equal(t, "orig", got.Text)
}

func TestMessageList_ConcurrentAppend(t *testing.T) {
	l := NewMessageList()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Append(NewUserMessage("x", "u"))
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, l.Len())
}

// =============================================================================
// REACTION TESTS
// =============================================================================

func TestApplyReaction(t *testing.T) {
	base := []Reaction{{Type: ReactionLike, UserID: "other"}}

	tests := []struct {
		name     string
		start    []Reaction
		typ      ReactionType
		action   ReactionAction
		wantMine ReactionType
		wantHas  bool
		wantLen  int
	}{
		{"added", base, ReactionLike, ReactionAdded, ReactionLike, true, 2},
		{"removed", append(base, Reaction{ReactionLike, "me"}), ReactionLike, ReactionRemoved, "", false, 1},
		{"updated", append(base, Reaction{ReactionLike, "me"}), ReactionDislike, ReactionUpdated, ReactionDislike, true, 2},
		{"removed when absent", base, ReactionLike, ReactionRemoved, "", false, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ApplyReaction(tc.start, "me", tc.typ, tc.action)
			require.NoError(t, err)
			assert.Len(t, got, tc.wantLen)
			mine, has := ReactionBy(got, "me")
			assert.Equal(t, tc.wantHas, has)
			assert.Equal(t, tc.wantMine, mine)
		})
	}
}

func TestApplyReaction_Invalid(t *testing.T) {
	_, err := ApplyReaction(nil, "me", "LOVE", ReactionAdded)
	assert.Error(t, err)

	_, err = ApplyReaction(nil, "me", ReactionLike, "exploded")
	assert.Error(t, err)
}

func TestCountReactions(t *testing.T) {
	likes, dislikes := CountReactions([]Reaction{
		{ReactionLike, "a"}, {ReactionLike, "b"}, {ReactionDislike, "c"},
	})
	if likes != 2 || dislikes != 1 {
		t.Errorf("CountReactions = (%d, %d), want (2, 1)", likes, dislikes)
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversation_IsArchived(t *testing.T) {
	var nilConv *Conversation
	assert.False(t, nilConv.IsArchived())

	c := &Conversation{ID: "c1"}
	assert.False(t, c.IsArchived())
}

func TestPersona_DisplayName(t *testing.T) {
	assert.Equal(t, "Ada", Persona{ID: "p1", Name: "Ada"}.DisplayName())
	assert.Equal(t, "p1", Persona{ID: "p1"}.DisplayName())
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
