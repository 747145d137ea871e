// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "fmt"

// =============================================================================
// REACTIONS
// =============================================================================

// ReactionType is the kind of reaction a user can leave on a message.
type ReactionType string

const (
	ReactionLike    ReactionType = "LIKE"
	ReactionDislike ReactionType = "DISLIKE"
)

// Valid reports whether t is a known reaction type.
func (t ReactionType) Valid() bool {
	return t == ReactionLike || t == ReactionDislike
}

// ReactionAction is the server's report of what a toggle did.
type ReactionAction string

const (
	ReactionAdded   ReactionAction = "added"
	ReactionRemoved ReactionAction = "removed"
	ReactionUpdated ReactionAction = "updated"
)

// Reaction is a single user's reaction on a message.
type Reaction struct {
	Type   ReactionType `json:"type"`
	UserID string       `json:"user_id"`
}

// ApplyReaction returns the reaction list after applying the server-reported
// action for userID. A user holds at most one reaction per message.
// The input slice is not modified.
func ApplyReaction(reactions []Reaction, userID string, t ReactionType, action ReactionAction) ([]Reaction, error) {
	if !t.Valid() {
		return reactions, fmt.Errorf("unknown reaction type %q", t)
	}

	out := make([]Reaction, 0, len(reactions)+1)
	for _, r := range reactions {
		if r.UserID != userID {
			out = append(out, r)
		}
	}

	switch action {
	case ReactionAdded, ReactionUpdated:
		out = append(out, Reaction{Type: t, UserID: userID})
	case ReactionRemoved:
		// already dropped above
	default:
		return reactions, fmt.Errorf("unknown reaction action %q", action)
	}
	return out, nil
}

// CountReactions returns the number of reactions of each type.
func CountReactions(reactions []Reaction) (likes, dislikes int) {
	for _, r := range reactions {
		switch r.Type {
		case ReactionLike:
			likes++
		case ReactionDislike:
			dislikes++
		}
	}
	return likes, dislikes
}

// ReactionBy returns the reaction userID left, if any.
func ReactionBy(reactions []Reaction, userID string) (ReactionType, bool) {
	for _, r := range reactions {
		if r.UserID == userID {
			return r.Type, true
		}
	}
	return "", false
}
