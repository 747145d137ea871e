// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the client-side data structures for persona chats.
//
// These types are a cache of server state: the canonical conversation lives on
// the backend, and a chat screen rebuilds its model on every mount.
//
// # Key Types
//
//   - Message: Single chat entry (temporary or server id, sender, text, reactions)
//   - MessageList: Append-ordered list indexed by id for in-place reconciliation
//   - Conversation: Server-tracked thread tied to one user/persona pair
//   - Persona: Selectable AI counterpart with its own chat context
//   - UserProfile: The signed-in user as persisted by the session
//
// # Usage
//
// Optimistically append a message, then reconcile it with the server id:
//
//	list := model.NewMessageList()
//	msg := model.NewUserMessage("Hello", "user-1")
//	list.Append(msg)
//	list.Rekey(msg.ID, "srv_42")
package model
