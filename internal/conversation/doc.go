// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation implements the per-screen chat state machine.
//
// A Controller is created for each open chat screen. It is driven by route
// parameters (persona id, conversation id, draft marker) and by user actions
// (send, edit, react), and it keeps the message list and the conversation
// identity in step with the backend.
//
// # States
//
//	Idle          persona loaded, no conversation yet
//	Restoring     fetching the conversation named by the route
//	RestoreFailed fetch failed or the watchdog fired; Retry restores again
//	Active        conversation adopted or restored
//	Sending       a send or edit is in flight
//	Archived      archivedAt is set; send and edit are refused
//
// # Reconciliation
//
// Optimistic messages carry temporary ids. Server ids replace them by id
// lookup, never by list position, so a typing placeholder appended between two
// mutations cannot shift a replacement onto the wrong message.
//
// # Lifetime
//
// Every operation runs on the screen's context. Close cancels it, and any
// response that arrives afterwards is dropped instead of applied.
package conversation
