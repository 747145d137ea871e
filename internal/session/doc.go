// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session owns the client token lifecycle.
//
// A Manager reads and writes tokens through a kvstore.Store, collapses
// concurrent refreshes into a single network call, keeps tokens fresh with a
// background loop, and wraps every backend call so that an expired token is
// refreshed and the call retried once.
//
// # Key Types
//
//   - Manager: Token owner; Do is the authenticated request primitive
//   - Request: Replayable description of a backend call
//   - Session: Point-in-time view of tokens, user, and workspace
//   - AuthError: Terminal authentication failure; the session is cleared
//   - Navigator: Hook invoked when a forced logout must return to login
//
// # Usage
//
//	mgr := session.NewManager(session.ConfigFrom(cfg), store).
//	    WithLogger(logger).
//	    WithNavigator(nav)
//	mgr.Start()
//	defer mgr.Stop()
//
//	req, _ := session.NewJSONRequest(http.MethodGet, "/conversations/c1", nil)
//	resp, err := mgr.Do(ctx, req)
//
// # Failure Semantics
//
// Only a refresh triggered by a failed request can end the session. The
// proactive loop swallows its own failures.
package session
