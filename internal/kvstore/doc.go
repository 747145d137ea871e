// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package kvstore provides the persistent client-side key/value store that
// holds session tokens, the current user, and the selected workspace.
//
// The Store interface is deliberately narrow (get/set/remove/clear) so the
// session layer can run against an in-memory store under test.
//
// # Key Types
//
//   - Store: Narrow key/value interface implemented by every backend
//   - Typed: Accessors for the well-known session keys
//   - MemoryStore: go-cache backed, process-local
//   - FileStore: JSON document, atomic writes, optional AES-GCM sealing, fsnotify reload
//   - SQLiteStore: single kv table in a WAL-mode SQLite database
//
// # Usage
//
//	store, err := kvstore.Open(cfg.Store, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	typed := kvstore.NewTyped(store)
//	access, _ := typed.AccessToken()
package kvstore
