// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package fakeapi is an in-process implementation of the chat backend
// contract, used by end-to-end tests and the mock-server command.
//
// State lives in memory and is lost on shutdown. Access tokens are HS256 JWTs
// signed with a per-server secret; refresh tokens are opaque and rotate on
// every use. Presigned upload URLs point back at the same server.
package fakeapi
