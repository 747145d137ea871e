// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides typed wrappers for the persona-chat backend endpoints.
//
// Every call goes through an authenticated Doer (normally *session.Manager),
// so token refresh and the single retry happen below this layer. Responses are
// decoded into explicit wire schemas, validated at the boundary, and mapped
// into the model package. Legacy fields collapse into one canonical field.
//
// # Errors
//
//   - RequestError: the backend answered with a non-2xx status
//   - ErrInvalidResponse: the body did not match the expected schema
//
// # Usage
//
//	client := api.New(manager)
//	reply, err := client.Chat(ctx, "persona-1", api.ChatRequest{Message: "Hello"})
package api
