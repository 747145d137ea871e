// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the zap logger used across personachat.
//
// Logs go to a rotated JSON file and, optionally, to stderr in console
// format. Stdout belongs to the chat REPL and is never written to.
//
// # Key Functions
//
//   - New: Build a *zap.Logger from config.LogConfig
//   - Token: zap field that records a token fingerprint, never the token
//
// # Usage
//
//	logger, err := logging.New(cfg.Log)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//	logger.Info("refreshed", logging.Token("access", tok))
package logging
