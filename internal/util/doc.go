// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the personachat packages.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync, used by the file store
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth, StringWidth, PadRight: terminal-width aware layout
//   - SingleLine: collapse whitespace for one-line previews
//
// Secrets:
//   - Fingerprint: short SHA-256 tag for logging tokens without leaking them
//
// # Usage
//
//	err := util.AtomicWriteFile(path, data, 0600)
//	logger.Info("refreshed", zap.String("token", util.Fingerprint(tok)))
package util
