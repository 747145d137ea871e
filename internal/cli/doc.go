// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and execution for personachat.
//
// # Key Types
//
//   - Command: Enumeration of the available commands
//   - Args: Parsed arguments with global and command-specific flags
//   - App: Configuration, logger, session store and manager shared by commands
//   - ChatCLI: liner-backed line reader with persistent history
//
// # Usage
//
//	os.Exit(cli.Main(os.Args[1:]))
//
// # Commands Overview
//
//   - login, logout, status: session lifecycle
//   - chat: interactive chat with one persona
//   - workspace: select the workspace sent with every request
//   - config: show, get or set configuration values
//   - mock-server: local fake backend for development
//
// A forced logout during any command prints "session expired, please log in"
// and exits with the auth exit code.
package cli
