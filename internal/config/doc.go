// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for personachat.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// .env loading, environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - APIConfig: Backend base URL, request timeout, client rate limit
//   - AuthConfig: Proactive refresh cadence, refresh timeout, TOTP secret
//   - StoreConfig: Session store backend (memory, file, sqlite) and sealing passphrase
//   - ChatConfig: Restore watchdog and upload limits
//   - LogConfig: Level and rotation of the zap log file
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (PERSONACHAT_*), including those from ./.env
//   - ~/.personachat/config.toml
//   - ~/.personachat/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	interval := cfg.Auth.RefreshInterval.Duration
package config
