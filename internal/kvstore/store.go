// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kvstore

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jeranaias/personachat/internal/config"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is a persistent string key/value store.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)

	// Set stores value under key.
	Set(key, value string) error

	// Remove deletes key. Removing a missing key is not an error.
	Remove(key string) error

	// Clear deletes every key.
	Clear() error

	// Close releases any underlying resources.
	Close() error
}

// Well-known keys.
const (
	KeyAccessToken   = "access_token"
	KeyRefreshToken  = "refresh_token"
	KeyUser          = "user"
	KeyWorkspaceID   = "workspace_id"
	KeyWorkspaceName = "workspace_name"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")

	// ErrSealed is returned when a sealed file store is opened without a passphrase.
	ErrSealed = errors.New("store is sealed: passphrase required")

	// ErrBadPassphrase is returned when sealed values cannot be decrypted.
	ErrBadPassphrase = errors.New("store passphrase is incorrect")
)

// =============================================================================
// FACTORY
// =============================================================================

// Open creates the backend selected by cfg.
func Open(cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryStore(), nil
	case config.BackendFile, "":
		path, err := cfg.StorePath()
		if err != nil {
			return nil, err
		}
		return NewFileStore(path, cfg.Passphrase, logger)
	case config.BackendSQLite:
		path, err := cfg.StorePath()
		if err != nil {
			return nil, err
		}
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
