// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kvstore

import (
	"encoding/json"
	"fmt"

	"github.com/jeranaias/personachat/internal/model"
)

// Typed wraps a Store with accessors for the session keys.
type Typed struct {
	store Store
}

// NewTyped wraps store.
func NewTyped(store Store) *Typed {
	return &Typed{store: store}
}

// Store returns the underlying store.
func (t *Typed) Store() Store {
	return t.store
}

func (t *Typed) get(key string) (string, error) {
	v, _, err := t.store.Get(key)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return v, nil
}

// setOrRemove stores value, or removes the key when value is empty.
func (t *Typed) setOrRemove(key, value string) error {
	if value == "" {
		return t.store.Remove(key)
	}
	return t.store.Set(key, value)
}

// AccessToken returns the stored access token, or "".
func (t *Typed) AccessToken() (string, error) {
	return t.get(KeyAccessToken)
}

// RefreshToken returns the stored refresh token, or "".
func (t *Typed) RefreshToken() (string, error) {
	return t.get(KeyRefreshToken)
}

// SetTokens stores a new access token. An empty refresh token keeps the
// existing one, since the refresh endpoint only sometimes rotates it.
func (t *Typed) SetTokens(access, refresh string) error {
	if err := t.store.Set(KeyAccessToken, access); err != nil {
		return fmt.Errorf("write %s: %w", KeyAccessToken, err)
	}
	if refresh != "" {
		if err := t.store.Set(KeyRefreshToken, refresh); err != nil {
			return fmt.Errorf("write %s: %w", KeyRefreshToken, err)
		}
	}
	return nil
}

// User returns the stored profile, or nil when none is stored.
func (t *Typed) User() (*model.UserProfile, error) {
	raw, err := t.get(KeyUser)
	if err != nil || raw == "" {
		return nil, err
	}
	var u model.UserProfile
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyUser, err)
	}
	return &u, nil
}

// SetUser stores the profile. A nil profile removes it.
func (t *Typed) SetUser(u *model.UserProfile) error {
	if u == nil {
		return t.store.Remove(KeyUser)
	}
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode %s: %w", KeyUser, err)
	}
	return t.store.Set(KeyUser, string(data))
}

// WorkspaceID returns the selected workspace id, or "".
func (t *Typed) WorkspaceID() (string, error) {
	return t.get(KeyWorkspaceID)
}

// Workspace returns the selected workspace id and name.
func (t *Typed) Workspace() (id, name string, err error) {
	if id, err = t.get(KeyWorkspaceID); err != nil {
		return "", "", err
	}
	if name, err = t.get(KeyWorkspaceName); err != nil {
		return "", "", err
	}
	return id, name, nil
}

// SetWorkspace selects a workspace. An empty id clears the selection.
func (t *Typed) SetWorkspace(id, name string) error {
	if id == "" {
		name = ""
	}
	if err := t.setOrRemove(KeyWorkspaceID, id); err != nil {
		return err
	}
	return t.setOrRemove(KeyWorkspaceName, name)
}

// Clear removes every stored session value.
func (t *Typed) Clear() error {
	return t.store.Clear()
}
