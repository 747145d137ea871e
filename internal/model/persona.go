// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// Persona is a selectable AI counterpart with its own chat context.
type Persona struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Intro       string `json:"intro,omitempty"`
}

// DisplayName returns the persona name, falling back to its id.
func (p Persona) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// UserProfile is the signed-in user as persisted alongside the session tokens.
type UserProfile struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}
