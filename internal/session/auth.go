// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/jeranaias/personachat/internal/logging"
	"github.com/jeranaias/personachat/internal/model"
)

// =============================================================================
// LOGIN / LOGOUT
// =============================================================================

// Credentials are the inputs to Login.
type Credentials struct {
	Email    string
	Password string

	// TOTPCode is sent as-is when set. Otherwise a code is generated from the
	// configured TOTP secret, if any.
	TOTPCode string
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTPCode string `json:"totpCode,omitempty"`
}

type loginResponse struct {
	AccessToken  string             `json:"accessToken" validate:"required"`
	RefreshToken string             `json:"refreshToken" validate:"required"`
	User         *model.UserProfile `json:"user" validate:"required"`
}

// Login authenticates with email and password and stores the new session.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*model.UserProfile, error) {
	code := creds.TOTPCode
	if code == "" && m.cfg.TOTPSecret != "" {
		generated, err := totp.GenerateCode(m.cfg.TOTPSecret, time.Now())
		if err != nil {
			return nil, fmt.Errorf("generate TOTP code: %w", err)
		}
		code = generated
	}

	var out loginResponse
	status, err := m.postJSON(ctx, "/auth/login", loginRequest{
		Email:    creds.Email,
		Password: creds.Password,
		TOTPCode: code,
	}, "", &out)
	if err != nil {
		if status == 0 {
			return nil, err
		}
		return nil, &AuthError{Reason: ReasonLoginRejected, Status: status, Err: err}
	}
	if err := m.validate.Struct(out); err != nil {
		return nil, &AuthError{Reason: ReasonInvalidResponse, Status: status, Err: err}
	}

	if err := m.AdoptTokens(out.AccessToken, out.RefreshToken, out.User); err != nil {
		return nil, err
	}
	m.logger.Info("logged in", zap.String("user_id", out.User.ID), logging.Token("access", out.AccessToken))
	return out.User, nil
}

// AdoptTokens stores tokens obtained elsewhere, such as an OAuth callback.
func (m *Manager) AdoptTokens(access, refresh string, user *model.UserProfile) error {
	if access == "" {
		return &AuthError{Reason: ReasonInvalidResponse, Err: fmt.Errorf("empty access token")}
	}
	if err := m.tokens.SetTokens(access, refresh); err != nil {
		return err
	}
	if user != nil {
		if err := m.tokens.SetUser(user); err != nil {
			return err
		}
	}
	return nil
}

// Logout tells the backend to revoke the refresh token, then clears the local
// session and stops the refresh loop. The server call is best-effort.
func (m *Manager) Logout(ctx context.Context) error {
	access, _ := m.tokens.AccessToken()
	refresh, _ := m.tokens.RefreshToken()

	if refresh != "" {
		if _, err := m.postJSON(ctx, "/auth/logout", refreshRequest{RefreshToken: refresh}, access, nil); err != nil {
			m.logger.Info("server logout failed", zap.Error(err))
		}
	}

	m.Stop()
	if err := m.tokens.Clear(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
