// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fakeapi

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jeranaias/personachat/internal/model"
)

const localUserID = "user_id"

type loginBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTPCode string `json:"totpCode"`
}

type refreshBody struct {
	RefreshToken string `json:"refreshToken"`
}

type userWire struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// =============================================================================
// TOKENS
// =============================================================================

// mintAccess signs a short-lived access token for userID.
func (s *Server) mintAccess(userID string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(s.opts.AccessTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// mintRefresh issues an opaque refresh token for userID.
func (s *Server) mintRefresh(userID string) string {
	token := "rt_" + uuid.NewString()
	s.refreshTokens.Set(token, userID, gocache.DefaultExpiration)
	return token
}

func (s *Server) parseAccess(token string) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("token has no subject")
	}
	return sub, nil
}

// requireAuth rejects requests without a valid bearer token and stores the
// caller's user id in the request locals.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		s.count.unauthorized.Add(1)
		return fail(c, fiber.StatusUnauthorized, "missing token")
	}

	userID, err := s.parseAccess(token)
	if err == nil {
		s.mu.Lock()
		if s.revoked[userID] {
			err = errors.New("token revoked")
		}
		s.mu.Unlock()
	}
	if err != nil {
		s.count.unauthorized.Add(1)
		if s.opts.ExpiredAs500 {
			return fail(c, fiber.StatusInternalServerError, "jwt expired or invalid token")
		}
		return fail(c, fiber.StatusUnauthorized, "invalid token")
	}

	c.Locals(localUserID, userID)
	return c.Next()
}

func callerID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

// =============================================================================
// HANDLERS
// =============================================================================

func (s *Server) login(c *fiber.Ctx) error {
	s.count.logins.Add(1)

	var body loginBody
	if err := c.BodyParser(&body); err != nil {
		return fail(c, fiber.StatusBadRequest, "malformed body")
	}

	s.mu.Lock()
	acct, ok := s.users[strings.ToLower(strings.TrimSpace(body.Email))]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(acct.hash, []byte(body.Password)) != nil {
		return fail(c, fiber.StatusUnauthorized, "invalid credentials")
	}
	if acct.TOTPSecret != "" && !totp.Validate(body.TOTPCode, acct.TOTPSecret) {
		return fail(c, fiber.StatusUnauthorized, "invalid one-time code")
	}

	s.mu.Lock()
	delete(s.revoked, acct.ID)
	s.mu.Unlock()
	return s.issue(c, acct.ID, &userWire{ID: acct.ID, Email: acct.Email, Name: acct.Name})
}

func (s *Server) refresh(c *fiber.Ctx) error {
	s.count.refreshes.Add(1)

	var body refreshBody
	if err := c.BodyParser(&body); err != nil || body.RefreshToken == "" {
		return fail(c, fiber.StatusBadRequest, "refresh token required")
	}
	v, ok := s.refreshTokens.Get(body.RefreshToken)
	if !ok {
		return fail(c, fiber.StatusUnauthorized, "refresh token invalid")
	}
	s.refreshTokens.Delete(body.RefreshToken)
	userID := v.(string)

	s.mu.Lock()
	delete(s.revoked, userID)
	s.mu.Unlock()
	return s.issue(c, userID, nil)
}

func (s *Server) issue(c *fiber.Ctx, userID string, user *userWire) error {
	access, err := s.mintAccess(userID)
	if err != nil {
		return err
	}
	out := fiber.Map{
		"accessToken":  access,
		"refreshToken": s.mintRefresh(userID),
	}
	if user != nil {
		out["user"] = user
	}
	s.logger.Debug("tokens issued", zap.String("user_id", userID))
	return c.JSON(out)
}

func (s *Server) logout(c *fiber.Ctx) error {
	s.count.logouts.Add(1)
	var body refreshBody
	if err := c.BodyParser(&body); err == nil && body.RefreshToken != "" {
		s.refreshTokens.Delete(body.RefreshToken)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// =============================================================================
// PERSONAS
// =============================================================================

func (s *Server) listPersonas(c *fiber.Ctx) error {
	s.mu.Lock()
	out := make([]model.Persona, 0, len(s.opts.Personas))
	for _, p := range s.opts.Personas {
		out = append(out, s.personas[p.ID])
	}
	s.mu.Unlock()
	return c.JSON(out)
}

func (s *Server) getPersona(c *fiber.Ctx) error {
	s.mu.Lock()
	p, ok := s.personas[c.Params("id")]
	s.mu.Unlock()
	if !ok {
		return fail(c, fiber.StatusNotFound, "persona not found")
	}
	return c.JSON(p)
}
