// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package fakeapi

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/jeranaias/personachat/internal/logging"
	"github.com/jeranaias/personachat/internal/model"
)

// =============================================================================
// OPTIONS
// =============================================================================

// User is an account the fake backend accepts.
type User struct {
	ID         string
	Email      string
	Password   string
	Name       string
	TOTPSecret string // base32; when set, login requires a valid code
}

// ReplyFunc produces the assistant reply to a user message.
type ReplyFunc func(p model.Persona, message string) string

// Options configures a Server.
type Options struct {
	Users    []User
	Personas []model.Persona

	// AccessTTL is the access token lifetime (default: 15 minutes).
	AccessTTL time.Duration

	// RefreshTTL is the refresh token lifetime (default: 7 days).
	RefreshTTL time.Duration

	// ExpiredAs500 reports a bad access token as a 500 with a token message
	// instead of a 401, as some deployed backends do.
	ExpiredAs500 bool

	// Reply generates assistant replies (default: an echo).
	Reply ReplyFunc

	Logger *zap.Logger
}

// DefaultOptions returns options with one demo user and two personas.
func DefaultOptions() Options {
	return Options{
		Users: []User{
			{ID: "u1", Email: "demo@example.com", Password: "demo", Name: "Demo User"},
		},
		Personas: []model.Persona{
			{ID: "ada", Name: "Ada", Description: "Patient tutor", Intro: "Hi, I'm Ada. Ask me anything about programming."},
			{ID: "sage", Name: "Sage", Description: "Calm listener", Intro: "Hello. I'm Sage. What's on your mind?"},
		},
	}
}

// Stats counts handled requests per endpoint.
type Stats struct {
	Logins        int64
	Refreshes     int64
	Logouts       int64
	Chats         int64
	Edits         int64
	Conversations int64
	Updates       int64
	FileUploads   int64
	Puts          int64
	Reactions     int64
	Unauthorized  int64
}

type counters struct {
	logins, refreshes, logouts, chats, edits, conversations,
	updates, fileUploads, puts, reactions, unauthorized atomic.Int64
}

// =============================================================================
// SERVER
// =============================================================================

// Server is the fake backend.
type Server struct {
	app    *fiber.App
	opts   Options
	secret []byte
	logger *zap.Logger
	count  counters

	// refresh tokens map to user ids and expire on their own
	refreshTokens *gocache.Cache

	mu            sync.Mutex
	users         map[string]*account // by email
	personas      map[string]model.Persona
	conversations map[string]*conversation
	messages      map[string]string // message id -> conversation id
	files         map[string]*file
	revoked       map[string]bool // user ids whose access tokens are rejected
}

type account struct {
	User
	hash []byte
}

// New creates a server. Passwords are hashed on the way in.
func New(opts Options) (*Server, error) {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 7 * 24 * time.Hour
	}
	if opts.Reply == nil {
		opts.Reply = echoReply
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	s := &Server{
		opts:          opts,
		secret:        secret,
		logger:        logging.OrNop(opts.Logger),
		refreshTokens: gocache.New(opts.RefreshTTL, time.Minute),
		users:         make(map[string]*account),
		personas:      make(map[string]model.Persona),
		conversations: make(map[string]*conversation),
		messages:      make(map[string]string),
		files:         make(map[string]*file),
		revoked:       make(map[string]bool),
	}
	for _, u := range opts.Users {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.MinCost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %s: %w", u.Email, err)
		}
		s.users[strings.ToLower(u.Email)] = &account{User: u, hash: hash}
	}
	for _, p := range opts.Personas {
		s.personas[p.ID] = p
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "personachat-fakeapi",
		DisableStartupMessage: true,
		Immutable:             true,
		UnescapePath:          true,
		BodyLimit:             10 * 1024 * 1024,
		ErrorHandler:          s.handleError,
	})
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	auth := s.app.Group("/auth")
	auth.Post("/login", s.login)
	auth.Post("/refresh", s.refresh)
	auth.Post("/logout", s.logout)

	// Presigned uploads carry their own signature instead of a bearer token.
	s.app.Put("/uploads/:id", s.putUpload)

	s.app.Get("/personas", s.requireAuth, s.listPersonas)
	s.app.Get("/personas/:id", s.requireAuth, s.getPersona)
	s.app.Post("/personas/:id/chat", s.requireAuth, s.chat)
	s.app.Patch("/messages/:id", s.requireAuth, s.editMessage)
	s.app.Post("/messages/:id/reactions", s.requireAuth, s.react)
	s.app.Get("/conversations/:id", s.requireAuth, s.getConversation)
	s.app.Patch("/conversations/:id", s.requireAuth, s.updateConversation)
	s.app.Post("/conversations/:id/files", s.requireAuth, s.createFile)
}

// App returns the underlying fiber app, for in-process tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on addr and serves in the background. It returns the base URL.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen on %s: %w", addr, err)
	}
	go func() {
		if err := s.app.Listener(ln); err != nil {
			s.logger.Warn("fake backend stopped", zap.Error(err))
		}
	}()
	url := "http://" + ln.Addr().String()
	s.logger.Info("fake backend listening", zap.String("url", url))
	return url, nil
}

// Shutdown stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// Stats returns the request counters.
func (s *Server) Stats() Stats {
	c := &s.count
	return Stats{
		Logins:        c.logins.Load(),
		Refreshes:     c.refreshes.Load(),
		Logouts:       c.logouts.Load(),
		Chats:         c.chats.Load(),
		Edits:         c.edits.Load(),
		Conversations: c.conversations.Load(),
		Updates:       c.updates.Load(),
		FileUploads:   c.fileUploads.Load(),
		Puts:          c.puts.Load(),
		Reactions:     c.reactions.Load(),
		Unauthorized:  c.unauthorized.Load(),
	}
}

// RevokeAccess makes every outstanding access token of userID fail until the
// user refreshes or logs in again.
func (s *Server) RevokeAccess(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[userID] = true
}

// RevokeRefreshTokens drops every refresh token, so the next refresh fails.
func (s *Server) RevokeRefreshTokens() {
	s.refreshTokens.Flush()
}

// =============================================================================
// ERRORS
// =============================================================================

func errorBody(msg string) fiber.Map {
	return fiber.Map{"error": msg}
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(errorBody(msg))
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	s.logger.Debug("request failed", zap.String("path", c.Path()), zap.Int("status", status), zap.Error(err))
	return fail(c, status, err.Error())
}

func echoReply(p model.Persona, message string) string {
	return fmt.Sprintf("%s here. You said: %s", p.DisplayName(), message)
}
