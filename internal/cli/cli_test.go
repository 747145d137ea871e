// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/personachat/internal/api"
	"github.com/jeranaias/personachat/internal/config"
	"github.com/jeranaias/personachat/internal/conversation"
	"github.com/jeranaias/personachat/internal/kvstore"
	"github.com/jeranaias/personachat/internal/model"
	"github.com/jeranaias/personachat/internal/session"
	"github.com/jeranaias/personachat/internal/upload"
)

// =============================================================================
// ARG PARSER TESTS (args.go)
// =============================================================================

func TestArgParser_BasicParsing(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantSub  string
		validate func(*testing.T, *ArgParser)
	}{
		{
			name:    "simple subcommand",
			args:    []string{"show"},
			wantSub: "show",
		},
		{
			name:    "flag with separate value",
			args:    []string{"chat", "--persona", "ada"},
			wantSub: "chat",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, "ada", p.Flag("persona"))
				assert.Equal(t, "ada", p.Flag("--persona"))
			},
		},
		{
			name:    "flag with equals",
			args:    []string{"chat", "--conversation=c-1"},
			wantSub: "chat",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, "c-1", p.Flag("conversation"))
			},
		},
		{
			name:    "boolean flag",
			args:    []string{"status", "--json"},
			wantSub: "status",
			validate: func(t *testing.T, p *ArgParser) {
				assert.True(t, p.BoolFlag("json"))
				assert.True(t, p.HasFlag("json"))
			},
		},
		{
			name:    "explicit false",
			args:    []string{"status", "--json=false"},
			wantSub: "status",
			validate: func(t *testing.T, p *ArgParser) {
				assert.False(t, p.BoolFlag("json"))
				assert.True(t, p.HasFlag("json"))
			},
		},
		{
			name:    "double dash ends flags",
			args:    []string{"config", "set", "--", "--not-a-flag"},
			wantSub: "config",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, []string{"config", "set", "--not-a-flag"}, p.PositionalFrom(0))
				assert.False(t, p.HasFlag("not-a-flag"))
			},
		},
		{
			name:    "no arguments",
			args:    []string{},
			wantSub: "",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, 0, p.PositionalCount())
				assert.Empty(t, p.PositionalFrom(0))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewArgParser(tt.args)
			assert.Equal(t, tt.wantSub, p.Subcommand())
			assert.Equal(t, tt.args, p.Raw())
			if tt.validate != nil {
				tt.validate(t, p)
			}
		})
	}
}

func TestArgParser_FirstFlagAndDefaults(t *testing.T) {
	p := NewArgParser([]string{"login", "-e", "a@b.c", "--retries", "3"})

	assert.Equal(t, "a@b.c", p.FirstFlag("email", "e"))
	assert.Equal(t, "", p.FirstFlag("password", "p"))
	assert.Equal(t, "fallback", p.FlagOrDefault("password", "fallback"))

	n, err := p.FlagInt("retries")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	_, err = p.FlagInt("missing")
	assert.Error(t, err)
}

func TestArgParser_BoolFlagFollowedByPositional(t *testing.T) {
	// Without a switch declaration "--new ada" parses as a string flag; the
	// switch is still on.
	p := NewArgParser([]string{"chat", "--new", "ada"})
	assert.True(t, p.BoolFlag("new", "n"))
	assert.False(t, p.BoolFlag("json"))
	assert.Equal(t, "", p.Positional(1))

	p = NewArgParser([]string{"chat", "--new", "ada", "-n"}, "new", "n")
	assert.True(t, p.BoolFlag("new"))
	assert.True(t, p.BoolFlag("n"))
	assert.Equal(t, "ada", p.Positional(1))
	assert.Equal(t, "", p.Flag("new"))
}

func TestParseGlobalFlags(t *testing.T) {
	rest, args := parseGlobalFlags([]string{
		"--json", "-v", "chat", "--config=/tmp/a.toml", "--ephemeral=false", "--persona", "ada", "--", "--json",
	})

	assert.True(t, args.JSON)
	assert.True(t, args.Verbose)
	assert.False(t, args.Ephemeral)
	assert.Equal(t, "/tmp/a.toml", args.ConfigPath)
	assert.Equal(t, []string{"chat", "--persona", "ada", "--", "--json"}, rest)
}

func TestArgParser_Positional(t *testing.T) {
	p := NewArgParser([]string{"workspace", "w1", "Team", "Alpha"})

	assert.Equal(t, "w1", p.Positional(1))
	assert.Equal(t, "", p.Positional(9))
	assert.Equal(t, "", p.Positional(-1))
	assert.Equal(t, "Team Alpha", JoinPositionalArgs(p, 2))
}

func TestParseBoolString(t *testing.T) {
	for _, in := range []string{"true", "YES", "y", "1", "on"} {
		v, err := ParseBoolString(in)
		require.NoError(t, err, in)
		assert.True(t, v, in)
	}
	for _, in := range []string{"false", "No", "n", "0", " off "} {
		v, err := ParseBoolString(in)
		require.NoError(t, err, in)
		assert.False(t, v, in)
	}
	_, err := ParseBoolString("maybe")
	assert.Error(t, err)
}

// =============================================================================
// COMMAND PARSING TESTS (cli.go)
// =============================================================================

func TestParse_Commands(t *testing.T) {
	tests := []struct {
		name     string
		argv     []string
		wantCmd  Command
		validate func(*testing.T, Args)
	}{
		{name: "no arguments shows help", argv: nil, wantCmd: CmdHelp},
		{name: "help flag", argv: []string{"--help"}, wantCmd: CmdHelp},
		{name: "version flag", argv: []string{"--version"}, wantCmd: CmdVersion},
		{name: "version", argv: []string{"version", "--json"}, wantCmd: CmdVersion,
			validate: func(t *testing.T, a Args) { assert.True(t, a.JSON) }},
		{
			name:    "login with flags",
			argv:    []string{"login", "--email", "demo@example.com", "-p", "demo", "--totp", "123456"},
			wantCmd: CmdLogin,
			validate: func(t *testing.T, a Args) {
				assert.Equal(t, "demo@example.com", a.Email)
				assert.Equal(t, "demo", a.Password)
				assert.Equal(t, "123456", a.TOTPCode)
			},
		},
		{
			name:    "login with positional email",
			argv:    []string{"login", "demo@example.com"},
			wantCmd: CmdLogin,
			validate: func(t *testing.T, a Args) {
				assert.Equal(t, "demo@example.com", a.Email)
			},
		},
		{name: "logout", argv: []string{"logout"}, wantCmd: CmdLogout},
		{name: "status alias", argv: []string{"whoami"}, wantCmd: CmdStatus},
		{
			name:    "chat with conversation",
			argv:    []string{"chat", "--persona", "ada", "--conversation", "c-42"},
			wantCmd: CmdChat,
			validate: func(t *testing.T, a Args) {
				assert.Equal(t, "ada", a.PersonaID)
				assert.Equal(t, "c-42", a.ConversationID)
				assert.False(t, a.New)
			},
		},
		{
			name:    "chat new drops conversation",
			argv:    []string{"chat", "ada", "-c", "c-42", "--new"},
			wantCmd: CmdChat,
			validate: func(t *testing.T, a Args) {
				assert.Equal(t, "ada", a.PersonaID)
				assert.Empty(t, a.ConversationID)
				assert.True(t, a.New)
			},
		},
		{
			name:    "workspace select",
			argv:    []string{"ws", "w1", "Team", "Alpha"},
			wantCmd: CmdWorkspace,
			validate: func(t *testing.T, a Args) {
				assert.Equal(t, "w1", a.WorkspaceID)
				assert.Equal(t, "Team Alpha", a.WorkspaceName)
			},
		},
		{
			name:    "workspace clear",
			argv:    []string{"workspace", "--clear"},
			wantCmd: CmdWorkspace,
			validate: func(t *testing.T, a Args) {
				assert.True(t, a.ClearWorkspace)
				assert.Empty(t, a.WorkspaceID)
			},
		},
		{
			name:    "config defaults to show",
			argv:    []string{"config"},
			wantCmd: CmdConfig,
			validate: func(t *testing.T, a Args) {
				assert.Equal(t, "show", a.Subcommand)
			},
		},
		{
			name:    "config set",
			argv:    []string{"config", "set", "chat.allowed_mime_types", "image/png,", "text/plain"},
			wantCmd: CmdConfig,
			validate: func(t *testing.T, a Args) {
				assert.Equal(t, "set", a.Subcommand)
				assert.Equal(t, "chat.allowed_mime_types", a.ConfigKey)
				assert.Equal(t, "image/png, text/plain", a.ConfigVal)
			},
		},
		{
			name:    "mock server default address",
			argv:    []string{"mock-server"},
			wantCmd: CmdMockServer,
			validate: func(t *testing.T, a Args) {
				assert.Equal(t, "127.0.0.1:8787", a.Addr)
			},
		},
		{
			name:    "json before the command",
			argv:    []string{"--json", "status"},
			wantCmd: CmdStatus,
			validate: func(t *testing.T, a Args) {
				assert.True(t, a.JSON)
				assert.Empty(t, a.Raw)
			},
		},
		{
			name:    "verbose before the command",
			argv:    []string{"-v", "chat", "--persona", "ada"},
			wantCmd: CmdChat,
			validate: func(t *testing.T, a Args) {
				assert.True(t, a.Verbose)
				assert.Equal(t, "ada", a.PersonaID)
			},
		},
		{
			name:    "new does not swallow the persona",
			argv:    []string{"chat", "--new", "ada"},
			wantCmd: CmdChat,
			validate: func(t *testing.T, a Args) {
				assert.Equal(t, "ada", a.PersonaID)
				assert.True(t, a.New)
			},
		},
		{
			name:    "config path with equals",
			argv:    []string{"--config=/tmp/p.toml", "workspace", "--clear", "w1"},
			wantCmd: CmdWorkspace,
			validate: func(t *testing.T, a Args) {
				assert.Equal(t, "/tmp/p.toml", a.ConfigPath)
				assert.True(t, a.ClearWorkspace)
				assert.Equal(t, "w1", a.WorkspaceID)
			},
		},
		{
			name:    "global flags before the command",
			argv:    []string{"--config", "/tmp/p.toml", "status", "--verbose", "--ephemeral"},
			wantCmd: CmdStatus,
			validate: func(t *testing.T, a Args) {
				assert.Equal(t, "/tmp/p.toml", a.ConfigPath)
				assert.True(t, a.Verbose)
				assert.True(t, a.Ephemeral)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, args, err := Parse(tt.argv)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCmd, cmd, "got %s", cmd)
			if tt.validate != nil {
				tt.validate(t, args)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		argv []string
	}{
		{"unknown command", []string{"frobnicate"}},
		{"unknown config subcommand", []string{"config", "reset"}},
		{"config get without key", []string{"config", "get"}},
		{"config set without value", []string{"config", "set", "log.level"}},
		{"malformed conversation id", []string{"chat", "--persona", "ada", "--conversation", "../etc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse(tt.argv)
			require.Error(t, err)
			var ve *ValidationError
			assert.ErrorAs(t, err, &ve)
			assert.Equal(t, ExitUsageError, GetExitCode(err))
		})
	}
}

func TestCommand_String(t *testing.T) {
	assert.Equal(t, "mock-server", CmdMockServer.String())
	assert.Equal(t, "Command(99)", Command(99).String())
	assert.True(t, CmdChat.NeedsSession())
	assert.False(t, CmdConfig.NeedsSession())
}

// =============================================================================
// ERROR MAPPING TESTS (errors.go)
// =============================================================================

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return false }

var _ net.Error = timeoutNetError{}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitGeneralError},
		{"usage", ErrMissingArgument("persona", ""), ExitUsageError},
		{"upload rejected", &upload.ValidationError{Filename: "a.exe", Reason: "type"}, ExitUsageError},
		{"config", fmt.Errorf("load: %w", config.ValidateErrors{{Field: "log.level", Message: "bad"}}), ExitConfigError},
		{"sealed store", fmt.Errorf("open: %w", kvstore.ErrBadPassphrase), ExitConfigError},
		{"auth", &session.AuthError{Reason: session.ReasonRefreshRejected}, ExitAuthError},
		{"not signed in", session.ErrNotAuthenticated, ExitAuthError},
		{"session expired", ErrSessionExpired, ExitAuthError},
		{"restore timeout", &conversation.RestoreTimeout{ConversationID: "c1", After: time.Second}, ExitTimeoutError},
		{"not found", &api.RequestError{Status: 404}, ExitNotFoundError},
		{"forbidden", &api.RequestError{Status: 403}, ExitAuthError},
		{"conflict", &api.RequestError{Status: 409}, ExitGeneralError},
		{"refresh unreachable", fmt.Errorf("x: %w", session.ErrRefreshUnavailable), ExitNetworkError},
		{"net error", &net.OpError{Op: "dial", Err: timeoutNetError{}}, ExitNetworkError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestDisplayError(t *testing.T) {
	var b strings.Builder
	DisplayError(&b, session.ErrNotAuthenticated, false)
	assert.Contains(t, stripANSI(b.String()), "[ERROR] not authenticated")
	assert.Contains(t, b.String(), "personachat login")

	b.Reset()
	DisplayError(&b, &api.RequestError{Status: 404, Message: "conversation not found"}, true)
	assert.Contains(t, b.String(), `"error_type": "request_error"`)
	assert.Contains(t, b.String(), `"status": 404`)
	assert.Contains(t, b.String(), `"exit_code": 7`)

	b.Reset()
	DisplayError(&b, nil, false)
	assert.Empty(t, b.String())
}

// =============================================================================
// RENDERING TESTS (terminal.go, render.go)
// =============================================================================

func TestWrapText(t *testing.T) {
	assert.Equal(t, "short", WrapText("short", 20))
	assert.Equal(t, "one two\nthree", WrapText("one two three", 8))
	assert.Equal(t, "keep\n\nlines", WrapText("keep\n\nlines", 20))
	// Wide runes take two cells each.
	assert.Equal(t, "日本\n語", WrapText("日本 語", 5))
}

func TestColorProfile(t *testing.T) {
	ForceColorsEnabled(false)
	assert.Equal(t, termenv.Ascii, GetColorProfile())
	assert.Equal(t, "[OK]", stripANSI(RenderStatus("ok")))
	assert.Equal(t, "[NONE]", stripANSI(RenderStatus("none")))
	assert.Equal(t, strings.Repeat("─", 5), stripANSI(RenderSeparator(5)))
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "45s", formatDuration(45*time.Second))
	assert.Equal(t, "12m", formatDuration(12*time.Minute))
	assert.Equal(t, "3h", formatDuration(3*time.Hour))
	assert.Equal(t, "2d", formatDuration(49*time.Hour))
	assert.Equal(t, "72 bytes", formatBytes(72))
	assert.Equal(t, "1.50 KB", formatBytes(1536))
	assert.Equal(t, "10.00 MB", formatBytes(10*1024*1024))
}

func TestReactionLine(t *testing.T) {
	assert.Equal(t, "", reactionLine(nil, "u1"))
	assert.Equal(t, "1 like (you: like)", reactionLine([]model.Reaction{{Type: model.ReactionLike, UserID: "u1"}}, "u1"))
	assert.Equal(t, "2 likes, 1 dislike (you: dislike)", reactionLine([]model.Reaction{
		{Type: model.ReactionLike, UserID: "u2"},
		{Type: model.ReactionLike, UserID: "u3"},
		{Type: model.ReactionDislike, UserID: "u1"},
	}, "u1"))
	assert.Equal(t, "1 like", reactionLine([]model.Reaction{{Type: model.ReactionLike, UserID: "u2"}}, "u1"))
}

func TestRenderer_Message(t *testing.T) {
	r := newRenderer(80, false)
	ada := model.Persona{ID: "ada", Name: "Ada"}

	reply := model.NewAssistantMessage("a1", "Hello there")
	reply.Reactions = []model.Reaction{{Type: model.ReactionLike, UserID: "u1"}}
	out := r.message(2, reply, ada, "u1")
	assert.Contains(t, out, "[2]")
	assert.Contains(t, out, "Ada")
	assert.Contains(t, out, "Hello there")
	assert.Contains(t, out, "1 like (you: like)")

	mine := model.Message{ID: "m1", Sender: model.SenderUser, Text: "Hi", Edited: true,
		Attachments: []model.Attachment{{Filename: "pixel.png", MimeType: "image/png", SizeBytes: 72}}}
	out = r.message(1, mine, ada, "u1")
	assert.Contains(t, out, "You")
	assert.Contains(t, out, "(edited)")
	assert.Contains(t, out, "attachment: pixel.png (image/png, 72 bytes)")

	assert.Contains(t, r.message(3, model.NewUserMessage("x", "u1"), ada, "u1"), "(sending)")
	assert.Equal(t, "Ada is typing...", stripANSI(r.message(4, model.NewTypingPlaceholder(), ada, "u1")))
}

func TestRenderer_HeaderAndIntro(t *testing.T) {
	r := newRenderer(80, false)
	archived := time.Now().Add(-2 * time.Hour)
	out := r.header(conversation.Snapshot{
		Persona:        model.Persona{ID: "ada", Name: "Ada", Description: "Patient tutor"},
		ConversationID: "c1",
		Title:          "Greetings\nand more",
		ArchivedAt:     &archived,
	})
	assert.Contains(t, out, "Chatting with Ada")
	assert.Contains(t, out, "Patient tutor")
	assert.Contains(t, out, "Greetings and more")
	assert.Contains(t, out, "Archived 2h ago")

	assert.Contains(t, r.intro(model.Persona{ID: "ada", Intro: "Hi, I'm Ada."}), "Hi, I'm Ada.")
	assert.Contains(t, r.intro(model.Persona{ID: "sage"}), "Say hello to sage.")
}

// =============================================================================
// MESSAGE REFERENCE TESTS (chat.go)
// =============================================================================

func TestSplitIndex(t *testing.T) {
	tests := []struct {
		in       string
		wantN    int
		wantRest string
	}{
		{"3 new text", 3, "new text"},
		{"4", 4, ""},
		{"new text", 0, "new text"},
		{"0 text", 0, "0 text"},
		{"-1 text", 0, "-1 text"},
		{"", 0, ""},
	}
	for _, tt := range tests {
		n, rest := splitIndex(tt.in)
		assert.Equal(t, tt.wantN, n, tt.in)
		assert.Equal(t, tt.wantRest, rest, tt.in)
	}
}

func TestMessageLookup(t *testing.T) {
	snap := conversation.Snapshot{Messages: []model.Message{
		{ID: "m1", Sender: model.SenderUser, Text: "Hi"},
		{ID: "a1", Sender: model.SenderAssistant, Text: "Hello"},
		model.NewErrorMessage("Sorry"),
	}}

	m, err := messageAt(snap, 2)
	require.NoError(t, err)
	assert.Equal(t, "a1", m.ID)
	_, err = messageAt(snap, 4)
	assert.Error(t, err)

	last, ok := lastMessage(snap, model.SenderAssistant)
	require.True(t, ok)
	assert.Equal(t, "a1", last.ID, "error bubbles are skipped")

	_, ok = lastMessage(conversation.Snapshot{}, model.SenderUser)
	assert.False(t, ok)
}

func TestSendResult(t *testing.T) {
	assert.NoError(t, sendResult(nil))
	assert.NoError(t, sendResult(&api.RequestError{Status: 500}), "shown as an error bubble")
	assert.ErrorIs(t, sendResult(conversation.ErrArchived), conversation.ErrArchived)
	assert.ErrorIs(t, sendResult(upload.ErrNoConversation), upload.ErrNoConversation)
	assert.NoError(t, sendResult(conversation.ErrSuperseded), "late reply for a screen already left")
	assert.True(t, session.IsAuthError(sendResult(&session.AuthError{Reason: session.ReasonNoRefreshToken})))
}

// =============================================================================
// HELPERS
// =============================================================================

// scriptedReader feeds fixed lines to the shell and then reports end of input.
type scriptedReader struct {
	lines   []string
	prompts []string
	closed  bool

	// before runs ahead of the matching line, keyed by line index.
	before map[int]func()
	n      int
}

func (r *scriptedReader) Prompt(prompt string) (string, error) {
	r.prompts = append(r.prompts, prompt)
	if r.n >= len(r.lines) {
		return "", io.EOF
	}
	if fn := r.before[r.n]; fn != nil {
		fn()
	}
	line := r.lines[r.n]
	r.n++
	return line, nil
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}
