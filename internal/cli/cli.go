// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/jeranaias/personachat/internal/conversation"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command is the top-level command to execute.
type Command int

const (
	CmdHelp Command = iota
	CmdVersion
	CmdLogin
	CmdLogout
	CmdStatus
	CmdChat
	CmdWorkspace
	CmdConfig
	CmdMockServer
)

var commandNames = map[Command]string{
	CmdHelp:       "help",
	CmdVersion:    "version",
	CmdLogin:      "login",
	CmdLogout:     "logout",
	CmdStatus:     "status",
	CmdChat:       "chat",
	CmdWorkspace:  "workspace",
	CmdConfig:     "config",
	CmdMockServer: "mock-server",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// NeedsSession reports whether the command talks to the backend on behalf of
// the signed-in user.
func (c Command) NeedsSession() bool {
	switch c {
	case CmdLogin, CmdLogout, CmdStatus, CmdChat, CmdWorkspace:
		return true
	}
	return false
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	JSON       bool
	Verbose    bool
	Ephemeral  bool
	ConfigPath string

	Subcommand string

	// login
	Email    string
	Password string
	TOTPCode string

	// chat
	PersonaID      string
	ConversationID string
	DraftID        string
	New            bool

	// workspace
	WorkspaceID    string
	WorkspaceName  string
	ClearWorkspace bool

	// config
	ConfigKey string
	ConfigVal string

	// mock-server
	Addr string

	Raw []string
}

const usageText = `personachat - chat with personas from the terminal

Usage:
  personachat <command> [flags]

Commands:
  login [--email E] [--password P] [--totp CODE]   Sign in
  logout                                          Sign out and clear the session
  status                                          Show session and configuration
  chat --persona ID [--conversation ID] [--new]   Open a chat
  workspace [ID [NAME] | --clear]                 Show or select the workspace
  config [show|path|get KEY|set KEY VALUE]        Inspect or edit configuration
  mock-server [--addr HOST:PORT]                  Run a local fake backend
  version                                         Show version information
  help                                            Show this help

Global flags:
  --config PATH    Use a specific config file
  --json           Machine-readable output
  -v, --verbose    Log to the console at debug level
  --ephemeral      Keep the session in memory for this run only

Chat commands:
  /edit [N] TEXT        Edit your message N (default: your last message)
  /like [N]             Like assistant message N (default: the last reply)
  /dislike [N]          Dislike assistant message N
  /attach PATH [TEXT]   Send a file, optionally with text
  /retry                Retry a failed restore
  /unarchive            Reopen an archived conversation
  /new                  Start a fresh conversation with the same persona
  /history              Show the whole conversation with message numbers
  /help                 Show chat commands
  /quit                 Leave the chat (Ctrl+D also works)

Environment:
  PERSONACHAT_*         Overrides config values, e.g. PERSONACHAT_API_URL
  NO_COLOR              Disable colored output
`

// PrintUsage writes the help text.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, usageText)
}

// PrintVersion writes version information.
func PrintVersion(w io.Writer, jsonMode bool) {
	if jsonMode {
		_ = outputJSON(w, map[string]string{
			"version":    Version,
			"git_commit": GitCommit,
			"build_date": BuildDate,
			"go_version": runtime.Version(),
			"platform":   runtime.GOOS + "/" + runtime.GOARCH,
		})
		return
	}
	fmt.Fprintf(w, "personachat %s\n", Version)
	fmt.Fprintf(w, "  Commit:     %s\n", GitCommit)
	fmt.Fprintf(w, "  Built:      %s\n", BuildDate)
	fmt.Fprintf(w, "  Go version: %s\n", runtime.Version())
	fmt.Fprintf(w, "  Platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// =============================================================================
// PARSING
// =============================================================================

// switchFlags never take a value, wherever they appear.
var switchFlags = []string{"help", "h", "version", "new", "n", "clear"}

// Parse parses the process arguments, without the program name.
func Parse(argv []string) (Command, Args, error) {
	remaining, args := parseGlobalFlags(argv)
	p := NewArgParser(remaining, switchFlags...)

	if p.BoolFlag("help", "h") && p.PositionalCount() == 0 {
		return CmdHelp, args, nil
	}
	if p.BoolFlag("version") && p.PositionalCount() == 0 {
		return CmdVersion, args, nil
	}
	if p.PositionalCount() == 0 {
		return CmdHelp, args, nil
	}

	name := strings.ToLower(p.Subcommand())
	args.Raw = p.PositionalFrom(1)
	args.Subcommand = p.Positional(1)

	switch name {
	case "help", "-h":
		return CmdHelp, args, nil

	case "version":
		return CmdVersion, args, nil

	case "login":
		args.Email = p.FirstFlag("email", "e")
		args.Password = p.FirstFlag("password", "p")
		args.TOTPCode = p.FirstFlag("totp", "code")
		if args.Email == "" {
			args.Email = p.Positional(1)
		}
		return CmdLogin, args, nil

	case "logout":
		return CmdLogout, args, nil

	case "status", "whoami":
		return CmdStatus, args, nil

	case "chat":
		return parseChatArgs(p, args)

	case "workspace", "ws":
		args.ClearWorkspace = p.BoolFlag("clear")
		args.WorkspaceID = p.Positional(1)
		args.WorkspaceName = JoinPositionalArgs(p, 2)
		return CmdWorkspace, args, nil

	case "config":
		args.Subcommand = strings.ToLower(p.Positional(1))
		if args.Subcommand == "" {
			args.Subcommand = "show"
		}
		args.ConfigKey = p.Positional(2)
		args.ConfigVal = JoinPositionalArgs(p, 3)
		switch args.Subcommand {
		case "show", "path":
		case "get":
			if args.ConfigKey == "" {
				return CmdConfig, args, ErrMissingArgument("key", "personachat config get api.base_url")
			}
		case "set":
			if args.ConfigKey == "" || p.PositionalCount() < 4 {
				return CmdConfig, args, ErrMissingArgument("value", "personachat config set api.base_url http://127.0.0.1:8787")
			}
		default:
			return CmdConfig, args, ErrUnknownCommand("config " + args.Subcommand)
		}
		return CmdConfig, args, nil

	case "mock-server", "mock":
		args.Addr = p.FlagOrDefault("addr", "127.0.0.1:8787")
		return CmdMockServer, args, nil

	default:
		return CmdHelp, args, ErrUnknownCommand(name)
	}
}

// parseGlobalFlags extracts global flags from argv and returns the remaining
// args. Global flags may appear before or after the command.
func parseGlobalFlags(argv []string) ([]string, Args) {
	var remaining []string
	var args Args

	for i := 0; i < len(argv); i++ {
		arg := argv[i]

		switch arg {
		case "--":
			return append(remaining, argv[i:]...), args
		case "--json":
			args.JSON = true
		case "-v", "--verbose":
			args.Verbose = true
		case "--ephemeral":
			args.Ephemeral = true
		case "--config":
			if i+1 < len(argv) {
				i++
				args.ConfigPath = argv[i]
			}
		default:
			name, value, ok := strings.Cut(arg, "=")
			if !ok {
				remaining = append(remaining, arg)
				continue
			}
			if name == "--config" {
				args.ConfigPath = value
				continue
			}
			b, err := ParseBoolString(value)
			switch {
			case err != nil:
				remaining = append(remaining, arg)
			case name == "--json":
				args.JSON = b
			case name == "--verbose":
				args.Verbose = b
			case name == "--ephemeral":
				args.Ephemeral = b
			default:
				remaining = append(remaining, arg)
			}
		}
	}
	return remaining, args
}

func parseChatArgs(p *ArgParser, args Args) (Command, Args, error) {
	args.PersonaID = p.FirstFlag("persona", "p")
	if args.PersonaID == "" {
		args.PersonaID = p.Positional(1)
	}
	args.ConversationID = p.FirstFlag("conversation", "c")
	args.DraftID = p.Flag("draft")
	args.New = p.BoolFlag("new", "n")

	if args.ConversationID != "" && !conversation.ValidConversationID(args.ConversationID) {
		return CmdChat, args, &ValidationError{
			Field:   "conversation",
			Value:   args.ConversationID,
			Reason:  "not a conversation id",
			Example: "personachat chat --persona ada --conversation 3f2b1c9e-...",
		}
	}
	if args.New {
		args.ConversationID = ""
	}
	return CmdChat, args, nil
}
