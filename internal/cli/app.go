// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"go.uber.org/zap"

	"github.com/jeranaias/personachat/internal/config"
	"github.com/jeranaias/personachat/internal/kvstore"
	"github.com/jeranaias/personachat/internal/logging"
	"github.com/jeranaias/personachat/internal/session"
)

// SessionExpiredMessage is shown when the backend ends the session.
const SessionExpiredMessage = "session expired, please log in"

// ErrSessionExpired ends a command after a forced logout.
var ErrSessionExpired = errors.New(SessionExpiredMessage)

// =============================================================================
// ENTRY POINT
// =============================================================================

// Main runs the CLI with argv (without the program name) and returns the exit
// code.
func Main(argv []string) int {
	cmd, args, err := Parse(argv)
	if err != nil {
		DisplayError(os.Stderr, err, args.JSON)
		return GetExitCode(err)
	}

	switch cmd {
	case CmdHelp:
		PrintUsage(os.Stdout)
		return ExitSuccess
	case CmdVersion:
		PrintVersion(os.Stdout, args.JSON)
		return ExitSuccess
	}

	cfg, err := loadConfig(args.ConfigPath)
	if err != nil {
		DisplayError(os.Stderr, err, args.JSON)
		return ExitConfigError
	}
	if args.Verbose {
		cfg.Log.Level = "debug"
		cfg.Log.Console = true
	}
	if args.Ephemeral {
		cfg.Store.Backend = config.BackendMemory
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s logging disabled: %v\n", WarningStyle.Render("[WARN]"), err)
		logger = zap.NewNop()
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp(cfg, logger, os.Stdout, os.Stderr)
	app.configPath = args.ConfigPath
	defer app.Close()

	if err := app.Run(ctx, cmd, args); err != nil {
		if !errors.Is(err, ErrSessionExpired) {
			DisplayError(os.Stderr, err, args.JSON)
		}
		return GetExitCode(err)
	}
	return ExitSuccess
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

// =============================================================================
// APP
// =============================================================================

// App carries what every command needs. The session store and manager are
// opened lazily by the commands that use them.
type App struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	out        io.Writer
	errOut     io.Writer

	store   kvstore.Store
	manager *session.Manager
	expired atomic.Bool

	// Input sources, replaced in tests.
	newReader  func() lineReader
	readSecret func(prompt string) (string, error)
	markdown   bool
	width      int
}

// NewApp creates an App writing to out and errOut.
func NewApp(cfg *config.Config, logger *zap.Logger, out, errOut io.Writer) *App {
	a := &App{
		cfg:      cfg,
		logger:   logging.OrNop(logger),
		out:      &syncWriter{w: out},
		errOut:   &syncWriter{w: errOut},
		markdown: out == os.Stdout && IsStdoutTTY(),
		width:    DefaultTerminalWidth,
	}
	if out == os.Stdout {
		a.width = GetTerminalWidth()
	}
	a.newReader = func() lineReader { return NewChatCLI() }
	a.readSecret = func(prompt string) (string, error) { return readPassword(a.errOut, prompt) }
	return a
}

// Run executes cmd.
func (a *App) Run(ctx context.Context, cmd Command, args Args) error {
	if cmd.NeedsSession() {
		if err := a.openSession(); err != nil {
			return err
		}
	}

	switch cmd {
	case CmdHelp:
		PrintUsage(a.out)
		return nil
	case CmdVersion:
		PrintVersion(a.out, args.JSON)
		return nil
	case CmdLogin:
		return a.runLogin(ctx, args)
	case CmdLogout:
		return a.runLogout(ctx, args)
	case CmdStatus:
		return a.runStatus(args)
	case CmdWorkspace:
		return a.runWorkspace(args)
	case CmdChat:
		return a.runChat(ctx, args)
	case CmdConfig:
		return a.runConfig(args)
	case CmdMockServer:
		return a.runMockServer(ctx, args)
	default:
		return ErrUnknownCommand(cmd.String())
	}
}

// Close releases the session store.
func (a *App) Close() error {
	if a.manager != nil {
		a.manager.Stop()
	}
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// Expired reports whether the backend ended the session during this run.
func (a *App) Expired() bool {
	return a.expired.Load()
}

// openSession opens the configured token store and the session manager over it.
func (a *App) openSession() error {
	if a.manager != nil {
		return nil
	}
	store, err := kvstore.Open(a.cfg.Store, a.logger)
	if err != nil {
		return NewCommandError("session", "open", "cannot open the session store", err)
	}
	a.store = store
	a.manager = session.NewManager(session.ConfigFrom(a.cfg), store).
		WithLogger(a.logger).
		WithNavigator(session.NavigatorFunc(a.toLogin))
	return nil
}

// toLogin is the navigator of a terminal: it flags the run and tells the user.
func (a *App) toLogin() {
	if a.expired.CompareAndSwap(false, true) {
		fmt.Fprintln(a.errOut, WarningStyle.Render(SessionExpiredMessage))
	}
}

// watchStore follows the shared token file and ends the run when another
// process signs out. It returns when ctx is done.
func (a *App) watchStore(ctx context.Context, fs *kvstore.FileStore, onEnd func()) {
	err := fs.Watch(ctx, func(changed []string) {
		if a.manager.Snapshot().Authenticated() {
			return
		}
		a.logger.Info("signed out by another process", zap.Strings("keys", changed))
		a.manager.Stop()
		a.toLogin()
		onEnd()
	})
	if err != nil {
		a.logger.Warn("token file watch disabled", zap.Error(err))
	}
}

func (a *App) requireSession() error {
	if !a.manager.Snapshot().Authenticated() {
		return session.ErrNotAuthenticated
	}
	return nil
}
