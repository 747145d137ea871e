// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"

	"github.com/jeranaias/personachat/internal/config"
	"github.com/jeranaias/personachat/internal/fakeapi"
	"github.com/jeranaias/personachat/internal/util"
)

// =============================================================================
// CONFIG
// =============================================================================

func (a *App) resolvedConfigPath() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.ConfigPathTOML()
}

func (a *App) runConfig(args Args) error {
	switch args.Subcommand {
	case "", "show":
		// String redacts secrets.
		fmt.Fprintln(a.out, a.cfg.String())
		return nil

	case "path":
		path, err := a.resolvedConfigPath()
		if err != nil {
			return err
		}
		if args.JSON {
			return outputJSON(a.out, map[string]string{"path": path})
		}
		fmt.Fprintln(a.out, path)
		return nil

	case "get":
		v, err := a.cfg.Get(args.ConfigKey)
		if err != nil {
			return &ValidationError{Field: "key", Value: args.ConfigKey, Reason: err.Error()}
		}
		if args.JSON {
			return outputJSON(a.out, map[string]interface{}{args.ConfigKey: v})
		}
		fmt.Fprintln(a.out, v)
		return nil

	case "set":
		updated := a.cfg.Clone()
		if err := updated.Set(args.ConfigKey, args.ConfigVal); err != nil {
			return &ValidationError{Field: args.ConfigKey, Value: args.ConfigVal, Reason: err.Error()}
		}
		if err := updated.Validate(); err != nil {
			return err
		}
		path, err := a.resolvedConfigPath()
		if err != nil {
			return err
		}
		if err := config.SaveTOML(updated, path); err != nil {
			return NewCommandError("config", "set", "cannot save configuration", err)
		}
		a.cfg = updated
		fmt.Fprintf(a.out, "%s %s = %s\n", SuccessStyle.Render("[OK]"), args.ConfigKey, args.ConfigVal)
		return nil

	default:
		return ErrUnknownCommand("config " + args.Subcommand)
	}
}

// =============================================================================
// MOCK SERVER
// =============================================================================

// runMockServer serves the in-memory backend until ctx is cancelled.
func (a *App) runMockServer(ctx context.Context, args Args) error {
	opts := fakeapi.DefaultOptions()
	opts.Logger = a.logger
	srv, err := fakeapi.New(opts)
	if err != nil {
		return NewCommandError("mock-server", "start", "cannot create server", err)
	}
	url, err := srv.Start(args.Addr)
	if err != nil {
		return NewCommandError("mock-server", "start", "cannot listen", err)
	}
	defer func() { _ = srv.Shutdown() }()

	fmt.Fprintf(a.out, "%s Fake backend listening on %s\n", SuccessStyle.Render("[OK]"), url)
	for _, u := range opts.Users {
		fmt.Fprintf(a.out, "%s%s / %s\n", RenderLabel("Demo login"), u.Email, u.Password)
	}
	for _, p := range opts.Personas {
		fmt.Fprintf(a.out, "%s%s %s\n", RenderLabel("Persona"), util.PadRight(p.ID, 8), DimStyle.Render(p.Name))
	}
	fmt.Fprintln(a.out, DimStyle.Render("Point api.base_url at it, e.g. PERSONACHAT_API_URL="+url+". Ctrl+C stops."))

	<-ctx.Done()
	return nil
}
