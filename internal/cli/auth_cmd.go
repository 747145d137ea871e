// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/personachat/internal/session"
)

// =============================================================================
// LOGIN / LOGOUT
// =============================================================================

func (a *App) runLogin(ctx context.Context, args Args) error {
	email := strings.TrimSpace(args.Email)
	if email == "" {
		email = a.cfg.Auth.Email
	}
	if email == "" {
		in := a.newReader()
		line, err := in.Prompt("Email: ")
		_ = in.Close()
		if err != nil {
			return NewCommandError("login", "read email", "no input", err)
		}
		email = strings.TrimSpace(line)
	}
	if email == "" {
		return ErrMissingArgument("email", "personachat login --email you@example.com")
	}

	password := args.Password
	if password == "" {
		var err error
		if password, err = a.readSecret("Password: "); err != nil {
			return err
		}
	}

	user, err := a.manager.Login(ctx, session.Credentials{
		Email:    email,
		Password: password,
		TOTPCode: strings.TrimSpace(args.TOTPCode),
	})
	if err != nil {
		return err
	}

	if args.JSON {
		return outputJSON(a.out, map[string]interface{}{"success": true, "user": user})
	}
	name := user.Name
	if name == "" {
		name = user.Email
	}
	fmt.Fprintf(a.out, "%s Signed in as %s\n", SuccessStyle.Render("[OK]"), name)
	return nil
}

func (a *App) runLogout(ctx context.Context, args Args) error {
	wasSignedIn := a.manager.Snapshot().Authenticated()
	if err := a.manager.Logout(ctx); err != nil {
		return err
	}
	if args.JSON {
		return outputJSON(a.out, map[string]interface{}{"success": true, "was_signed_in": wasSignedIn})
	}
	if !wasSignedIn {
		fmt.Fprintln(a.out, DimStyle.Render("Not signed in."))
		return nil
	}
	fmt.Fprintf(a.out, "%s Signed out\n", SuccessStyle.Render("[OK]"))
	return nil
}

// =============================================================================
// STATUS
// =============================================================================

// statusReport is the JSON form of the status command.
type statusReport struct {
	SignedIn        bool       `json:"signed_in"`
	UserID          string     `json:"user_id,omitempty"`
	Email           string     `json:"email,omitempty"`
	Name            string     `json:"name,omitempty"`
	WorkspaceID     string     `json:"workspace_id,omitempty"`
	WorkspaceName   string     `json:"workspace_name,omitempty"`
	AccessExpiresAt *time.Time `json:"access_expires_at,omitempty"`
	BaseURL         string     `json:"base_url"`
	StoreBackend    string     `json:"store_backend"`
}

func (a *App) runStatus(args Args) error {
	snap := a.manager.Snapshot()
	report := statusReport{
		SignedIn:      snap.Authenticated(),
		WorkspaceID:   snap.WorkspaceID,
		WorkspaceName: snap.WorkspaceName,
		BaseURL:       a.manager.BaseURL(),
		StoreBackend:  a.cfg.Store.Backend,
	}
	if snap.User != nil {
		report.UserID = snap.User.ID
		report.Email = snap.User.Email
		report.Name = snap.User.Name
	}
	if !snap.AccessExpiresAt.IsZero() {
		t := snap.AccessExpiresAt
		report.AccessExpiresAt = &t
	}

	if args.JSON {
		return outputJSON(a.out, report)
	}

	fmt.Fprintln(a.out, TitleStyle.Render("personachat status"))
	fmt.Fprintln(a.out, RenderSeparatorAdaptive())
	if report.SignedIn {
		fmt.Fprintf(a.out, "%s%s %s\n", RenderLabel("Session"), RenderStatus("ok"), "signed in")
	} else {
		fmt.Fprintf(a.out, "%s%s %s\n", RenderLabel("Session"), RenderStatus("none"), "signed out")
	}
	if report.Email != "" {
		who := report.Email
		if report.Name != "" {
			who = fmt.Sprintf("%s <%s>", report.Name, report.Email)
		}
		fmt.Fprintf(a.out, "%s%s\n", RenderLabel("User"), ValueStyle.Render(who))
	}
	if report.AccessExpiresAt != nil {
		left := time.Until(*report.AccessExpiresAt)
		if left > 0 {
			fmt.Fprintf(a.out, "%s%s\n", RenderLabel("Access token"), ValueStyle.Render("expires in "+formatDuration(left)))
		} else {
			fmt.Fprintf(a.out, "%s%s\n", RenderLabel("Access token"), WarningStyle.Render("expired, refreshes on next request"))
		}
	}
	fmt.Fprintf(a.out, "%s%s\n", RenderLabel("Workspace"), ValueStyle.Render(workspaceLabel(report.WorkspaceID, report.WorkspaceName)))
	fmt.Fprintf(a.out, "%s%s\n", RenderLabel("Backend"), ValueStyle.Render(report.BaseURL))
	fmt.Fprintf(a.out, "%s%s\n", RenderLabel("Token store"), ValueStyle.Render(report.StoreBackend))
	return nil
}

func workspaceLabel(id, name string) string {
	switch {
	case id == "":
		return "(none)"
	case name == "":
		return id
	default:
		return fmt.Sprintf("%s (%s)", name, id)
	}
}

// =============================================================================
// WORKSPACE
// =============================================================================

func (a *App) runWorkspace(args Args) error {
	if err := a.requireSession(); err != nil {
		return err
	}

	switch {
	case args.ClearWorkspace:
		if err := a.manager.SetWorkspace("", ""); err != nil {
			return err
		}
	case args.WorkspaceID != "":
		if err := a.manager.SetWorkspace(args.WorkspaceID, args.WorkspaceName); err != nil {
			return err
		}
	}

	snap := a.manager.Snapshot()
	if args.JSON {
		return outputJSON(a.out, map[string]string{
			"workspace_id":   snap.WorkspaceID,
			"workspace_name": snap.WorkspaceName,
		})
	}
	fmt.Fprintf(a.out, "%s%s\n", RenderLabel("Workspace"), ValueStyle.Render(workspaceLabel(snap.WorkspaceID, snap.WorkspaceName)))
	return nil
}
