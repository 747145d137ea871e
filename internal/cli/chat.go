// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/jeranaias/personachat/internal/api"
	"github.com/jeranaias/personachat/internal/config"
	"github.com/jeranaias/personachat/internal/conversation"
	"github.com/jeranaias/personachat/internal/kvstore"
	"github.com/jeranaias/personachat/internal/model"
	"github.com/jeranaias/personachat/internal/session"
	"github.com/jeranaias/personachat/internal/upload"
)

// =============================================================================
// INPUT
// =============================================================================

// lineReader reads one line of user input.
type lineReader interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// ChatCLI is a lineReader with line editing and persistent history.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI and loads its history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	c := &ChatCLI{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
	return c
}

// Prompt reads a line, adding non-blank input to the history.
func (c *ChatCLI) Prompt(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history (0600) and restores the terminal.
func (c *ChatCLI) Close() error {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = c.line.WriteHistory(f)
			f.Close()
		}
	}
	return c.line.Close()
}

// =============================================================================
// CHAT COMMAND
// =============================================================================

// chatShell is one interactive chat: a controller over an in-memory route,
// fed by a line reader.
type chatShell struct {
	app    *App
	ctrl   *conversation.Controller
	route  *conversation.MemoryRoute
	in     lineReader
	out    io.Writer
	render *renderer

	// seen maps message ids already printed to the text printed for them.
	seen      map[string]string
	lastState conversation.State
}

func (a *App) runChat(ctx context.Context, args Args) error {
	if err := a.requireSession(); err != nil {
		return err
	}

	personaID := args.PersonaID
	if personaID == "" {
		personaID = a.cfg.Chat.DefaultPersona
	}
	if personaID == "" {
		return ErrMissingArgument("persona", "personachat chat --persona ada")
	}

	params := conversation.Params{PersonaID: personaID, ConversationID: args.ConversationID, Draft: args.DraftID}
	if args.New && params.Draft == "" {
		params.Draft = uuid.NewString()
	}

	client := api.New(a.manager).WithLogger(a.logger)
	uploader := upload.NewUploader(client, a.manager.HTTPClient(), upload.PolicyFrom(a.cfg.Chat)).WithLogger(a.logger)
	route := conversation.NewMemoryRoute(params)
	ctrl := conversation.New(client, route, conversation.Options{
		RestoreTimeout: a.cfg.Chat.RestoreTimeout.Duration,
		CurrentUserID:  a.manager.CurrentUserID,
		Uploader:       uploader,
		Logger:         a.logger,
	})
	defer ctrl.Close()

	// An interrupt while a request is in flight closes the screen, which
	// cancels the request.
	chatCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-chatCtx.Done()
		ctrl.Close()
	}()

	in := a.newReader()
	defer in.Close()

	sh := &chatShell{
		app:    a,
		ctrl:   ctrl,
		route:  route,
		in:     in,
		out:    a.out,
		render: newRenderer(a.width, a.markdown),
		seen:   make(map[string]string),
	}
	unsubscribe := ctrl.Subscribe(sh.onSnapshot)
	defer unsubscribe()

	a.manager.Start()
	defer a.manager.Stop()
	if fs, ok := a.store.(*kvstore.FileStore); ok {
		go a.watchStore(chatCtx, fs, ctrl.Close)
	}

	a.logger.Info("chat opened", zap.String("route", params.String()))
	if err := sh.mount(); err != nil {
		return err
	}
	err := sh.loop()
	sh.printResumeHint()
	a.logger.Info("chat closed", zap.String("route", route.Params().String()))
	return err
}

// mount resolves the route and prints the screen.
func (sh *chatShell) mount() error {
	err := sh.ctrl.Mount()
	if sh.app.Expired() || session.IsAuthError(err) {
		return ErrSessionExpired
	}
	if errors.Is(err, conversation.ErrNoPersona) {
		return ErrMissingArgument("persona", "personachat chat --persona ada")
	}
	sh.printScreen()
	if err != nil {
		sh.printRestoreFailure(err)
	}
	return nil
}

// loop reads lines until /quit, end of input, or a forced logout.
func (sh *chatShell) loop() error {
	for {
		if sh.app.Expired() {
			return ErrSessionExpired
		}

		line, err := sh.in.Prompt(promptStyle.Render(sh.prompt()) + " ")
		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			fmt.Fprintln(sh.out, DimStyle.Render("Type /quit or press Ctrl+D to leave."))
			continue
		case errors.Is(err, io.EOF):
			fmt.Fprintln(sh.out)
			return nil
		case err != nil:
			return err
		}

		quit, err := sh.handle(strings.TrimSpace(line))
		if sh.app.Expired() || session.IsAuthError(err) {
			return ErrSessionExpired
		}
		if errors.Is(err, conversation.ErrClosed) {
			return nil
		}
		if err != nil && !errors.Is(err, conversation.ErrSuperseded) {
			sh.printError(err)
		}
		if quit {
			return nil
		}
	}
}

func (sh *chatShell) prompt() string {
	snap := sh.ctrl.Snapshot()
	switch snap.State {
	case conversation.StateArchived:
		return "(archived)>"
	case conversation.StateRestoreFailed:
		return "(offline)>"
	default:
		return "you>"
	}
}

// =============================================================================
// COMMANDS
// =============================================================================

// handle runs one line of input and reports whether the shell should exit.
func (sh *chatShell) handle(line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		if line == "exit" || line == "quit" {
			return true, nil
		}
		err := sh.ctrl.Send(line, nil)
		sh.printNew()
		return false, sendResult(err)
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(name) {
	case "/quit", "/q", "/exit":
		return true, nil

	case "/help", "/h", "/?":
		sh.printHelp()
		return false, nil

	case "/history", "/ls":
		sh.printScreen()
		return false, nil

	case "/retry":
		err := sh.ctrl.Retry()
		if err == nil {
			sh.printScreen()
		}
		return false, err

	case "/new":
		snap := sh.ctrl.Snapshot()
		err := sh.ctrl.Navigate(conversation.Params{PersonaID: snap.Persona.ID, Draft: uuid.NewString()})
		if err == nil {
			sh.seen = make(map[string]string)
			sh.printScreen()
		}
		return false, err

	case "/unarchive":
		if err := sh.ctrl.Unarchive(); err != nil {
			return false, err
		}
		fmt.Fprintln(sh.out, SuccessStyle.Render("Conversation reopened."))
		return false, nil

	case "/edit":
		return false, sh.edit(rest)

	case "/like":
		return false, sh.react(rest, model.ReactionLike)

	case "/dislike":
		return false, sh.react(rest, model.ReactionDislike)

	case "/attach":
		return false, sh.attach(rest)

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
}

// edit handles "/edit [N] TEXT". Without N the last own message is edited.
func (sh *chatShell) edit(rest string) error {
	snap := sh.ctrl.Snapshot()
	n, text := splitIndex(rest)
	var target model.Message
	if n > 0 {
		m, err := messageAt(snap, n)
		if err != nil {
			return err
		}
		target = m
	} else {
		m, ok := lastMessage(snap, model.SenderUser)
		if !ok {
			return errors.New("no message of yours to edit")
		}
		target = m
	}
	if strings.TrimSpace(text) == "" {
		return ErrMissingArgument("text", "/edit 1 corrected text")
	}

	err := sh.ctrl.EditMessage(target.ID, text)
	var failure *conversation.EditFailure
	if errors.As(err, &failure) {
		// The list is untouched; the notice is shown once and dismissed.
		sh.ctrl.DismissEditFailure()
		return fmt.Errorf("edit was not saved: %w", failure.Err)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(sh.out, DimStyle.Render("Message edited."))
	sh.printNew()
	return nil
}

// react handles "/like [N]" and "/dislike [N]". Without N the last reply is used.
func (sh *chatShell) react(rest string, t model.ReactionType) error {
	snap := sh.ctrl.Snapshot()
	n, _ := splitIndex(rest)
	var target model.Message
	if n > 0 {
		m, err := messageAt(snap, n)
		if err != nil {
			return err
		}
		target = m
	} else {
		m, ok := lastMessage(snap, model.SenderAssistant)
		if !ok {
			return errors.New("no reply to react to")
		}
		target = m
	}

	if err := sh.ctrl.ToggleReaction(target.ID, t); err != nil {
		return err
	}
	updated := sh.ctrl.Snapshot()
	for _, m := range updated.Messages {
		if m.ID != target.ID {
			continue
		}
		line := reactionLine(m.Reactions, sh.app.manager.CurrentUserID())
		if line == "" {
			line = "reaction removed"
		}
		fmt.Fprintln(sh.out, DimStyle.Render(line))
	}
	return nil
}

// attach handles "/attach PATH [TEXT]".
func (sh *chatShell) attach(rest string) error {
	path, text, _ := strings.Cut(rest, " ")
	if path == "" {
		return ErrMissingArgument("path", "/attach ./diagram.png what does this show?")
	}
	policy := upload.PolicyFrom(sh.app.cfg.Chat)
	f, err := upload.ReadFile(path, policy.MaxBytes)
	if err != nil {
		return err
	}
	err = sh.ctrl.Send(text, &f)
	sh.printNew()
	return sendResult(err)
}

// sendResult drops send failures that are already on screen as an error
// bubble. Local refusals and auth failures are returned.
func sendResult(err error) error {
	if err == nil || session.IsAuthError(err) {
		return err
	}
	var rejected *upload.ValidationError
	switch {
	case errors.As(err, &rejected),
		errors.Is(err, conversation.ErrEmptyMessage),
		errors.Is(err, conversation.ErrBusy),
		errors.Is(err, conversation.ErrArchived),
		errors.Is(err, conversation.ErrNotReady),
		errors.Is(err, conversation.ErrNoUploader),
		errors.Is(err, conversation.ErrClosed),
		errors.Is(err, upload.ErrNoConversation):
		return err
	}
	return nil
}

// =============================================================================
// OUTPUT
// =============================================================================

// onSnapshot reports in-flight states as they begin.
func (sh *chatShell) onSnapshot(s conversation.Snapshot) {
	if s.State == sh.lastState {
		return
	}
	sh.lastState = s.State
	switch s.State {
	case conversation.StateRestoring:
		fmt.Fprintln(sh.out, DimStyle.Render("Loading conversation..."))
	case conversation.StateSending:
		fmt.Fprintln(sh.out, DimStyle.Render(s.Persona.DisplayName()+" is typing..."))
	}
}

// printScreen prints the header and the whole conversation, or the intro when
// it is empty.
func (sh *chatShell) printScreen() {
	snap := sh.ctrl.Snapshot()
	fmt.Fprintln(sh.out, sh.render.header(snap))
	if snap.ShowIntro() {
		fmt.Fprintln(sh.out, sh.render.intro(snap.Persona))
		return
	}
	me := sh.app.manager.CurrentUserID()
	for i, m := range snap.Messages {
		if m.IsTyping {
			continue
		}
		fmt.Fprintln(sh.out, sh.render.message(i+1, m, snap.Persona, me))
		sh.seen[m.ID] = m.Text
	}
}

// printNew prints replies and error bubbles that have not been shown, or whose
// text changed. The user's own lines are already on screen.
func (sh *chatShell) printNew() {
	snap := sh.ctrl.Snapshot()
	me := sh.app.manager.CurrentUserID()
	for i, m := range snap.Messages {
		if m.IsTyping {
			continue
		}
		if text, ok := sh.seen[m.ID]; ok && text == m.Text {
			continue
		}
		sh.seen[m.ID] = m.Text
		if m.Sender == model.SenderUser && len(m.Attachments) == 0 {
			continue
		}
		fmt.Fprintln(sh.out, sh.render.message(i+1, m, snap.Persona, me))
	}
}

func (sh *chatShell) printRestoreFailure(err error) {
	var timeout *conversation.RestoreTimeout
	switch {
	case errors.As(err, &timeout):
		fmt.Fprintln(sh.out, WarningStyle.Render("The conversation took too long to load."))
	case api.StatusOf(err) == 404:
		fmt.Fprintln(sh.out, WarningStyle.Render("That conversation could not be found."))
	default:
		fmt.Fprintln(sh.out, WarningStyle.Render("The conversation could not be loaded: "+err.Error()))
	}
	fmt.Fprintln(sh.out, DimStyle.Render("Type /retry to try again or /new to start over."))
}

// printResumeHint tells the user how to come back to a started conversation.
func (sh *chatShell) printResumeHint() {
	p := sh.route.Params()
	if p.ConversationID == "" {
		return
	}
	fmt.Fprintln(sh.out, DimStyle.Render(fmt.Sprintf("Resume with: personachat chat --persona %s --conversation %s",
		p.PersonaID, p.ConversationID)))
}

func (sh *chatShell) printError(err error) {
	var msg string
	switch {
	case errors.Is(err, conversation.ErrArchived):
		msg = "This conversation is archived. Use /unarchive to continue it."
	case errors.Is(err, conversation.ErrBusy):
		msg = "Still waiting for the previous reply."
	case errors.Is(err, conversation.ErrNotEditable):
		msg = "Only your own sent messages can be edited."
	case errors.Is(err, conversation.ErrNotReady):
		msg = "The conversation is not loaded. Type /retry or /new."
	case errors.Is(err, conversation.ErrNoUploader), errors.Is(err, upload.ErrNoConversation):
		msg = err.Error() + ". Send a text message first."
	default:
		msg = err.Error()
	}
	if errors.Is(err, conversation.ErrNotRestoreFailed) || errors.Is(err, conversation.ErrNotArchived) {
		msg = DimStyle.Render(msg)
	}
	fmt.Fprintf(sh.out, "%s %s\n", ErrorStyle.Render("!"), msg)
}

func (sh *chatShell) printHelp() {
	_, chatHelp, _ := strings.Cut(usageText, "Chat commands:\n")
	chatHelp, _, _ = strings.Cut(chatHelp, "\n\n")
	fmt.Fprintln(sh.out, commandStyle.Render("Chat commands:"))
	fmt.Fprintln(sh.out, chatHelp)
}

// =============================================================================
// MESSAGE REFERENCES
// =============================================================================

// splitIndex splits "N rest" into N and rest. N is 0 when the first word is
// not a positive number, and rest is then the whole input.
func splitIndex(s string) (int, string) {
	first, rest, _ := strings.Cut(strings.TrimSpace(s), " ")
	n, err := strconv.Atoi(first)
	if err != nil || n <= 0 {
		return 0, s
	}
	return n, strings.TrimSpace(rest)
}

// messageAt returns message n (1-based) as numbered by /history.
func messageAt(s conversation.Snapshot, n int) (model.Message, error) {
	if n < 1 || n > len(s.Messages) {
		return model.Message{}, fmt.Errorf("no message %d (see /history)", n)
	}
	return s.Messages[n-1], nil
}

// lastMessage returns the newest confirmed message from sender.
func lastMessage(s conversation.Snapshot, sender model.Sender) (model.Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.Sender == sender && !m.IsTemporary() && !m.IsError && !m.IsTyping {
			return m, true
		}
	}
	return model.Message{}, false
}
