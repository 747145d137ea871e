// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/personachat/internal/api"
	"github.com/jeranaias/personachat/internal/logging"
	"github.com/jeranaias/personachat/internal/model"
	"github.com/jeranaias/personachat/internal/upload"
)

// =============================================================================
// STATE
// =============================================================================

// State represents the current state of a chat screen.
type State int

const (
	StateIdle          State = iota // Persona loaded, no conversation
	StateRestoring                  // Fetching the routed conversation
	StateRestoreFailed              // Restore failed or timed out
	StateActive                     // Conversation adopted or restored
	StateSending                    // Send or edit in flight
	StateArchived                   // archivedAt is set
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRestoring:
		return "restoring"
	case StateRestoreFailed:
		return "restore-failed"
	case StateActive:
		return "active"
	case StateSending:
		return "sending"
	case StateArchived:
		return "archived"
	default:
		return "unknown"
	}
}

// Busy reports whether an operation is in flight.
func (s State) Busy() bool {
	return s == StateSending || s == StateRestoring
}

// DefaultRestoreTimeout is the restore watchdog window.
const DefaultRestoreTimeout = 10 * time.Second

// =============================================================================
// COLLABORATORS
// =============================================================================

// Backend is the set of endpoints a chat screen uses. *api.Client implements it.
type Backend interface {
	Chat(ctx context.Context, personaID string, req api.ChatRequest) (*api.ChatReply, error)
	EditMessage(ctx context.Context, messageID, content string) (*api.EditResult, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	UpdateConversation(ctx context.Context, id string, u api.ConversationUpdate) (*model.Conversation, error)
	React(ctx context.Context, messageID string, t model.ReactionType) (*api.ReactionResult, error)
	GetPersona(ctx context.Context, id string) (*model.Persona, error)
}

// Uploader sends attachments. *upload.Uploader implements it.
type Uploader interface {
	Validate(f upload.File) error
	Upload(ctx context.Context, conversationID string, f upload.File) (*model.Attachment, error)
}

// Options configures a Controller.
type Options struct {
	// RestoreTimeout is the restore watchdog (default: 10 seconds).
	RestoreTimeout time.Duration

	// CurrentUserID returns the signed-in user, used for ownership checks and
	// reactions.
	CurrentUserID func() string

	// Uploader handles attachments. Nil disables them.
	Uploader Uploader

	Logger *zap.Logger
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is a consistent copy of a chat screen's state.
type Snapshot struct {
	State          State
	Persona        model.Persona
	ConversationID string
	Title          string
	ArchivedAt     *time.Time
	Messages       []model.Message
	RestoreErr     error
	EditFailure    *EditFailure
}

// Busy reports whether an operation is in flight.
func (s Snapshot) Busy() bool {
	return s.State.Busy()
}

// ShowIntro reports whether the persona intro should be displayed.
func (s Snapshot) ShowIntro() bool {
	return s.State == StateIdle && len(s.Messages) == 0
}

// CanRetry reports whether a retry control should be offered.
func (s Snapshot) CanRetry() bool {
	return s.State == StateRestoreFailed
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller is the state machine behind one chat screen. All methods are safe
// for concurrent use; network calls run without holding the lock.
type Controller struct {
	backend Backend
	route   Route
	opts    Options
	logger  *zap.Logger

	// ctx is scoped to the screen; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	// screenCtx is a child of ctx replaced on every navigation. Calls made
	// for one screen are cancelled when the route moves on.
	screenCtx    context.Context
	screenCancel context.CancelFunc
	screenGen    uint64

	mu             sync.Mutex
	state          State
	persona        model.Persona
	conversationID string
	title          string
	archivedAt     *time.Time
	messages       *model.MessageList
	restoreID      string
	restoreErr     error
	restoreGen     uint64
	restoreCancel  context.CancelFunc
	editFailure    *EditFailure

	subMu   sync.Mutex
	subs    map[int]func(Snapshot)
	nextSub int
}

// New creates a controller for a chat screen hosted at route.
func New(backend Backend, route Route, opts Options) *Controller {
	if opts.RestoreTimeout <= 0 {
		opts.RestoreTimeout = DefaultRestoreTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	screenCtx, screenCancel := context.WithCancel(ctx)
	return &Controller{
		backend:      backend,
		route:        route,
		opts:         opts,
		logger:       logging.OrNop(opts.Logger),
		ctx:          ctx,
		cancel:       cancel,
		screenCtx:    screenCtx,
		screenCancel: screenCancel,
		messages:     model.NewMessageList(),
		subs:         make(map[int]func(Snapshot)),
	}
}

// Mount resolves the screen from the current route.
func (c *Controller) Mount() error {
	return c.resolve(c.route.Params(), 0)
}

// Navigate moves the screen to p, adding a history entry.
func (c *Controller) Navigate(p Params) error {
	c.route.Push(p)
	return c.resolve(p, 0)
}

// Close cancels the screen context. Responses arriving afterwards are dropped.
func (c *Controller) Close() {
	c.cancel()
	c.mu.Lock()
	c.abortRestoreLocked()
	c.mu.Unlock()
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		State:          c.state,
		Persona:        c.persona,
		ConversationID: c.conversationID,
		Title:          c.title,
		ArchivedAt:     c.archivedAt,
		Messages:       c.messages.Snapshot(),
		RestoreErr:     c.restoreErr,
		EditFailure:    c.editFailure,
	}
}

// Subscribe registers fn to receive a snapshot after each mutation settles.
// The returned function unregisters it.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Controller) notify() {
	snap := c.Snapshot()
	c.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (c *Controller) closedLocked() bool {
	return c.ctx.Err() != nil
}

func (c *Controller) currentUserID() string {
	if c.opts.CurrentUserID == nil {
		return ""
	}
	return c.opts.CurrentUserID()
}

// settledStateLocked is the state to return to once nothing is in flight.
func (c *Controller) settledStateLocked() State {
	switch {
	case c.conversationID != "" && c.archivedAt != nil:
		return StateArchived
	case c.conversationID != "":
		return StateActive
	default:
		return StateIdle
	}
}

// resetLocked drops the conversation and its messages.
func (c *Controller) resetLocked() {
	c.conversationID = ""
	c.title = ""
	c.archivedAt = nil
	c.restoreErr = nil
	c.editFailure = nil
	c.messages.Clear()
	c.state = StateIdle
}

// nextScreenLocked cancels calls made for the previous screen and starts a new
// generation. Results carrying an older generation are dropped.
func (c *Controller) nextScreenLocked() {
	c.screenCancel()
	c.screenCtx, c.screenCancel = context.WithCancel(c.ctx)
	c.screenGen++
}

// staleLocked reports why a result for screen generation gen can no longer be
// applied, or nil when it still can.
func (c *Controller) staleLocked(gen uint64) error {
	if c.closedLocked() {
		return ErrClosed
	}
	if gen != c.screenGen {
		return ErrSuperseded
	}
	return nil
}

func (c *Controller) abortRestoreLocked() {
	c.restoreGen++
	if c.restoreCancel != nil {
		c.restoreCancel()
		c.restoreCancel = nil
	}
}

// =============================================================================
// ROUTE RESOLUTION
// =============================================================================

// resolve applies route params. A draft marker always wins: the conversation
// id and message list are cleared and the id is stripped from the route before
// any restore can begin.
func (c *Controller) resolve(p Params, hops int) error {
	if p.PersonaID == "" {
		return ErrNoPersona
	}

	c.mu.Lock()
	if c.closedLocked() {
		c.mu.Unlock()
		return ErrClosed
	}

	id := p.ConversationID
	var stripped *Params
	switch {
	case p.Draft != "":
		stripped = &Params{PersonaID: p.PersonaID, Draft: p.Draft}
		id = ""
	case id != "" && !ValidConversationID(id):
		c.logger.Warn("ignoring malformed conversation id", zap.String("conversation_id", id))
		stripped = &Params{PersonaID: p.PersonaID}
		id = ""
	}

	if id != "" && id == c.conversationID && p.PersonaID == c.persona.ID &&
		c.state != StateRestoreFailed && c.state != StateRestoring {
		c.mu.Unlock()
		return nil
	}

	c.abortRestoreLocked()
	c.nextScreenLocked()
	c.resetLocked()
	if c.persona.ID != p.PersonaID {
		c.persona = model.Persona{ID: p.PersonaID}
	}
	c.mu.Unlock()

	if stripped != nil {
		c.route.Replace(*stripped)
	}
	c.notify()
	c.loadPersona(p.PersonaID)

	if id == "" {
		return nil
	}
	return c.restore(id, hops)
}

// loadPersona fills in persona details. Failure leaves the bare id in place.
func (c *Controller) loadPersona(id string) {
	c.mu.Lock()
	loaded := c.persona.ID == id && c.persona.Name != ""
	gen, sctx := c.screenGen, c.screenCtx
	c.mu.Unlock()
	if loaded {
		return
	}

	p, err := c.backend.GetPersona(sctx, id)
	if err != nil {
		if sctx.Err() == nil {
			c.logger.Warn("failed to load persona", zap.String("persona_id", id), zap.Error(err))
		}
		return
	}

	c.mu.Lock()
	if c.staleLocked(gen) != nil || c.persona.ID != id {
		c.mu.Unlock()
		return
	}
	c.persona = *p
	c.mu.Unlock()
	c.notify()
}

// =============================================================================
// RESTORE
// =============================================================================

type fetchResult struct {
	conv *model.Conversation
	err  error
}

// restore fetches a conversation under the watchdog. When the conversation
// belongs to another persona the screen switches to that persona and resolves
// again, at most once.
func (c *Controller) restore(id string, hops int) error {
	c.mu.Lock()
	if c.closedLocked() {
		c.mu.Unlock()
		return ErrClosed
	}
	c.abortRestoreLocked()
	gen := c.restoreGen
	rctx, cancel := context.WithTimeout(c.ctx, c.opts.RestoreTimeout)
	c.restoreCancel = cancel
	c.restoreID = id
	c.restoreErr = nil
	c.state = StateRestoring
	personaID := c.persona.ID
	c.mu.Unlock()
	c.notify()

	// The fetch runs in its own goroutine so the watchdog fires even if the
	// backend ignores cancellation.
	results := make(chan fetchResult, 1)
	go func() {
		conv, err := c.backend.GetConversation(rctx, id)
		results <- fetchResult{conv, err}
	}()

	var res fetchResult
	select {
	case res = <-results:
	case <-rctx.Done():
		res.err = rctx.Err()
	}
	cancel()

	c.mu.Lock()
	if c.closedLocked() {
		c.mu.Unlock()
		return ErrClosed
	}
	if gen != c.restoreGen {
		// Superseded by a newer navigation.
		c.mu.Unlock()
		return nil
	}
	c.restoreCancel = nil

	if res.err != nil {
		err := res.err
		if errors.Is(err, context.DeadlineExceeded) {
			err = &RestoreTimeout{ConversationID: id, After: c.opts.RestoreTimeout}
		}
		c.state = StateRestoreFailed
		c.restoreErr = err
		c.mu.Unlock()
		c.logger.Warn("restore failed", zap.String("conversation_id", id), zap.Error(err))
		c.notify()
		return err
	}

	conv := res.conv
	if conv.PersonaID != "" && conv.PersonaID != personaID {
		if hops > 0 {
			err := fmt.Errorf("%w: %s", ErrPersonaMismatch, conv.PersonaID)
			c.state = StateRestoreFailed
			c.restoreErr = err
			c.mu.Unlock()
			c.notify()
			return err
		}
		c.mu.Unlock()
		c.logger.Info("conversation belongs to another persona, switching",
			zap.String("conversation_id", id),
			zap.String("from", personaID),
			zap.String("to", conv.PersonaID),
		)
		next := Params{PersonaID: conv.PersonaID, ConversationID: id}
		c.route.Replace(next)
		return c.resolve(next, hops+1)
	}

	c.conversationID = id
	c.title = conv.Title
	c.archivedAt = conv.ArchivedAt
	c.messages.Reset(conv.Messages)
	c.editFailure = nil
	c.state = c.settledStateLocked()
	c.mu.Unlock()

	c.logger.Debug("conversation restored", zap.String("conversation_id", id), zap.Int("messages", len(conv.Messages)))
	c.notify()
	return nil
}

// Retry restores the conversation again after a failure or timeout.
func (c *Controller) Retry() error {
	c.mu.Lock()
	if c.state != StateRestoreFailed {
		c.mu.Unlock()
		return ErrNotRestoreFailed
	}
	id := c.restoreID
	c.mu.Unlock()
	return c.restore(id, 0)
}

// =============================================================================
// SEND
// =============================================================================

// Send posts a message and an optional attachment to the persona.
//
// It does nothing and returns an error when the text is blank with no
// attachment, when an operation is in flight, or when the conversation is
// archived. On success the conversation id is adopted if new, the typing
// placeholder becomes the reply and the user message takes its server id. On
// failure the placeholder becomes an error bubble and the user message stays.
func (c *Controller) Send(text string, file *upload.File) error {
	text = model.NormalizeText(strings.TrimSpace(text))
	if text == "" && file == nil {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.closedLocked() {
		c.mu.Unlock()
		return ErrClosed
	}
	if err := c.checkWritableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}

	convID := c.conversationID
	if convID == "" {
		if rid := c.route.Params().ConversationID; ValidConversationID(rid) {
			convID = rid
		}
	}
	if file != nil {
		if c.opts.Uploader == nil {
			c.mu.Unlock()
			return ErrNoUploader
		}
		if err := c.opts.Uploader.Validate(*file); err != nil {
			c.mu.Unlock()
			return err
		}
		if convID == "" {
			c.mu.Unlock()
			return upload.ErrNoConversation
		}
	}

	personaID := c.persona.ID
	gen, sctx := c.screenGen, c.screenCtx
	user := model.NewUserMessage(text, c.currentUserID())
	typing := model.NewTypingPlaceholder()
	c.messages.Append(user)
	c.messages.Append(typing)
	c.state = StateSending
	c.editFailure = nil
	c.mu.Unlock()
	c.notify()

	req := api.ChatRequest{Message: text, ConversationID: convID}
	var err error
	if file != nil {
		var att *model.Attachment
		att, err = c.opts.Uploader.Upload(sctx, convID, *file)
		if err == nil {
			req.FileID = att.FileID
			c.messages.Update(user.ID, func(m *model.Message) {
				m.Attachments = []model.Attachment{*att}
			})
		}
	}
	var reply *api.ChatReply
	if err == nil {
		reply, err = c.backend.Chat(sctx, personaID, req)
	}

	c.mu.Lock()
	if stale := c.staleLocked(gen); stale != nil {
		c.mu.Unlock()
		c.logger.Debug("dropping send result", zap.String("persona_id", personaID), zap.Error(stale))
		return stale
	}

	if err != nil {
		c.messages.Replace(typing.ID, model.NewErrorMessage(sendErrorText(err)))
		c.state = c.settledStateLocked()
		c.mu.Unlock()
		c.logger.Warn("send failed", zap.String("persona_id", personaID), zap.Error(err))
		c.notify()
		return err
	}

	adopted := ""
	if c.conversationID == "" && reply.ConversationID != "" {
		c.conversationID = reply.ConversationID
		adopted = reply.ConversationID
	}

	assistantID := reply.AssistantMessageID
	if assistantID == "" {
		assistantID = confirmedID(typing.ID)
	}
	if !c.messages.Replace(typing.ID, model.NewAssistantMessage(assistantID, reply.Reply)) {
		c.messages.Replace(typing.ID, model.NewAssistantMessage(confirmedID(typing.ID), reply.Reply))
	}

	userID := reply.UserMessageID
	if userID == "" || !c.messages.Rekey(user.ID, userID) {
		c.messages.Rekey(user.ID, confirmedID(user.ID))
	}

	if c.title == "" && reply.SuggestedTitle != "" {
		c.title = reply.SuggestedTitle
	}
	c.state = c.settledStateLocked()
	c.mu.Unlock()

	if adopted != "" {
		p := c.route.Params()
		p.ConversationID = adopted
		p.Draft = ""
		c.route.Replace(p)
		c.logger.Info("conversation started", zap.String("conversation_id", adopted))
	}
	c.notify()
	return nil
}

// checkWritableLocked refuses writes while busy, archived or not loaded.
func (c *Controller) checkWritableLocked() error {
	switch c.state {
	case StateSending, StateRestoring:
		return ErrBusy
	case StateArchived:
		return ErrArchived
	case StateRestoreFailed:
		return ErrNotReady
	}
	return nil
}

// confirmedID turns a temporary id into a settled local id, used when the
// backend does not report the id it assigned.
func confirmedID(tempID string) string {
	return "local_" + strings.TrimPrefix(tempID, model.TempIDPrefix)
}

func sendErrorText(err error) string {
	var ve *upload.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	return "Sorry, the message could not be delivered. " + err.Error()
}

// =============================================================================
// EDIT
// =============================================================================

// EditMessage replaces the text of one of the current user's messages.
//
// It is refused without a network call when the message is not a user message,
// belongs to someone else, is still unconfirmed, or when the screen is busy or
// archived. A backend failure is reported as *EditFailure and leaves the list
// untouched.
func (c *Controller) EditMessage(id, text string) error {
	text = model.NormalizeText(strings.TrimSpace(text))
	if text == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.closedLocked() {
		c.mu.Unlock()
		return ErrClosed
	}
	msg, ok := c.messages.Get(id)
	if !ok {
		c.mu.Unlock()
		return ErrMessageNotFound
	}
	if msg.Sender != model.SenderUser || msg.IsTemporary() {
		c.mu.Unlock()
		return ErrNotEditable
	}
	if msg.OwnerUserID != "" && msg.OwnerUserID != c.currentUserID() {
		c.mu.Unlock()
		return ErrNotEditable
	}
	if err := c.checkWritableLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = StateSending
	c.editFailure = nil
	gen, sctx := c.screenGen, c.screenCtx
	c.mu.Unlock()
	c.notify()

	res, err := c.backend.EditMessage(sctx, id, text)

	c.mu.Lock()
	if stale := c.staleLocked(gen); stale != nil {
		c.mu.Unlock()
		c.logger.Debug("dropping edit result", zap.String("message_id", id), zap.Error(stale))
		return stale
	}
	if err != nil {
		failure := &EditFailure{MessageID: id, Err: err}
		c.editFailure = failure
		c.state = c.settledStateLocked()
		c.mu.Unlock()
		c.logger.Warn("edit failed", zap.String("message_id", id), zap.Error(err))
		c.notify()
		return failure
	}

	c.messages.Update(id, func(m *model.Message) {
		m.Text = text
		m.Edited = true
	})
	if res.HasFollowUp() {
		updated := c.messages.Update(res.AssistantMessageID, func(m *model.Message) {
			m.Text = res.AssistantMessageContent
		})
		if !updated {
			c.messages.Append(model.NewAssistantMessage(res.AssistantMessageID, res.AssistantMessageContent))
		}
	}
	c.state = c.settledStateLocked()
	c.mu.Unlock()
	c.notify()
	return nil
}

// DismissEditFailure clears the edit failure notice.
func (c *Controller) DismissEditFailure() {
	c.mu.Lock()
	c.editFailure = nil
	c.mu.Unlock()
	c.notify()
}

// =============================================================================
// REACTIONS
// =============================================================================

// ToggleReaction toggles the current user's reaction and applies the server's
// reported action locally without refetching the conversation.
func (c *Controller) ToggleReaction(messageID string, t model.ReactionType) error {
	if !t.Valid() {
		return fmt.Errorf("unknown reaction type %q", t)
	}

	c.mu.Lock()
	if c.closedLocked() {
		c.mu.Unlock()
		return ErrClosed
	}
	msg, ok := c.messages.Get(messageID)
	if !ok {
		c.mu.Unlock()
		return ErrMessageNotFound
	}
	if msg.IsTemporary() {
		c.mu.Unlock()
		return ErrNotReady
	}
	me := c.currentUserID()
	gen, sctx := c.screenGen, c.screenCtx
	c.mu.Unlock()

	res, err := c.backend.React(sctx, messageID, t)

	c.mu.Lock()
	if stale := c.staleLocked(gen); stale != nil {
		c.mu.Unlock()
		return stale
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}
	var applyErr error
	c.messages.Update(messageID, func(m *model.Message) {
		m.Reactions, applyErr = model.ApplyReaction(m.Reactions, me, res.Type, res.Action)
	})
	c.mu.Unlock()
	c.notify()
	return applyErr
}

// =============================================================================
// ARCHIVING
// =============================================================================

// Unarchive clears archivedAt on the backend and reopens the conversation.
func (c *Controller) Unarchive() error {
	c.mu.Lock()
	if c.closedLocked() {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateArchived {
		c.mu.Unlock()
		return ErrNotArchived
	}
	id := c.conversationID
	gen, sctx := c.screenGen, c.screenCtx
	c.mu.Unlock()

	conv, err := c.backend.UpdateConversation(sctx, id, api.ConversationUpdate{Unarchive: true})

	c.mu.Lock()
	if stale := c.staleLocked(gen); stale != nil {
		c.mu.Unlock()
		return stale
	}
	if c.conversationID != id {
		c.mu.Unlock()
		return ErrSuperseded
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.archivedAt = conv.ArchivedAt
	if !c.state.Busy() {
		c.state = c.settledStateLocked()
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// SetArchivedAt applies an archive change made elsewhere.
func (c *Controller) SetArchivedAt(t *time.Time) {
	c.mu.Lock()
	c.archivedAt = t
	if c.state == StateActive || c.state == StateArchived {
		c.state = c.settledStateLocked()
	}
	c.mu.Unlock()
	c.notify()
}
