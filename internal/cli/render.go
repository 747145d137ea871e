// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/personachat/internal/conversation"
	"github.com/jeranaias/personachat/internal/model"
	"github.com/jeranaias/personachat/internal/util"
)

// titleWidth bounds conversation titles in headers.
const titleWidth = 60

// renderer formats chat screens for the terminal.
type renderer struct {
	width    int
	markdown *glamour.TermRenderer // nil renders replies as plain wrapped text
}

// newRenderer creates a renderer. Markdown is rendered only when asked for,
// which callers tie to stdout being a terminal so piped output stays plain.
func newRenderer(width int, markdown bool) *renderer {
	if width <= 0 {
		width = DefaultTerminalWidth
	}
	r := &renderer{width: width}
	if markdown {
		md, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(width-4),
		)
		if err == nil {
			r.markdown = md
		}
	}
	return r
}

// header describes the screen: persona, title, and archive state.
func (r *renderer) header(s conversation.Snapshot) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Chatting with " + s.Persona.DisplayName()))
	if s.Persona.Description != "" {
		b.WriteString(DimStyle.Render("  " + s.Persona.Description))
	}
	b.WriteByte('\n')
	if s.Title != "" {
		b.WriteString(RenderLabel("Conversation") + ValueStyle.Render(util.TruncateWidth(util.SingleLine(s.Title), titleWidth)) + "\n")
	}
	if s.ConversationID != "" {
		b.WriteString(RenderLabel("ID") + DimStyle.Render(s.ConversationID) + "\n")
	}
	if s.ArchivedAt != nil {
		b.WriteString(WarningStyle.Render(fmt.Sprintf("Archived %s ago. Use /unarchive to continue this conversation.",
			formatDuration(time.Since(*s.ArchivedAt)))) + "\n")
	}
	b.WriteString(RenderSeparator(r.width - 4))
	return b.String()
}

// intro renders the persona's greeting shown on an empty screen.
func (r *renderer) intro(p model.Persona) string {
	text := p.Intro
	if text == "" {
		text = "Say hello to " + p.DisplayName() + "."
	}
	return introStyle.Width(r.width - 4).Render(WrapText(text, r.width-8))
}

// message renders message n (1-based) of a screen.
func (r *renderer) message(n int, m model.Message, persona model.Persona, me string) string {
	if m.IsTyping {
		return DimStyle.Render(persona.DisplayName() + " is typing...")
	}

	var name string
	switch m.Sender {
	case model.SenderUser:
		name = userNameStyle.Render(m.Sender.DisplayName())
	default:
		name = personaNameStyle.Render(persona.DisplayName())
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", DimStyle.Render(fmt.Sprintf("[%d]", n)), name)
	if m.Edited {
		b.WriteString(DimStyle.Render(" (edited)"))
	}
	if m.IsTemporary() && !m.IsError {
		b.WriteString(DimStyle.Render(" (sending)"))
	}
	b.WriteByte('\n')

	switch {
	case m.IsError:
		b.WriteString(ErrorStyle.Render(WrapText(m.Text, r.width-2)))
	case m.Sender == model.SenderAssistant:
		b.WriteString(r.reply(m.Text))
	default:
		b.WriteString(WrapText(m.Text, r.width-2))
	}

	for _, a := range m.Attachments {
		b.WriteString("\n" + DimStyle.Render(fmt.Sprintf("  attachment: %s (%s, %s)",
			util.TruncateWidth(a.Filename, 40), a.MimeType, formatBytes(a.SizeBytes))))
	}
	if line := reactionLine(m.Reactions, me); line != "" {
		b.WriteString("\n" + DimStyle.Render("  "+line))
	}
	return b.String()
}

// reply renders assistant text, as markdown when enabled.
func (r *renderer) reply(text string) string {
	if r.markdown != nil {
		if out, err := r.markdown.Render(text); err == nil {
			return strings.TrimRight(out, "\n")
		}
	}
	return WrapText(text, r.width-2)
}

// reactionLine summarizes reactions, e.g. "1 like (you)".
func reactionLine(reactions []model.Reaction, me string) string {
	likes, dislikes := model.CountReactions(reactions)
	if likes == 0 && dislikes == 0 {
		return ""
	}
	var parts []string
	if likes > 0 {
		parts = append(parts, plural(likes, "like"))
	}
	if dislikes > 0 {
		parts = append(parts, plural(dislikes, "dislike"))
	}
	line := strings.Join(parts, ", ")
	if t, ok := model.ReactionBy(reactions, me); ok && me != "" {
		line += fmt.Sprintf(" (you: %s)", strings.ToLower(string(t)))
	}
	return line
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}
