// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatwarden/chatwarden/chat"
	"github.com/chatwarden/chatwarden/lib/calc"
	"github.com/chatwarden/chatwarden/lib/jid"
)

func handleHelp(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	return inv.reply(ctx, helpText())
}

func handlePing(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	return inv.reply(ctx, "pong")
}

func handleGroupInfo(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	group := inv.Group

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", group.Name)
	fmt.Fprintf(&b, "Members: %d\n", len(group.Participants))
	if !group.Owner.IsZero() {
		fmt.Fprintf(&b, "Owner: %s\n", mention(group.Owner))
	}
	if !group.Created.IsZero() {
		fmt.Fprintf(&b, "Created: %s\n", group.Created.Format("2006-01-02"))
	}
	if group.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", group.Description)
	}

	var mentions []jid.JID
	if !group.Owner.IsZero() {
		mentions = append(mentions, group.Owner)
	}
	return inv.reply(ctx, strings.TrimRight(b.String(), "\n"), mentions...)
}

func handleTagAll(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	header := d.tagAllHeader
	if len(inv.Args) > 0 {
		header = strings.Join(inv.Args, " ")
	}

	var b strings.Builder
	b.WriteString(header)
	mentions := make([]jid.JID, 0, len(inv.Group.Participants))
	for _, participant := range inv.Group.Participants {
		fmt.Fprintf(&b, "\n%s", mention(participant.JID))
		mentions = append(mentions, participant.JID)
	}
	return inv.reply(ctx, b.String(), mentions...)
}

func handleWarn(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	if len(inv.Message.Mentions) == 0 {
		return usageError(inv.Command)
	}

	var lines []string
	for _, user := range inv.Message.Mentions {
		count := d.store.IncrementWarning(user)
		lines = append(lines, fmt.Sprintf("%s now has %s", mention(user), pluralWarnings(count)))
	}
	return inv.reply(ctx, strings.Join(lines, "\n"), inv.Message.Mentions...)
}

func handleUnwarn(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	if len(inv.Message.Mentions) == 0 {
		return usageError(inv.Command)
	}

	var lines []string
	for _, user := range inv.Message.Mentions {
		count := d.store.DecrementWarning(user)
		lines = append(lines, fmt.Sprintf("%s now has %s", mention(user), pluralWarnings(count)))
	}
	return inv.reply(ctx, strings.Join(lines, "\n"), inv.Message.Mentions...)
}

func pluralWarnings(count int) string {
	if count == 1 {
		return "1 warning"
	}
	return fmt.Sprintf("%d warnings", count)
}

func handleSaveQuote(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	text := strings.Join(inv.Args, " ")
	if text == "" {
		return usageError(inv.Command)
	}
	d.store.AddQuote(inv.Message.Conversation, text)
	total := d.store.QuoteCount(inv.Message.Conversation)
	return inv.reply(ctx, fmt.Sprintf("Quote #%d saved.", total))
}

func handleGetQuote(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	quote, ok := d.store.RandomQuote(inv.Message.Conversation)
	if !ok {
		return inv.reply(ctx, "No quotes saved here yet.")
	}
	return inv.reply(ctx, quote)
}

func handleCalc(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	expression := strings.Join(inv.Args, " ")
	if expression == "" {
		return usageError(inv.Command)
	}
	value, err := calc.Eval(expression)
	if err != nil {
		return err
	}
	return inv.reply(ctx, fmt.Sprintf("%s = %s", expression, calc.Format(value)))
}

func handleKick(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	if len(inv.Message.Mentions) != 1 {
		return usageError(inv.Command)
	}
	target := inv.Message.Mentions[0]

	group := inv.Group.ID
	err := inv.Conn.UpdateParticipants(ctx, group, []jid.JID{target}, chat.ParticipantRemove)
	if err != nil {
		// The network's rejection reason goes to the user verbatim;
		// there is no retry for membership mutations.
		return fmt.Errorf("could not remove %s: %s", mention(target), chat.FailureReason(err))
	}
	return inv.reply(ctx, fmt.Sprintf("%s has been removed.", mention(target)), target)
}

func handleAdd(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	if len(inv.Args) != 1 {
		return usageError(inv.Command)
	}
	target, err := jid.FromPhone(inv.Args[0], d.countryCode)
	if err != nil {
		return usageError(inv.Command)
	}

	group := inv.Group.ID
	if err := inv.Conn.UpdateParticipants(ctx, group, []jid.JID{target}, chat.ParticipantAdd); err != nil {
		return fmt.Errorf("could not add %s: %s", mention(target), chat.FailureReason(err))
	}
	return inv.reply(ctx, fmt.Sprintf("%s has been added.", mention(target)), target)
}

func handleBroadcast(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	text := strings.Join(inv.Args, " ")
	if text == "" {
		return usageError(inv.Command)
	}

	// The mention list carries every member without rendering @-tags
	// into the body, so everyone is notified but the text stays clean.
	mentions := make([]jid.JID, 0, len(inv.Group.Participants))
	for _, participant := range inv.Group.Participants {
		mentions = append(mentions, participant.JID)
	}
	return inv.Conn.SendMessage(ctx, inv.Group.ID, chat.Message{
		Text:     text,
		Mentions: mentions,
	})
}

func handleRestart(ctx context.Context, d *Dispatcher, inv *Invocation) error {
	if d.requestRestart == nil {
		return fmt.Errorf("restart is not available")
	}

	// Acknowledge before restarting: once the restart is requested the
	// connection goes away and no reply can be delivered.
	if err := inv.reply(ctx, "Restarting."); err != nil {
		d.logger.Error("failed to send restart acknowledgment", "error", err)
	}
	d.requestRestart()
	return nil
}
