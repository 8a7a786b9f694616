// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

package bot

// Command dispatch for prefixed chat messages. The router extracts the
// command word and arguments, the dispatcher authorizes the sender via
// the group's participant list, executes the built-in handler, and
// replies in-conversation quoting the invoking message.
//
// Unknown commands are dropped silently: in a busy group, any message
// starting with the prefix character is more likely a typo or chatter
// than a failed command, and correcting every one is noise.

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/chatwarden/chatwarden/chat"
	"github.com/chatwarden/chatwarden/lib/jid"
	"github.com/chatwarden/chatwarden/store"
)

// Messenger is the subset of chat.Conn the command handlers use.
// Narrowed for testability: command tests inject a recording fake.
type Messenger interface {
	SelfID() jid.JID
	SendMessage(ctx context.Context, to jid.JID, message chat.Message) error
	GroupMetadata(ctx context.Context, group jid.JID) (*chat.Group, error)
	UpdateParticipants(ctx context.Context, group jid.JID, members []jid.JID, change chat.ParticipantChange) error
}

// Invocation is one parsed command invocation, assembled by the router
// and consumed by exactly one handler.
type Invocation struct {
	// Conn is the live connection the command arrived on.
	Conn Messenger

	// Message is the invoking message.
	Message *chat.IncomingMessage

	// Command is the lowercased command word, prefix stripped.
	Command string

	// Args are the whitespace-separated tokens after the command word.
	Args []string

	// Group is the conversation's metadata snapshot, fetched once per
	// invocation. Nil in direct chats and when the fetch failed.
	Group *chat.Group
}

// reply sends text into the invoking conversation as a quoted reply.
func (inv *Invocation) reply(ctx context.Context, text string, mentions ...jid.JID) error {
	return inv.Conn.SendMessage(ctx, inv.Message.Conversation, chat.Message{
		Text:     text,
		Mentions: mentions,
		Quote: &chat.QuoteRef{
			MessageID: inv.Message.ID,
			Sender:    inv.Message.Sender,
			Body:      inv.Message.Body(),
		},
	})
}

// mention renders a user as the @-form clients display for a mention.
func mention(user jid.JID) string {
	return "@" + user.User()
}

// commandDefinition describes a single built-in command: who may run
// it, what context it needs, and the handler function.
type commandDefinition struct {
	// adminOnly restricts the command to group administrators.
	adminOnly bool

	// needsBotAdmin additionally requires the bot's own account to hold
	// group admin rights (membership mutations are rejected by the
	// network otherwise, so fail early with a clear message).
	needsBotAdmin bool

	// needsGroup restricts the command to group conversations.
	needsGroup bool

	// usage is the one-line argument synopsis shown on misuse and in
	// help output.
	usage string

	// summary is the one-line description shown in help output.
	summary string

	handler func(ctx context.Context, d *Dispatcher, inv *Invocation) error
}

// builtinCommands maps command names to their definitions. Messages
// whose command word is not in this map are ignored silently.
var builtinCommands map[string]commandDefinition

// The map is assigned in init rather than in the declaration: handlers
// reference usageError, which reads builtinCommands, and a declaration
// initializer would form an initialization cycle.
func init() {
	builtinCommands = map[string]commandDefinition{
		"help": {
			usage:   "help",
			summary: "list available commands",
			handler: handleHelp,
		},
		"ping": {
			usage:   "ping",
			summary: "check that the bot is alive",
			handler: handlePing,
		},
		"groupinfo": {
			needsGroup: true,
			usage:      "groupinfo",
			summary:    "show the group's name, owner, and size",
			handler:    handleGroupInfo,
		},
		"tagall": {
			needsGroup: true,
			usage:      "tagall [message]",
			summary:    "mention every group member",
			handler:    handleTagAll,
		},
		"warn": {
			needsGroup: true,
			usage:      "warn @user [@user ...]",
			summary:    "add a warning to the mentioned users",
			handler:    handleWarn,
		},
		"unwarn": {
			needsGroup: true,
			usage:      "unwarn @user [@user ...]",
			summary:    "remove a warning from the mentioned users",
			handler:    handleUnwarn,
		},
		"savequote": {
			usage:   "savequote <text>",
			summary: "save a quote for this conversation",
			handler: handleSaveQuote,
		},
		"getquote": {
			usage:   "getquote",
			summary: "recall a random saved quote",
			handler: handleGetQuote,
		},
		"calc": {
			usage:   "calc <expression>",
			summary: "evaluate an arithmetic expression",
			handler: handleCalc,
		},
		"kick": {
			adminOnly:     true,
			needsBotAdmin: true,
			needsGroup:    true,
			usage:         "kick @user",
			summary:       "remove the mentioned user from the group",
			handler:       handleKick,
		},
		"add": {
			adminOnly:     true,
			needsBotAdmin: true,
			needsGroup:    true,
			usage:         "add <phone number>",
			summary:       "add a user to the group by phone number",
			handler:       handleAdd,
		},
		"broadcast": {
			adminOnly:  true,
			needsGroup: true,
			usage:      "broadcast <message>",
			summary:    "send a message that notifies every member",
			handler:    handleBroadcast,
		},
		"restart": {
			adminOnly:  true,
			needsGroup: true,
			usage:      "restart",
			summary:    "restart the bot process",
			handler:    handleRestart,
		},
	}
}

// Options configures a Dispatcher.
type Options struct {
	Store *store.Store

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// CountryCode is prepended to phone numbers for the add command.
	// Default "1".
	CountryCode string

	// TagAllHeader is the first line of the tagall announcement.
	TagAllHeader string

	// RequestRestart triggers a process restart. Called by the restart
	// command after its acknowledgment has been sent. Nil disables the
	// command.
	RequestRestart func()
}

// Dispatcher authorizes and executes built-in commands.
type Dispatcher struct {
	store          *store.Store
	logger         *slog.Logger
	countryCode    string
	tagAllHeader   string
	requestRestart func()
}

// NewDispatcher returns a Dispatcher over the given moderation store.
func NewDispatcher(options Options) *Dispatcher {
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.CountryCode == "" {
		options.CountryCode = "1"
	}
	if options.TagAllHeader == "" {
		options.TagAllHeader = "Attention everyone:"
	}
	return &Dispatcher{
		store:          options.Store,
		logger:         options.Logger,
		countryCode:    options.CountryCode,
		tagAllHeader:   options.TagAllHeader,
		requestRestart: options.RequestRestart,
	}
}

// Dispatch is the per-command lifecycle: look up, check context,
// authorize, execute, and reply on error. Unknown commands return
// without any reply.
func (d *Dispatcher) Dispatch(ctx context.Context, inv *Invocation) {
	definition, exists := builtinCommands[inv.Command]
	if !exists {
		d.logger.Debug("ignoring unknown command",
			"command", inv.Command, "conversation", inv.Message.Conversation.String())
		return
	}

	start := time.Now()
	d.logger.Info("processing command",
		"command", inv.Command,
		"conversation", inv.Message.Conversation.String(),
		"sender", inv.Message.Sender.String(),
		"args", len(inv.Args),
	)

	if definition.needsGroup && inv.Group == nil {
		d.replyError(ctx, inv, fmt.Sprintf("%s only works in a group", inv.Command))
		return
	}
	if definition.adminOnly && !inv.Group.IsAdmin(inv.Message.Sender) {
		d.replyError(ctx, inv, fmt.Sprintf("%s requires group admin", inv.Command))
		return
	}
	if definition.needsBotAdmin && !inv.Group.IsAdmin(inv.Conn.SelfID()) {
		d.replyError(ctx, inv, "I need group admin rights for that")
		return
	}

	if err := definition.handler(ctx, d, inv); err != nil {
		d.replyError(ctx, inv, err.Error())
		return
	}

	d.logger.Info("command completed",
		"command", inv.Command,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// replyError reports a command failure into the conversation. A failed
// error reply is only logged; there is nothing further to tell the user.
func (d *Dispatcher) replyError(ctx context.Context, inv *Invocation, message string) {
	d.logger.Warn("command failed",
		"command", inv.Command,
		"conversation", inv.Message.Conversation.String(),
		"error", message,
	)
	if err := inv.reply(ctx, message); err != nil {
		d.logger.Error("failed to send error reply",
			"command", inv.Command, "error", err)
	}
}

// usageError is the uniform misuse reply: the synopsis of the command
// that was misused.
func usageError(command string) error {
	definition := builtinCommands[command]
	return fmt.Errorf("usage: %s", definition.usage)
}

// commandNames returns the registry's names in sorted order.
func commandNames() []string {
	names := make([]string, 0, len(builtinCommands))
	for name := range builtinCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// helpText renders the help reply from the registry.
func helpText() string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, name := range commandNames() {
		definition := builtinCommands[name]
		fmt.Fprintf(&b, "  %s - %s\n", definition.usage, definition.summary)
	}
	return strings.TrimRight(b.String(), "\n")
}
