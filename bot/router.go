// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/chatwarden/chatwarden/chat"
	"github.com/chatwarden/chatwarden/lib/jid"
)

// RouterOptions configures a Router.
type RouterOptions struct {
	Dispatcher *Dispatcher

	// Prefix is the command marker. Default "!".
	Prefix string

	// Greetings enables welcome and goodbye messages on membership
	// changes.
	Greetings bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// CallTimeout bounds the protocol calls made per event (metadata
	// fetch, replies). Default 30s.
	CallTimeout time.Duration
}

// Router turns raw chat events into command invocations and greeting
// messages. It implements session.Handler; all methods are called from
// the session event loop, one event at a time.
type Router struct {
	dispatcher  *Dispatcher
	prefix      string
	greetings   bool
	logger      *slog.Logger
	callTimeout time.Duration
}

// NewRouter returns a Router over the given Dispatcher.
func NewRouter(options RouterOptions) *Router {
	if options.Prefix == "" {
		options.Prefix = "!"
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.CallTimeout <= 0 {
		options.CallTimeout = 30 * time.Second
	}
	return &Router{
		dispatcher:  options.Dispatcher,
		prefix:      options.Prefix,
		greetings:   options.Greetings,
		logger:      options.Logger,
		callTimeout: options.CallTimeout,
	}
}

// HandleMessage parses one inbound message and dispatches it when it is
// a command. Non-command messages, messages without extractable text,
// and the bot's own messages are dropped.
func (r *Router) HandleMessage(ctx context.Context, conn chat.Conn, message *chat.IncomingMessage) {
	defer r.recover("message")

	if message.Sender.Bare() == conn.SelfID().Bare() {
		return
	}
	body := message.Body()
	if !strings.HasPrefix(body, r.prefix) {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(body, r.prefix))
	if len(fields) == 0 {
		return
	}
	command := strings.ToLower(fields[0])

	// Look up before fetching metadata so unknown commands cost no
	// network call.
	if _, known := builtinCommands[command]; !known {
		r.logger.Debug("ignoring unknown command", "command", command)
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	// One metadata snapshot per invocation. A failed fetch downgrades
	// the invocation to group-less rather than dropping it; the
	// dispatcher reports the missing context for commands that need it.
	var group *chat.Group
	if message.Conversation.IsGroup() {
		snapshot, err := conn.GroupMetadata(callCtx, message.Conversation)
		if err != nil {
			r.logger.Warn("failed to fetch group metadata",
				"group", message.Conversation.String(), "error", err)
		} else {
			group = snapshot
		}
	}

	r.dispatcher.Dispatch(callCtx, &Invocation{
		Conn:    conn,
		Message: message,
		Command: command,
		Args:    fields[1:],
		Group:   group,
	})
}

// HandleMembership greets joining users and bids leaving users goodbye.
func (r *Router) HandleMembership(ctx context.Context, conn chat.Conn, change *chat.MembershipChange) {
	defer r.recover("membership")

	if !r.greetings {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	for _, user := range change.Joined {
		r.send(callCtx, conn, change.Group, "Welcome, "+mention(user)+"!", user)
	}
	for _, user := range change.Left {
		r.send(callCtx, conn, change.Group, "Goodbye, "+mention(user)+".", user)
	}
}

func (r *Router) send(ctx context.Context, conn chat.Conn, to jid.JID, text string, mentions ...jid.JID) {
	err := conn.SendMessage(ctx, to, chat.Message{Text: text, Mentions: mentions})
	if err != nil {
		r.logger.Error("failed to send greeting", "group", to.String(), "error", err)
	}
}

// recover keeps a handler panic from taking down the event loop. The
// event that caused it is lost; everything after it proceeds.
func (r *Router) recover(kind string) {
	if panicked := recover(); panicked != nil {
		r.logger.Error("recovered panic while handling event",
			"kind", kind, "panic", panicked, "stack", string(debug.Stack()))
	}
}
