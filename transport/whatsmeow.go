// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport adapts whatsmeow to the chat interfaces. This is
// the only package that imports the protocol library; everything above
// it speaks chat.Conn and chat.Event.
//
// The adapter disables whatsmeow's own reconnect machinery: retry
// policy belongs to the session manager, which dials a fresh Conn per
// attempt. One Dial produces one whatsmeow client over one device
// store; the device store lives in an SQLite database inside the
// credential directory.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"

	"github.com/chatwarden/chatwarden/chat"
	"github.com/chatwarden/chatwarden/lib/jid"
)

// Driver implements chat.Transport over whatsmeow.
type Driver struct {
	logger *slog.Logger
}

// New returns a Driver logging through the given logger.
func New(logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{logger: logger}
}

// Dial opens the device store in the credential directory, creates a
// whatsmeow client over it, and connects. When the store holds no
// registered device the connection stays in the authentication phase
// and emits ConnectionLoginQR events until the operator logs in.
func (d *Driver) Dial(ctx context.Context, config chat.DialConfig) (chat.Conn, error) {
	databasePath := filepath.Join(config.CredentialDir, "session.db")
	container, err := sqlstore.New("sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", databasePath),
		&logAdapter{logger: d.logger.With("component", "whatsmeow-store")})
	if err != nil {
		return nil, &chat.TransportError{Op: "dial", Err: fmt.Errorf("opening device store: %w", err)}
	}
	device, err := container.GetFirstDevice()
	if err != nil {
		return nil, &chat.TransportError{Op: "dial", Err: fmt.Errorf("loading device: %w", err)}
	}

	client := whatsmeow.NewClient(device, &logAdapter{logger: d.logger.With("component", "whatsmeow")})
	client.EnableAutoReconnect = false

	conn := &wireConn{
		client: client,
		logger: d.logger,
		events: make(chan chat.Event, 256),
	}
	if config.LookupMessage != nil {
		client.GetMessageForRetry = func(requester, to types.JID, id types.MessageID) *waE2E.Message {
			conversation, err := coreJID(to)
			if err != nil {
				return nil
			}
			body, ok := config.LookupMessage(conversation, string(id))
			if !ok {
				return nil
			}
			return &waE2E.Message{Conversation: proto.String(body)}
		}
	}
	client.AddEventHandler(conn.handleEvent)

	// GetQRChannel must be requested before Connect, and only works
	// while the device is unregistered.
	if client.Store.ID == nil {
		qr, err := client.GetQRChannel(ctx)
		if err != nil && !errors.Is(err, whatsmeow.ErrQRStoreContainsID) {
			return nil, &chat.TransportError{Op: "dial", Err: fmt.Errorf("requesting QR channel: %w", err)}
		}
		if err == nil {
			go conn.pumpQR(qr)
		}
	}

	if err := client.Connect(); err != nil {
		return nil, &chat.TransportError{Op: "dial", Err: err}
	}
	return conn, nil
}

// wireConn is one live whatsmeow client presented as a chat.Conn.
type wireConn struct {
	client *whatsmeow.Client
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	events chan chat.Event
}

func (c *wireConn) SelfID() jid.JID {
	id := c.client.Store.ID
	if id == nil {
		return jid.JID{}
	}
	self, err := coreJID(*id)
	if err != nil {
		return jid.JID{}
	}
	return self
}

func (c *wireConn) Events() <-chan chat.Event { return c.events }

// emit delivers an event to the session loop. Events arriving after
// Close are dropped; the consumer is gone.
func (c *wireConn) emit(event chat.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- event:
	default:
		c.logger.Warn("event buffer full, dropping event", "kind", event.Kind.String())
	}
}

func (c *wireConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.events)
	c.mu.Unlock()

	c.client.Disconnect()
	return nil
}

// pumpQR forwards QR rotations from whatsmeow's pairing channel as
// connection events. Success ends the pairing flow silently; the
// Connected event follows on the main handler.
func (c *wireConn) pumpQR(items <-chan whatsmeow.QRChannelItem) {
	for item := range items {
		switch item.Event {
		case "code":
			c.emit(chat.Event{
				Kind:       chat.EventConnection,
				Connection: &chat.ConnectionUpdate{Status: chat.ConnectionLoginQR, QRCode: item.Code},
			})
		case "success":
			c.emit(chat.Event{Kind: chat.EventCredentials})
		case "timeout":
			c.emit(chat.Event{
				Kind: chat.EventConnection,
				Connection: &chat.ConnectionUpdate{
					Status: chat.ConnectionClosed,
					Err:    &chat.TransportError{Op: "dial", Reason: "login QR expired before it was scanned"},
				},
			})
		default:
			if item.Error != nil {
				c.emit(chat.Event{
					Kind: chat.EventConnection,
					Connection: &chat.ConnectionUpdate{
						Status: chat.ConnectionClosed,
						Err:    &chat.TransportError{Op: "dial", Err: item.Error},
					},
				})
			}
		}
	}
}

// handleEvent translates whatsmeow events into chat events. Runs on
// whatsmeow's handler goroutine; translation must stay cheap.
func (c *wireConn) handleEvent(raw any) {
	switch evt := raw.(type) {
	case *events.Connected:
		c.emit(chat.Event{
			Kind:       chat.EventConnection,
			Connection: &chat.ConnectionUpdate{Status: chat.ConnectionOpen},
		})

	case *events.PairSuccess:
		c.emit(chat.Event{Kind: chat.EventCredentials})

	case *events.Disconnected:
		c.emit(chat.Event{
			Kind: chat.EventConnection,
			Connection: &chat.ConnectionUpdate{
				Status: chat.ConnectionClosed,
				Err:    &chat.TransportError{Op: "dial", Reason: "server closed the connection"},
			},
		})

	case *events.StreamReplaced:
		c.emit(chat.Event{
			Kind: chat.EventConnection,
			Connection: &chat.ConnectionUpdate{
				Status: chat.ConnectionClosed,
				Err:    &chat.TransportError{Op: "dial", Reason: "another client took over the session"},
			},
		})

	case *events.LoggedOut:
		c.emit(chat.Event{
			Kind: chat.EventConnection,
			Connection: &chat.ConnectionUpdate{
				Status: chat.ConnectionClosed,
				Err: &chat.TransportError{
					Op:        "dial",
					Reason:    fmt.Sprintf("logged out by the server (reason %d)", int(evt.Reason)),
					LoggedOut: true,
				},
				LoggedOut: true,
			},
		})

	case *events.Message:
		if message := translateMessage(evt); message != nil {
			c.emit(chat.Event{Kind: chat.EventMessage, Message: message})
		}

	case *events.GroupInfo:
		if change := translateGroupChange(evt); change != nil {
			c.emit(chat.Event{Kind: chat.EventMembership, Membership: change})
		}
	}
}

func (c *wireConn) SendMessage(ctx context.Context, to jid.JID, message chat.Message) error {
	wire, err := wireJID(to)
	if err != nil {
		return &chat.TransportError{Op: "send", Err: err}
	}

	payload := buildPayload(message)
	if _, err := c.client.SendMessage(ctx, wire, payload); err != nil {
		return &chat.TransportError{Op: "send", Err: err}
	}
	return nil
}

// buildPayload renders an outbound message. Plain text goes out as a
// conversation message; mentions or a quote force the extended form
// because that is where the protocol carries context info.
func buildPayload(message chat.Message) *waE2E.Message {
	if len(message.Mentions) == 0 && message.Quote == nil {
		return &waE2E.Message{Conversation: proto.String(message.Text)}
	}

	contextInfo := &waE2E.ContextInfo{}
	for _, user := range message.Mentions {
		contextInfo.MentionedJID = append(contextInfo.MentionedJID, user.Bare().String())
	}
	if quote := message.Quote; quote != nil {
		contextInfo.StanzaID = proto.String(quote.MessageID)
		contextInfo.Participant = proto.String(quote.Sender.Bare().String())
		contextInfo.QuotedMessage = &waE2E.Message{Conversation: proto.String(quote.Body)}
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(message.Text),
			ContextInfo: contextInfo,
		},
	}
}

func (c *wireConn) GroupMetadata(ctx context.Context, group jid.JID) (*chat.Group, error) {
	wire, err := wireJID(group)
	if err != nil {
		return nil, &chat.TransportError{Op: "group-metadata", Err: err}
	}
	info, err := c.client.GetGroupInfo(wire)
	if err != nil {
		return nil, &chat.TransportError{Op: "group-metadata", Err: err}
	}
	return translateGroup(info), nil
}

func (c *wireConn) UpdateParticipants(ctx context.Context, group jid.JID, members []jid.JID, change chat.ParticipantChange) error {
	wire, err := wireJID(group)
	if err != nil {
		return &chat.TransportError{Op: "update-participants", Err: err}
	}
	targets := make([]types.JID, 0, len(members))
	for _, member := range members {
		target, err := wireJID(member)
		if err != nil {
			return &chat.TransportError{Op: "update-participants", Err: err}
		}
		targets = append(targets, target)
	}

	var action whatsmeow.ParticipantChange
	switch change {
	case chat.ParticipantAdd:
		action = whatsmeow.ParticipantChangeAdd
	case chat.ParticipantRemove:
		action = whatsmeow.ParticipantChangeRemove
	default:
		return &chat.TransportError{Op: "update-participants",
			Err: fmt.Errorf("unsupported participant change %v", change)}
	}

	results, err := c.client.UpdateGroupParticipants(wire, targets, action)
	if err != nil {
		return &chat.TransportError{Op: "update-participants", Err: err}
	}
	// The call can succeed as a whole while rejecting individual
	// members; the per-member status code is the rejection reason.
	for _, result := range results {
		if result.Error != 0 {
			return &chat.TransportError{
				Op:     "update-participants",
				Reason: fmt.Sprintf("%s rejected with status %d", result.JID.User, result.Error),
			}
		}
	}
	return nil
}

func (c *wireConn) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	code, err := c.client.PairPhone(phone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		return "", &chat.TransportError{Op: "pairing-code", Err: err}
	}
	return code, nil
}

// PersistCredentials flushes the device record. The SQL store already
// writes key material synchronously as it changes; this covers the
// device row itself (registration state, push name).
func (c *wireConn) PersistCredentials(ctx context.Context) error {
	if err := c.client.Store.Save(); err != nil {
		return &chat.TransportError{Op: "persist-credentials", Err: err}
	}
	return nil
}

// --- Translation between wire and core types ---

func wireJID(j jid.JID) (types.JID, error) {
	parsed, err := types.ParseJID(j.String())
	if err != nil {
		return types.JID{}, fmt.Errorf("jid %q not representable on the wire: %w", j.String(), err)
	}
	return parsed, nil
}

func coreJID(j types.JID) (jid.JID, error) {
	return jid.Parse(j.String())
}

// mustCoreJID is for wire values that are structurally valid addresses
// by construction; translation failures degrade to the zero JID.
func mustCoreJID(j types.JID) jid.JID {
	parsed, err := coreJID(j)
	if err != nil {
		return jid.JID{}
	}
	return parsed
}

func translateMessage(evt *events.Message) *chat.IncomingMessage {
	payload := evt.Message
	if payload == nil {
		return nil
	}

	incoming := &chat.IncomingMessage{
		ID:           string(evt.Info.ID),
		Conversation: mustCoreJID(evt.Info.Chat),
		Sender:       mustCoreJID(evt.Info.Sender),
		Timestamp:    evt.Info.Timestamp,
		Text:         payload.GetConversation(),
	}
	if incoming.Conversation.IsZero() || incoming.Sender.IsZero() {
		return nil
	}

	if extended := payload.GetExtendedTextMessage(); extended != nil {
		incoming.ExtendedText = extended.GetText()
		for _, raw := range extended.GetContextInfo().GetMentionedJID() {
			if mentioned, err := jid.Parse(raw); err == nil {
				incoming.Mentions = append(incoming.Mentions, mentioned)
			}
		}
	}
	if image := payload.GetImageMessage(); image != nil {
		incoming.Caption = image.GetCaption()
	}
	if video := payload.GetVideoMessage(); video != nil && incoming.Caption == "" {
		incoming.Caption = video.GetCaption()
	}
	return incoming
}

// translateGroupChange maps a group notification to a membership
// change. Notifications that carry neither joins nor leaves (subject
// edits, setting changes) return nil.
func translateGroupChange(evt *events.GroupInfo) *chat.MembershipChange {
	if len(evt.Join) == 0 && len(evt.Leave) == 0 {
		return nil
	}
	change := &chat.MembershipChange{Group: mustCoreJID(evt.JID)}
	for _, user := range evt.Join {
		change.Joined = append(change.Joined, mustCoreJID(user))
	}
	for _, user := range evt.Leave {
		change.Left = append(change.Left, mustCoreJID(user))
	}
	return change
}

func translateGroup(info *types.GroupInfo) *chat.Group {
	group := &chat.Group{
		ID:          mustCoreJID(info.JID),
		Name:        info.GroupName.Name,
		Owner:       mustCoreJID(info.OwnerJID),
		Created:     info.GroupCreated,
		Description: info.GroupTopic.Topic,
	}
	for _, participant := range info.Participants {
		group.Participants = append(group.Participants, chat.Participant{
			JID:   mustCoreJID(participant.JID).Bare(),
			Admin: participant.IsAdmin || participant.IsSuperAdmin,
		})
	}
	return group
}

// logAdapter bridges whatsmeow's logger interface onto slog.
type logAdapter struct {
	logger *slog.Logger
}

func (l *logAdapter) Errorf(msg string, args ...any) { l.logger.Error(fmt.Sprintf(msg, args...)) }
func (l *logAdapter) Warnf(msg string, args ...any)  { l.logger.Warn(fmt.Sprintf(msg, args...)) }
func (l *logAdapter) Infof(msg string, args ...any)  { l.logger.Info(fmt.Sprintf(msg, args...)) }
func (l *logAdapter) Debugf(msg string, args ...any) { l.logger.Debug(fmt.Sprintf(msg, args...)) }

func (l *logAdapter) Sub(module string) waLog.Logger {
	return &logAdapter{logger: l.logger.With("module", module)}
}
