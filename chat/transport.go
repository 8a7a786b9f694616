// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"context"
	"time"

	"github.com/chatwarden/chatwarden/lib/jid"
)

// DialConfig carries the parameters the session manager supplies for
// each connection attempt.
type DialConfig struct {
	// CredentialDir is the directory holding the transport's session
	// credentials. The transport owns its contents; the core only ever
	// purges the directory wholesale on logout.
	CredentialDir string

	// LookupMessage resolves previously seen message text by
	// conversation and message ID, letting the transport rebuild
	// payloads (delivery retries, quoted bodies) without a network
	// fetch. Returns false when the message is unknown.
	LookupMessage func(conversation jid.JID, messageID string) (string, bool)

	// SuppressQRDisplay disables any built-in QR rendering in the
	// transport. Login QR payloads must instead be delivered as
	// ConnectionLoginQR events so the core controls presentation.
	SuppressQRDisplay bool

	// CallTimeout is the per-call deadline applied to individual
	// protocol operations (sends, metadata fetches). Zero means the
	// transport default.
	CallTimeout time.Duration
}

// Transport is the dial factory for the underlying protocol
// implementation. One Dial produces one Conn; the session manager
// dials a fresh Conn for every connection attempt and never reuses a
// closed one.
type Transport interface {
	Dial(ctx context.Context, config DialConfig) (Conn, error)
}

// Conn is one live connection to the messaging network. Not safe for
// concurrent use except where noted; the session manager serializes
// all calls through its event loop.
type Conn interface {
	// SelfID returns the authenticated account's own JID. Zero until
	// the connection has authenticated.
	SelfID() jid.JID

	// Events returns the inbound event stream. The channel is closed
	// when the connection terminates; a ConnectionClosed event is
	// delivered first when the transport knows the reason.
	Events() <-chan Event

	// SendMessage delivers a message to a conversation.
	SendMessage(ctx context.Context, to jid.JID, message Message) error

	// GroupMetadata fetches a read-only snapshot of a group.
	GroupMetadata(ctx context.Context, group jid.JID) (*Group, error)

	// UpdateParticipants adds or removes group members. Requires the
	// authenticated account to hold group admin rights; the network
	// rejects the call otherwise.
	UpdateParticipants(ctx context.Context, group jid.JID, members []jid.JID, change ParticipantChange) error

	// RequestPairingCode asks the network for a pairing code tied to
	// the given phone number, as the non-QR authentication path. Only
	// valid while the connection is awaiting authentication.
	RequestPairingCode(ctx context.Context, phone string) (string, error)

	// PersistCredentials flushes the transport's credential material to
	// the credential directory. Called promptly after every
	// EventCredentials.
	PersistCredentials(ctx context.Context) error

	// Close tears the connection down. Idempotent. Events is closed as
	// a consequence.
	Close() error
}
