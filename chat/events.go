// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import "github.com/chatwarden/chatwarden/lib/jid"

// EventKind tags the variant carried by an Event.
type EventKind int

const (
	// EventMessage carries an IncomingMessage.
	EventMessage EventKind = iota + 1

	// EventMembership carries a MembershipChange.
	EventMembership

	// EventConnection carries a ConnectionUpdate.
	EventConnection

	// EventCredentials signals that the transport rotated session key
	// material. The consumer must persist credentials promptly or risk
	// a forced re-authentication after restart. No payload.
	EventCredentials
)

// String returns the kind name for logging.
func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventMembership:
		return "membership"
	case EventConnection:
		return "connection"
	case EventCredentials:
		return "credentials"
	default:
		return "unknown"
	}
}

// Event is one tagged inbound event from the transport. Exactly the
// field matching Kind is set.
type Event struct {
	Kind       EventKind
	Message    *IncomingMessage
	Membership *MembershipChange
	Connection *ConnectionUpdate
}

// MembershipChange reports users joining or leaving a group. One event
// covers one protocol notification; it never mixes joins and leaves.
type MembershipChange struct {
	// Group is the affected group conversation.
	Group jid.JID

	// Joined lists users added to the group.
	Joined []jid.JID

	// Left lists users removed from the group (including voluntary
	// departures).
	Left []jid.JID
}

// ConnectionStatus is the transport-reported connection state. This is
// distinct from the session manager's own state machine: the transport
// only ever reports the edge it observed.
type ConnectionStatus int

const (
	// ConnectionOpen means the connection is authenticated and live.
	ConnectionOpen ConnectionStatus = iota + 1

	// ConnectionClosed means the connection ended. Err carries the
	// reason; LoggedOut distinguishes credential invalidation from
	// transient failure.
	ConnectionClosed

	// ConnectionLoginQR means the transport needs authentication and
	// has produced a QR payload for the operator to scan. QRCode
	// carries the payload.
	ConnectionLoginQR
)

// String returns the status name for logging.
func (s ConnectionStatus) String() string {
	switch s {
	case ConnectionOpen:
		return "open"
	case ConnectionClosed:
		return "closed"
	case ConnectionLoginQR:
		return "login-qr"
	default:
		return "unknown"
	}
}

// ConnectionUpdate reports a change in transport connectivity.
type ConnectionUpdate struct {
	Status ConnectionStatus

	// Err is the close reason for ConnectionClosed, nil otherwise.
	Err error

	// LoggedOut is true when the close was a credential invalidation:
	// reconnecting with the same credentials cannot succeed, and the
	// credential store must be purged before re-authenticating.
	LoggedOut bool

	// QRCode is the login QR payload for ConnectionLoginQR.
	QRCode string
}
