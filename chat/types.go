// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"strings"
	"time"

	"github.com/chatwarden/chatwarden/lib/jid"
)

// IncomingMessage is one message received from the network. The three
// body fields mirror the protocol's message sub-types; at most one is
// normally set. Use Body to get the effective text regardless of
// sub-type.
type IncomingMessage struct {
	// ID is the protocol message identifier, unique per conversation.
	ID string

	// Conversation is the thread the message arrived in: a user JID
	// for direct chats, a group JID for groups.
	Conversation jid.JID

	// Sender is the authoring user. In groups this differs from
	// Conversation; in direct chats it equals it. May carry a device
	// suffix; compare with Bare.
	Sender jid.JID

	// Text is the plain-text body.
	Text string

	// ExtendedText is the body of an extended message (one carrying
	// mentions, a quote, or a link preview).
	ExtendedText string

	// Caption is the caption of an image or video message.
	Caption string

	// Mentions lists users explicitly mentioned in the message.
	Mentions []jid.JID

	// Timestamp is the server timestamp of the message.
	Timestamp time.Time
}

// Body returns the first non-empty of Text, ExtendedText, and Caption,
// trimmed. An empty result means the message carries no extractable
// text (stickers, reactions, protocol messages) and is not a command
// candidate.
func (m *IncomingMessage) Body() string {
	for _, candidate := range []string{m.Text, m.ExtendedText, m.Caption} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// Message is an outbound message.
type Message struct {
	// Text is the message body.
	Text string

	// Mentions lists users the body @-references. The transport embeds
	// them so clients highlight and notify the mentioned users.
	Mentions []jid.JID

	// Quote, when non-nil, renders the message as a reply quoting the
	// referenced original.
	Quote *QuoteRef
}

// QuoteRef identifies the message an outbound reply quotes.
type QuoteRef struct {
	// MessageID is the quoted message's protocol identifier.
	MessageID string

	// Sender is the author of the quoted message.
	Sender jid.JID

	// Body is the quoted message's text, included because the protocol
	// requires the quoted payload to travel with the reply.
	Body string
}

// Group is a read-only snapshot of a group conversation, fetched on
// demand and valid for one command invocation.
type Group struct {
	// ID is the group conversation JID.
	ID jid.JID

	// Name is the group's display subject.
	Name string

	// Owner is the creating user. Zero when the network does not
	// report one.
	Owner jid.JID

	// Created is the group creation time.
	Created time.Time

	// Description is the group topic text, empty when unset.
	Description string

	// Participants is the current member list.
	Participants []Participant
}

// Participant is one group member.
type Participant struct {
	// JID is the member's bare user address.
	JID jid.JID

	// Admin reports whether the member holds group administrator
	// privileges (includes the superadmin/owner role).
	Admin bool
}

// IsAdmin reports whether the given user is a participant with the
// administrator flag. Comparison is on bare JIDs so device-qualified
// senders match their participant entry.
func (g *Group) IsAdmin(user jid.JID) bool {
	if g == nil {
		return false
	}
	bare := user.Bare()
	for _, participant := range g.Participants {
		if participant.JID.Bare() == bare {
			return participant.Admin
		}
	}
	return false
}

// ParticipantChange selects the membership mutation performed by
// Conn.UpdateParticipants.
type ParticipantChange int

const (
	// ParticipantAdd adds the listed users to the group.
	ParticipantAdd ParticipantChange = iota + 1
	// ParticipantRemove removes the listed users from the group.
	ParticipantRemove
)

// String returns the protocol action name.
func (c ParticipantChange) String() string {
	switch c {
	case ParticipantAdd:
		return "add"
	case ParticipantRemove:
		return "remove"
	default:
		return "unknown"
	}
}
