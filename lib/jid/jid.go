// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package jid provides the validated WhatsApp address type used
// throughout Chatwarden. A JID ("Jabber ID", inherited from the XMPP
// ancestry of the protocol) has the form "localpart@server": user
// addresses live on "s.whatsapp.net", group conversations on "g.us".
//
// JID is an immutable value type in the manner of a validated ID:
// construct through Parse or FromPhone, never by struct literal. The
// zero value is not a valid address; use IsZero to check.
package jid

import (
	"fmt"
	"strings"
)

// UserServer is the server part of an individual user address.
const UserServer = "s.whatsapp.net"

// GroupServer is the server part of a group conversation address.
const GroupServer = "g.us"

// JID is a validated WhatsApp address (e.g. "15551230000@s.whatsapp.net"
// or "120363041234567890@g.us").
type JID struct {
	user   string
	server string
}

// Parse validates and wraps a raw JID string. The string must contain
// exactly one '@' with a non-empty localpart and server on either side.
// Device and agent suffixes in the localpart (":1", ".0") are preserved
// as-is; callers that need bare-user comparison should use Bare.
func Parse(raw string) (JID, error) {
	user, server, found := strings.Cut(raw, "@")
	if !found {
		return JID{}, fmt.Errorf("jid %q has no @ separator", raw)
	}
	if user == "" {
		return JID{}, fmt.Errorf("jid %q has an empty localpart", raw)
	}
	if server == "" {
		return JID{}, fmt.Errorf("jid %q has an empty server", raw)
	}
	if strings.ContainsAny(user, " \t\n") || strings.ContainsAny(server, " \t\n@") {
		return JID{}, fmt.Errorf("jid %q contains invalid characters", raw)
	}
	return JID{user: user, server: server}, nil
}

// MustParse is Parse that panics on invalid input. For tests and
// compile-time-constant addresses only.
func MustParse(raw string) JID {
	parsed, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return parsed
}

// String returns the full address string, or "" for the zero value.
func (j JID) String() string {
	if j.IsZero() {
		return ""
	}
	return j.user + "@" + j.server
}

// IsZero reports whether the JID is the zero value (uninitialized).
func (j JID) IsZero() bool { return j.user == "" }

// User returns the localpart of the address (the phone number for user
// JIDs, the opaque group identifier for group JIDs), without any device
// suffix.
func (j JID) User() string {
	user, _, _ := strings.Cut(j.user, ":")
	return user
}

// Server returns the server part of the address.
func (j JID) Server() string { return j.server }

// IsGroup reports whether the address names a group conversation.
func (j JID) IsGroup() bool { return j.server == GroupServer }

// Bare returns the JID with any device suffix stripped from the
// localpart. Participant lists and mention payloads carry bare JIDs,
// while message envelopes may carry device-qualified senders; admin
// checks must compare bare forms.
func (j JID) Bare() JID {
	if j.IsZero() {
		return JID{}
	}
	return JID{user: j.User(), server: j.server}
}

// Equal reports whether two JIDs are exactly equal, device suffix
// included. Compare Bare() forms to match a user across devices.
func (j JID) Equal(other JID) bool { return j == other }

// MarshalText implements encoding.TextMarshaler for JSON and other
// text-based serialization formats.
func (j JID) MarshalText() ([]byte, error) {
	return []byte(j.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler, validating the
// address format. Empty input produces the zero value.
func (j *JID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*j = JID{}
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*j = parsed
	return nil
}

// FromPhone normalizes a human-entered phone number into a user JID.
// All non-digit characters are stripped, the default country code is
// prepended when the number does not already start with it, and the
// user server suffix is appended. Returns an error when no digits
// remain after stripping.
func FromPhone(raw, countryCode string) (JID, error) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	number := digits.String()
	if number == "" {
		return JID{}, fmt.Errorf("phone number %q contains no digits", raw)
	}
	if countryCode != "" && !strings.HasPrefix(number, countryCode) {
		number = countryCode + number
	}
	return JID{user: number, server: UserServer}, nil
}
