// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"errors"
	"fmt"
)

// TransportError is a structured failure from the transport
// collaborator. Callers use errors.As to branch on the classification:
//
//	var transportErr *chat.TransportError
//	if errors.As(err, &transportErr) && transportErr.LoggedOut { ... }
type TransportError struct {
	// Op is the operation that failed ("send", "group-metadata",
	// "update-participants", "pairing-code", "dial").
	Op string

	// Reason is the network-reported reason text, surfaced verbatim to
	// users for membership-mutation failures.
	Reason string

	// LoggedOut is true when the failure means the session credentials
	// are no longer valid.
	LoggedOut bool

	// Err is the underlying error, if any.
	Err error
}

func (e *TransportError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("transport %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsLoggedOut reports whether err is a TransportError marking
// credential invalidation.
func IsLoggedOut(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr) && transportErr.LoggedOut
}

// FailureReason extracts the user-facing reason text from a transport
// error: the structured Reason when present, the raw error text
// otherwise. Membership-mutation replies quote this verbatim.
func FailureReason(err error) string {
	var transportErr *TransportError
	if errors.As(err, &transportErr) && transportErr.Reason != "" {
		return transportErr.Reason
	}
	return err.Error()
}
