// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package chat defines the data model and the transport boundary for
// Chatwarden's connection to the messaging network.
//
// The package provides no network code of its own. [Transport] is the
// dial factory for the underlying protocol implementation (the
// production adapter lives in the transport package, wrapping
// whatsmeow); [Conn] is one live, authenticated connection. The session
// manager, event router, and command dispatcher depend only on these
// interfaces, so tests substitute in-memory fakes and the protocol
// library is confined to one adapter package.
//
// Inbound traffic is a single stream of tagged [Event] values
// (message, membership change, connection update, credential rotation)
// instead of per-name callback registration. The consumer switches on
// [Event.Kind] in one place, which keeps delivery ordering explicit:
// whoever drains Conn.Events decides the concurrency model, and the
// session manager drains it one event at a time.
//
// Group metadata fetched through Conn.GroupMetadata is a read-only
// snapshot, valid for the single command invocation it was fetched
// for. Nothing in this package caches it.
package chat
