// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists Chatwarden's moderation state: per-user
// warning counts and per-conversation saved quotes.
//
// The whole state lives in one human-readable JSON file, loaded once
// at startup and rewritten wholesale after every mutation. There are
// no partial updates and no migrations. Loading tolerates comments and
// trailing commas so an operator can hand-edit the file.
//
// Both load and save fail soft: a corrupt file yields an empty state
// with a logged warning rather than a startup failure, and a failed
// write leaves the previous on-disk content authoritative while the
// process continues on in-memory state. Moderation data is not worth
// crashing a running bot over.
//
// The store performs no locking. The event loop mutates it from a
// single goroutine; see the session manager's concurrency notes.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"

	"github.com/chatwarden/chatwarden/lib/jid"
)

// State is the serialized shape of the store file.
type State struct {
	// Warned maps a user JID to a positive warning count. A count of
	// zero is never stored: absence means zero.
	Warned map[string]int `json:"warned"`

	// Quotes maps a conversation JID to its saved quotes, in insertion
	// order.
	Quotes map[string][]string `json:"quotes,omitempty"`
}

// emptyState returns a State with allocated maps.
func emptyState() State {
	return State{
		Warned: make(map[string]int),
		Quotes: make(map[string][]string),
	}
}

// Store is the durable moderation state plus its file path.
type Store struct {
	path   string
	logger *slog.Logger
	state  State
}

// Open loads the store file at path. A missing file starts empty; a
// corrupt file logs a warning and starts empty. Open never fails.
func Open(path string, logger *slog.Logger) *Store {
	s := &Store{path: path, logger: logger, state: emptyState()}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("unreadable store file, starting empty", "path", path, "error", err)
		}
		return s
	}

	var loaded State
	if err := json.Unmarshal(jsonc.ToJSON(data), &loaded); err != nil {
		logger.Warn("corrupt store file, starting empty", "path", path, "error", err)
		return s
	}
	if loaded.Warned == nil {
		loaded.Warned = make(map[string]int)
	}
	if loaded.Quotes == nil {
		loaded.Quotes = make(map[string][]string)
	}
	// Drop non-positive counts a hand edit may have introduced; the
	// invariant is that stored counts are always positive.
	for user, count := range loaded.Warned {
		if count <= 0 {
			delete(loaded.Warned, user)
		}
	}
	s.state = loaded
	return s
}

// Warnings returns the current warning count for a user. Zero when the
// user has no entry.
func (s *Store) Warnings(user jid.JID) int {
	return s.state.Warned[user.Bare().String()]
}

// IncrementWarning raises a user's warning count by one, saves, and
// returns the new count.
func (s *Store) IncrementWarning(user jid.JID) int {
	key := user.Bare().String()
	s.state.Warned[key]++
	count := s.state.Warned[key]
	s.save()
	return count
}

// DecrementWarning lowers a user's warning count by one, flooring at
// zero and removing the entry when it reaches zero. Saves only when
// something changed. Returns the new count.
func (s *Store) DecrementWarning(user jid.JID) int {
	key := user.Bare().String()
	count, exists := s.state.Warned[key]
	if !exists {
		return 0
	}
	count--
	if count <= 0 {
		delete(s.state.Warned, key)
		count = 0
	} else {
		s.state.Warned[key] = count
	}
	s.save()
	return count
}

// AddQuote appends a quote to a conversation's collection and saves.
func (s *Store) AddQuote(conversation jid.JID, text string) {
	key := conversation.String()
	s.state.Quotes[key] = append(s.state.Quotes[key], text)
	s.save()
}

// RandomQuote returns a uniformly random quote from a conversation's
// collection, or false when the collection is empty.
func (s *Store) RandomQuote(conversation jid.JID) (string, bool) {
	quotes := s.state.Quotes[conversation.String()]
	if len(quotes) == 0 {
		return "", false
	}
	return quotes[rand.IntN(len(quotes))], true
}

// QuoteCount returns the number of saved quotes for a conversation.
func (s *Store) QuoteCount(conversation jid.JID) int {
	return len(s.state.Quotes[conversation.String()])
}

// save writes the state file atomically: temp file in the same
// directory, fsync, rename into place, fsync the parent directory.
// Write failures are logged and swallowed; the previous file content
// remains authoritative.
func (s *Store) save() {
	if err := s.writeFile(); err != nil {
		s.logger.Error("failed to save store, continuing on in-memory state",
			"path", s.path, "error", err)
	}
}

func (s *Store) writeFile() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling store state: %w", err)
	}
	data = append(data, '\n')

	temporaryPath := s.path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary store file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary store file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary store file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary store file: %w", err)
	}
	if err := os.Rename(temporaryPath, s.path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming store file into place: %w", err)
	}

	// Make the rename durable across power loss.
	if parent, err := os.Open(filepath.Dir(s.path)); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}
