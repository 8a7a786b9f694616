// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential manages the transport's credential directory.
//
// The directory's contents are opaque to the core: the transport
// collaborator reads and writes session key material there. The core's
// obligations are to ensure the directory exists before the first
// dial, and to purge it wholesale when the network reports a logout:
// stale credentials would otherwise make every reconnect attempt fail
// the same way.
package credential

import (
	"fmt"
	"os"
	"path/filepath"
)

// Store is a handle on the credential directory.
type Store struct {
	dir string
}

// New returns a Store for the given directory. The directory is not
// created until Ensure.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the credential directory path.
func (s *Store) Dir() string { return s.dir }

// Ensure creates the credential directory if it does not exist. Mode
// 0700: the directory holds session keys.
func (s *Store) Ensure() error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("creating credential directory %s: %w", s.dir, err)
	}
	return nil
}

// Purge removes everything inside the credential directory, keeping
// the directory itself so the next dial starts from a clean slate.
// Idempotent: an already-empty or missing directory is not an error.
func (s *Store) Purge() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading credential directory %s: %w", s.dir, err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.dir, entry.Name())); err != nil {
			return fmt.Errorf("purging credential %s: %w", entry.Name(), err)
		}
	}
	return nil
}
