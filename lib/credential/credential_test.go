// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

package credential

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "auth")
	s := New(dir)

	if err := s.Ensure(); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("credential path is not a directory")
	}
	// Idempotent.
	if err := s.Ensure(); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
}

func TestPurgeEmptiesButKeepsDirectory(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	if err := os.WriteFile(filepath.Join(dir, "session.db"), []byte("keys"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "nested", "deep"), 0700); err != nil {
		t.Fatal(err)
	}

	if err := s.Purge(); err != nil {
		t.Fatalf("Purge: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("directory removed by Purge: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Purge left %d entries behind", len(entries))
	}
}

func TestPurgeMissingDirectoryIsNoOp(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "never-created"))
	if err := s.Purge(); err != nil {
		t.Fatalf("Purge on missing directory: %v", err)
	}
}
