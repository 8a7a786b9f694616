// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

package display

import (
	"bytes"
	"strings"
	"testing"
)

func TestShowLoginQRRendersScannableBlock(t *testing.T) {
	var buf bytes.Buffer
	terminal := NewTerminal(&buf)

	terminal.ShowLoginQR("2@example-login-payload")

	output := buf.String()
	if !strings.Contains(output, "Scan this QR code") {
		t.Error("output missing the scan instruction")
	}
	// The QR block is many lines of block characters; anything under a
	// handful of lines means nothing rendered.
	if lines := strings.Count(output, "\n"); lines < 10 {
		t.Errorf("QR output only %d lines", lines)
	}
}

func TestShowPairingCode(t *testing.T) {
	var buf bytes.Buffer
	terminal := NewTerminal(&buf)

	terminal.ShowPairingCode("15550000001", "ABCD-EFGH")

	output := buf.String()
	if !strings.Contains(output, "ABCD-EFGH") {
		t.Error("output missing the pairing code")
	}
	if !strings.Contains(output, "15550000001") {
		t.Error("output missing the phone number")
	}
}

func TestShowBanner(t *testing.T) {
	var buf bytes.Buffer
	NewTerminal(&buf).ShowBanner("dev")

	if !strings.Contains(buf.String(), "chatwarden dev") {
		t.Errorf("banner = %q", buf.String())
	}
}
