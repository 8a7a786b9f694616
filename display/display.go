// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package display renders operator-facing terminal output: the startup
// banner, login QR codes, and pairing codes. Everything writes to the
// terminal the daemon was started in; nothing here is sent over chat.
package display

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/mdp/qrterminal/v3"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("11"))

	codeStyle = lipgloss.NewStyle().
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2)

	hintStyle = lipgloss.NewStyle().
			Faint(true)
)

// Terminal renders to a single writer, normally the daemon's stdout.
type Terminal struct {
	out io.Writer
}

// NewTerminal returns a Terminal writing to out.
func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out}
}

// ShowBanner prints the startup banner.
func (t *Terminal) ShowBanner(version string) {
	fmt.Fprintln(t.out, titleStyle.Render("chatwarden "+version))
}

// ShowLoginQR renders a login QR payload as a scannable terminal QR
// code. Called for every QR rotation while authentication is pending;
// each rotation replaces the previous code on screen with a new block.
func (t *Terminal) ShowLoginQR(payload string) {
	fmt.Fprintln(t.out, headingStyle.Render("Scan this QR code with the phone's linked-devices screen:"))
	qrterminal.GenerateWithConfig(payload, qrterminal.Config{
		Level:     qrterminal.L,
		Writer:    t.out,
		BlackChar: qrterminal.BLACK,
		WhiteChar: qrterminal.WHITE,
		QuietZone: 1,
	})
	fmt.Fprintln(t.out, hintStyle.Render("The code rotates periodically; a fresh one prints when it does."))
}

// ShowPairingCode prints a phone-pairing code.
func (t *Terminal) ShowPairingCode(phone, code string) {
	fmt.Fprintln(t.out, headingStyle.Render("Pairing code for "+phone+":"))
	fmt.Fprintln(t.out, codeStyle.Render(code))
}
