// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

package bot

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chatwarden/chatwarden/chat"
	"github.com/chatwarden/chatwarden/lib/jid"
	"github.com/chatwarden/chatwarden/store"
)

var (
	botSelf   = jid.MustParse("15550009999@s.whatsapp.net")
	adminUser = jid.MustParse("15550000001@s.whatsapp.net")
	plainUser = jid.MustParse("15550000002@s.whatsapp.net")
	thirdUser = jid.MustParse("15550000003@s.whatsapp.net")
	groupJID  = jid.MustParse("120363000000000001@g.us")
)

type sentMessage struct {
	to      jid.JID
	message chat.Message
}

type participantUpdate struct {
	group   jid.JID
	members []jid.JID
	change  chat.ParticipantChange
}

// fakeMessenger records every protocol call and returns scripted
// results.
type fakeMessenger struct {
	self      jid.JID
	sent      []sentMessage
	updates   []participantUpdate
	updateErr error
	sendErr   error

	// calls records call order across methods, for ordering assertions.
	calls []string
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{self: botSelf}
}

func (m *fakeMessenger) SelfID() jid.JID { return m.self }

func (m *fakeMessenger) SendMessage(ctx context.Context, to jid.JID, message chat.Message) error {
	m.calls = append(m.calls, "send")
	m.sent = append(m.sent, sentMessage{to: to, message: message})
	return m.sendErr
}

func (m *fakeMessenger) GroupMetadata(ctx context.Context, group jid.JID) (*chat.Group, error) {
	m.calls = append(m.calls, "metadata")
	return nil, nil
}

func (m *fakeMessenger) UpdateParticipants(ctx context.Context, group jid.JID, members []jid.JID, change chat.ParticipantChange) error {
	m.calls = append(m.calls, "update")
	m.updates = append(m.updates, participantUpdate{group: group, members: members, change: change})
	return m.updateErr
}

// testGroup builds a snapshot with adminUser as admin, plainUser and
// the bot as plain members, plus any extra admins.
func testGroup(extraAdmins ...jid.JID) *chat.Group {
	group := &chat.Group{
		ID:    groupJID,
		Name:  "Test Group",
		Owner: adminUser,
		Participants: []chat.Participant{
			{JID: adminUser, Admin: true},
			{JID: plainUser},
			{JID: thirdUser},
			{JID: botSelf},
		},
	}
	for _, admin := range extraAdmins {
		for i := range group.Participants {
			if group.Participants[i].JID == admin {
				group.Participants[i].Admin = true
			}
		}
	}
	return group
}

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDispatcher(Options{
		Store:        store.Open(filepath.Join(t.TempDir(), "warden.json"), logger),
		Logger:       logger,
		CountryCode:  "1",
		TagAllHeader: "Attention everyone:",
	})
}

// invoke dispatches a command the way the router would.
func invoke(d *Dispatcher, m *fakeMessenger, sender jid.JID, group *chat.Group, command string, args []string, mentions ...jid.JID) {
	conversation := groupJID
	if group == nil {
		conversation = sender
	}
	d.Dispatch(context.Background(), &Invocation{
		Conn: m,
		Message: &chat.IncomingMessage{
			ID:           "MSG1",
			Conversation: conversation,
			Sender:       sender,
			Text:         "!" + command + " " + strings.Join(args, " "),
			Mentions:     mentions,
			Timestamp:    time.Now(),
		},
		Command: command,
		Args:    args,
		Group:   group,
	})
}

func lastReply(t *testing.T, m *fakeMessenger) sentMessage {
	t.Helper()
	if len(m.sent) == 0 {
		t.Fatal("no message was sent")
	}
	return m.sent[len(m.sent)-1]
}

func TestUnknownCommandIsSilent(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()

	invoke(d, m, plainUser, testGroup(), "frobnicate", nil)

	if len(m.sent) != 0 {
		t.Errorf("unknown command produced %d replies", len(m.sent))
	}
	if len(m.calls) != 0 {
		t.Errorf("unknown command made protocol calls: %v", m.calls)
	}
}

func TestPingRepliesWithQuote(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()

	invoke(d, m, plainUser, testGroup(), "ping", nil)

	reply := lastReply(t, m)
	if reply.message.Text != "pong" {
		t.Errorf("ping reply = %q", reply.message.Text)
	}
	if reply.to != groupJID {
		t.Errorf("ping replied to %v, want the conversation", reply.to)
	}
	if reply.message.Quote == nil || reply.message.Quote.MessageID != "MSG1" {
		t.Error("ping reply does not quote the invoking message")
	}
}

func TestHelpListsEveryCommand(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()

	invoke(d, m, plainUser, nil, "help", nil)

	reply := lastReply(t, m)
	for name := range builtinCommands {
		if !strings.Contains(reply.message.Text, name) {
			t.Errorf("help output does not mention %q", name)
		}
	}
}

func TestGroupCommandOutsideGroup(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()

	invoke(d, m, plainUser, nil, "groupinfo", nil)

	if len(m.sent) != 1 {
		t.Fatalf("got %d replies, want exactly one", len(m.sent))
	}
	if !strings.Contains(m.sent[0].message.Text, "group") {
		t.Errorf("reply %q does not explain the group requirement", m.sent[0].message.Text)
	}
}

func TestGroupInfo(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()

	invoke(d, m, plainUser, testGroup(), "groupinfo", nil)

	reply := lastReply(t, m)
	if !strings.Contains(reply.message.Text, "Test Group") {
		t.Errorf("groupinfo reply missing name: %q", reply.message.Text)
	}
	if !strings.Contains(reply.message.Text, "Members: 4") {
		t.Errorf("groupinfo reply missing member count: %q", reply.message.Text)
	}
}

func TestTagAllMentionsEveryMember(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()
	group := testGroup()

	invoke(d, m, plainUser, group, "tagall", nil)

	reply := lastReply(t, m)
	if len(reply.message.Mentions) != len(group.Participants) {
		t.Errorf("tagall mentions %d users, want %d",
			len(reply.message.Mentions), len(group.Participants))
	}
	if !strings.HasPrefix(reply.message.Text, "Attention everyone:") {
		t.Errorf("tagall header = %q", reply.message.Text)
	}
}

func TestWarnRequiresMentions(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()

	invoke(d, m, plainUser, testGroup(), "warn", nil)

	reply := lastReply(t, m)
	if !strings.Contains(reply.message.Text, "usage: warn") {
		t.Errorf("reply = %q, want usage", reply.message.Text)
	}
}

func TestWarnEchoesNewCount(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()
	group := testGroup()

	invoke(d, m, adminUser, group, "warn", nil, plainUser)
	if reply := lastReply(t, m); !strings.Contains(reply.message.Text, "1 warning") {
		t.Errorf("first warn reply = %q", reply.message.Text)
	}

	invoke(d, m, adminUser, group, "warn", nil, plainUser)
	if reply := lastReply(t, m); !strings.Contains(reply.message.Text, "2 warnings") {
		t.Errorf("second warn reply = %q", reply.message.Text)
	}
}

func TestWarnMultipleMentions(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()

	invoke(d, m, adminUser, testGroup(), "warn", nil, plainUser, thirdUser)

	reply := lastReply(t, m)
	lines := strings.Split(reply.message.Text, "\n")
	if len(lines) != 2 {
		t.Fatalf("warn reply has %d lines, want 2: %q", len(lines), reply.message.Text)
	}
	if len(reply.message.Mentions) != 2 {
		t.Errorf("warn reply mentions %d users, want 2", len(reply.message.Mentions))
	}
}

func TestUnwarnFloorsAtZero(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()
	group := testGroup()

	invoke(d, m, adminUser, group, "unwarn", nil, plainUser)

	reply := lastReply(t, m)
	if !strings.Contains(reply.message.Text, "0 warnings") {
		t.Errorf("unwarn reply = %q, want zero count", reply.message.Text)
	}
}

func TestKickDeniedForNonAdmin(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()

	invoke(d, m, plainUser, testGroup(), "kick", nil, thirdUser)

	reply := lastReply(t, m)
	if !strings.Contains(reply.message.Text, "admin") {
		t.Errorf("denial reply = %q", reply.message.Text)
	}
	if len(m.updates) != 0 {
		t.Error("denied kick still mutated membership")
	}
}

func TestKickRequiresBotAdmin(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()

	// adminUser is admin, the bot is not.
	invoke(d, m, adminUser, testGroup(), "kick", nil, thirdUser)

	reply := lastReply(t, m)
	if !strings.Contains(reply.message.Text, "admin rights") {
		t.Errorf("reply = %q", reply.message.Text)
	}
	if len(m.updates) != 0 {
		t.Error("kick without bot admin mutated membership")
	}
}

func TestKickRemovesExactlyOneUser(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()
	group := testGroup(botSelf)

	invoke(d, m, adminUser, group, "kick", nil, thirdUser)

	if len(m.updates) != 1 {
		t.Fatalf("got %d membership mutations, want 1", len(m.updates))
	}
	update := m.updates[0]
	if update.change != chat.ParticipantRemove {
		t.Errorf("change = %v, want remove", update.change)
	}
	if len(update.members) != 1 || update.members[0] != thirdUser {
		t.Errorf("members = %v, want [%v]", update.members, thirdUser)
	}
	reply := lastReply(t, m)
	if len(reply.message.Mentions) != 1 || reply.message.Mentions[0] != thirdUser {
		t.Error("kick reply does not mention the removed user")
	}
}

func TestKickRejectsMultipleMentions(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()

	invoke(d, m, adminUser, testGroup(botSelf), "kick", nil, plainUser, thirdUser)

	reply := lastReply(t, m)
	if !strings.Contains(reply.message.Text, "usage: kick") {
		t.Errorf("reply = %q, want usage", reply.message.Text)
	}
	if len(m.updates) != 0 {
		t.Error("multi-mention kick mutated membership")
	}
}

func TestKickSurfacesNetworkRejectionVerbatim(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()
	m.updateErr = &chat.TransportError{Op: "update-participants", Reason: "403 not-authorized"}

	invoke(d, m, adminUser, testGroup(botSelf), "kick", nil, thirdUser)

	if len(m.updates) != 1 {
		t.Fatalf("got %d mutation attempts, want exactly 1 (no retry)", len(m.updates))
	}
	reply := lastReply(t, m)
	if !strings.Contains(reply.message.Text, "403 not-authorized") {
		t.Errorf("reply %q does not quote the rejection reason", reply.message.Text)
	}
}

func TestAddNormalizesPhoneNumber(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()

	invoke(d, m, adminUser, testGroup(botSelf), "add", []string{"(555)123-0000"})

	if len(m.updates) != 1 {
		t.Fatalf("got %d membership mutations, want 1", len(m.updates))
	}
	update := m.updates[0]
	if update.change != chat.ParticipantAdd {
		t.Errorf("change = %v, want add", update.change)
	}
	want := jid.MustParse("15551230000@s.whatsapp.net")
	if len(update.members) != 1 || update.members[0] != want {
		t.Errorf("members = %v, want [%v]", update.members, want)
	}
}

func TestAddRejectsMissingArgument(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()

	invoke(d, m, adminUser, testGroup(botSelf), "add", nil)

	reply := lastReply(t, m)
	if !strings.Contains(reply.message.Text, "usage: add") {
		t.Errorf("reply = %q, want usage", reply.message.Text)
	}
	if len(m.updates) != 0 {
		t.Error("argument-less add mutated membership")
	}
}

func TestBroadcastNotifiesWithoutVisibleTags(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()
	group := testGroup()

	invoke(d, m, adminUser, group, "broadcast", []string{"meeting", "at", "noon"})

	reply := lastReply(t, m)
	if reply.message.Text != "meeting at noon" {
		t.Errorf("broadcast text = %q", reply.message.Text)
	}
	if len(reply.message.Mentions) != len(group.Participants) {
		t.Errorf("broadcast mentions %d users, want %d",
			len(reply.message.Mentions), len(group.Participants))
	}
	if reply.message.Quote != nil {
		t.Error("broadcast should not quote the invoking message")
	}
}

func TestCalc(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()

	invoke(d, m, plainUser, testGroup(), "calc", []string{"2", "+", "3", "*", "4"})
	if reply := lastReply(t, m); !strings.Contains(reply.message.Text, "= 14") {
		t.Errorf("calc reply = %q", reply.message.Text)
	}

	invoke(d, m, plainUser, testGroup(), "calc", []string{"two", "plus", "two"})
	if reply := lastReply(t, m); strings.Contains(reply.message.Text, "=") {
		t.Errorf("invalid expression produced a result: %q", reply.message.Text)
	}
}

func TestQuotesRoundTrip(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()
	group := testGroup()

	invoke(d, m, plainUser, group, "getquote", nil)
	if reply := lastReply(t, m); !strings.Contains(reply.message.Text, "No quotes") {
		t.Errorf("empty getquote reply = %q", reply.message.Text)
	}

	invoke(d, m, plainUser, group, "savequote", []string{"to", "be", "or", "not"})
	if reply := lastReply(t, m); !strings.Contains(reply.message.Text, "#1") {
		t.Errorf("savequote reply = %q", reply.message.Text)
	}

	invoke(d, m, plainUser, group, "getquote", nil)
	if reply := lastReply(t, m); reply.message.Text != "to be or not" {
		t.Errorf("getquote reply = %q", reply.message.Text)
	}
}

func TestRestartAcknowledgesBeforeRequesting(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := newFakeMessenger()

	restarted := false
	var callsAtRestart int
	d := NewDispatcher(Options{
		Store:  store.Open(filepath.Join(t.TempDir(), "warden.json"), logger),
		Logger: logger,
		RequestRestart: func() {
			restarted = true
			callsAtRestart = len(m.calls)
		},
	})

	invoke(d, m, adminUser, testGroup(), "restart", nil)

	if !restarted {
		t.Fatal("restart was never requested")
	}
	if callsAtRestart != 1 {
		t.Errorf("restart requested after %d protocol calls, want after the single ack send", callsAtRestart)
	}
	if reply := lastReply(t, m); !strings.Contains(reply.message.Text, "Restarting") {
		t.Errorf("ack reply = %q", reply.message.Text)
	}
}

func TestRestartUnavailableWithoutHook(t *testing.T) {
	d := newTestDispatcher(t)
	m := newFakeMessenger()

	invoke(d, m, adminUser, testGroup(), "restart", nil)

	if reply := lastReply(t, m); !strings.Contains(reply.message.Text, "not available") {
		t.Errorf("reply = %q", reply.message.Text)
	}
}
