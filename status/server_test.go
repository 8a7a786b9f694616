// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

package status

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/chatwarden/chatwarden/lib/jid"
	"github.com/chatwarden/chatwarden/session"
)

type fakeSession struct {
	snapshot session.Snapshot
	code     string
	codeErr  error

	pairedPhone string
}

func (s *fakeSession) Snapshot() session.Snapshot { return s.snapshot }

func (s *fakeSession) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	s.pairedPhone = phone
	return s.code, s.codeErr
}

func newTestServer(sess *fakeSession) *Server {
	return New(Options{
		Addr:    "127.0.0.1:0",
		Session: sess,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:     func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) },
	})
}

func TestStatusPageShowsOpenSession(t *testing.T) {
	sess := &fakeSession{snapshot: session.Snapshot{
		State:       session.Open,
		SelfID:      jid.MustParse("15550009999@s.whatsapp.net"),
		ConnectedAt: time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC),
	}}
	recorder := httptest.NewRecorder()

	newTestServer(sess).Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d", recorder.Code)
	}
	body := recorder.Body.String()
	for _, want := range []string{"open", "15550009999@s.whatsapp.net", "1h0m0s"} {
		if !strings.Contains(body, want) {
			t.Errorf("status page missing %q", want)
		}
	}
	if strings.Contains(body, "Awaiting login") {
		t.Error("open session shows the login section")
	}
}

func TestStatusPageShowsLoginFormWhileAwaiting(t *testing.T) {
	sess := &fakeSession{snapshot: session.Snapshot{
		State:         session.Connecting,
		AwaitingLogin: true,
	}}
	recorder := httptest.NewRecorder()

	newTestServer(sess).Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/", nil))

	body := recorder.Body.String()
	if !strings.Contains(body, "Awaiting login") || !strings.Contains(body, "/pair") {
		t.Errorf("awaiting-login page missing the pairing form: %s", body)
	}
}

func TestPairReturnsCode(t *testing.T) {
	sess := &fakeSession{code: "ABCD-EFGH"}
	recorder := httptest.NewRecorder()

	form := url.Values{"phone": {"15550000001"}}
	request := httptest.NewRequest("POST", "/pair", strings.NewReader(form.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	newTestServer(sess).Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", recorder.Code, recorder.Body.String())
	}
	if !strings.Contains(recorder.Body.String(), "ABCD-EFGH") {
		t.Error("pairing page does not show the code")
	}
	if sess.pairedPhone != "15550000001" {
		t.Errorf("paired phone = %q", sess.pairedPhone)
	}
}

func TestPairRejectsMissingPhone(t *testing.T) {
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest("POST", "/pair", nil)

	newTestServer(&fakeSession{}).Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", recorder.Code)
	}
}

func TestPairReportsSessionErrors(t *testing.T) {
	sess := &fakeSession{codeErr: errors.New("no connection awaiting authentication")}
	recorder := httptest.NewRecorder()

	form := url.Values{"phone": {"15550000001"}}
	request := httptest.NewRequest("POST", "/pair", strings.NewReader(form.Encode()))
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	newTestServer(sess).Handler().ServeHTTP(recorder, request)

	if recorder.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", recorder.Code)
	}
}

func TestHealthTracksSessionState(t *testing.T) {
	sess := &fakeSession{snapshot: session.Snapshot{State: session.Open}}
	server := newTestServer(sess)

	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/healthz", nil))
	if recorder.Code != http.StatusOK {
		t.Errorf("healthz while open = %d", recorder.Code)
	}

	sess.snapshot.State = session.Disconnected
	recorder = httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/healthz", nil))
	if recorder.Code != http.StatusServiceUnavailable {
		t.Errorf("healthz while disconnected = %d", recorder.Code)
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	server := newTestServer(&fakeSession{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
