// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package status serves the operator-facing HTTP surface: a status page
// showing the session lifecycle, and a pairing endpoint for phone-based
// login when scanning the terminal QR is impractical.
//
// The server binds to loopback by default and performs no
// authentication; exposing it further is the operator's problem.
package status

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/chatwarden/chatwarden/session"
)

// Session is the slice of the session manager the server reads.
type Session interface {
	Snapshot() session.Snapshot
	RequestPairingCode(ctx context.Context, phone string) (string, error)
}

// Options configures a Server.
type Options struct {
	// Addr is the listen address.
	Addr string

	Session Session

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Clock is used for uptime rendering; defaults to time.Now via the
	// standard library.
	Now func() time.Time
}

// Server is the status HTTP server. Create with New, then call Run.
type Server struct {
	addr    string
	session Session
	logger  *slog.Logger
	now     func() time.Time
}

// New returns an unstarted Server.
func New(options Options) *Server {
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	return &Server{
		addr:    options.Addr,
		session: options.Session,
		logger:  options.Logger,
		now:     options.Now,
	}
}

// Handler returns the server's route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleStatus)
	mux.HandleFunc("POST /pair", s.handlePair)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(listener) }()
	s.logger.Info("status server listening", "addr", listener.Addr().String())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down status server: %w", err)
		}
		return ctx.Err()
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

var statusTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head><title>chatwarden</title><meta http-equiv="refresh" content="5"></head>
<body>
<h1>chatwarden</h1>
<dl>
  <dt>State</dt><dd>{{.State}}</dd>
  {{if .Self}}<dt>Account</dt><dd>{{.Self}}</dd>{{end}}
  {{if .Uptime}}<dt>Connected for</dt><dd>{{.Uptime}}</dd>{{end}}
  {{if .Attempt}}<dt>Failed attempts</dt><dd>{{.Attempt}}</dd>{{end}}
  {{if .LastError}}<dt>Last error</dt><dd>{{.LastError}}</dd>{{end}}
</dl>
{{if .AwaitingLogin}}
<h2>Awaiting login</h2>
<p>Scan the QR code in the daemon's terminal, or request a pairing code:</p>
<form method="post" action="/pair">
  <input type="tel" name="phone" placeholder="phone number" required>
  <button type="submit">Request pairing code</button>
</form>
{{end}}
</body>
</html>
`))

var pairTemplate = template.Must(template.New("pair").Parse(`<!DOCTYPE html>
<html>
<head><title>chatwarden pairing</title></head>
<body>
<h1>Pairing code</h1>
<p>Enter this code on the phone for {{.Phone}}:</p>
<p><code>{{.Code}}</code></p>
<p><a href="/">Back to status</a></p>
</body>
</html>
`))

type statusView struct {
	State         string
	Self          string
	Uptime        string
	Attempt       int
	LastError     string
	AwaitingLogin bool
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snapshot := s.session.Snapshot()
	view := statusView{
		State:         snapshot.State.String(),
		Self:          snapshot.SelfID.String(),
		Attempt:       snapshot.Attempt,
		LastError:     snapshot.LastError,
		AwaitingLogin: snapshot.AwaitingLogin,
	}
	if !snapshot.ConnectedAt.IsZero() {
		view.Uptime = s.now().Sub(snapshot.ConnectedAt).Round(time.Second).String()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusTemplate.Execute(w, view); err != nil {
		s.logger.Error("failed to render status page", "error", err)
	}
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	phone := r.FormValue("phone")
	if phone == "" {
		http.Error(w, "phone is required", http.StatusBadRequest)
		return
	}

	code, err := s.session.RequestPairingCode(r.Context(), phone)
	if err != nil {
		s.logger.Warn("pairing code request failed", "error", err)
		http.Error(w, fmt.Sprintf("pairing failed: %v", err), http.StatusConflict)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pairTemplate.Execute(w, map[string]string{"Phone": phone, "Code": code}); err != nil {
		s.logger.Error("failed to render pairing page", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.session.Snapshot()
	if snapshot.State == session.Open {
		fmt.Fprintln(w, "ok")
		return
	}
	http.Error(w, snapshot.State.String(), http.StatusServiceUnavailable)
}
