// Copyright 2026 The Chatwarden Authors
// SPDX-License-Identifier: Apache-2.0

// Package session owns the connection lifecycle: dialing the transport,
// draining its event stream, reconnecting with exponential backoff, and
// recovering from credential invalidation.
//
// All transport events are processed on a single goroutine inside Run,
// one event to completion before the next is read. Handlers therefore
// never need locking for per-event state, and event order is exactly
// network order. The cost is that a slow handler delays everything
// behind it; handlers must not block indefinitely.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chatwarden/chatwarden/chat"
	"github.com/chatwarden/chatwarden/lib/clock"
	"github.com/chatwarden/chatwarden/lib/credential"
	"github.com/chatwarden/chatwarden/lib/jid"
)

// State is the manager's position in the connection lifecycle.
type State int

const (
	// Disconnected means no connection exists; the manager is between
	// attempts (waiting out a backoff delay, or not yet started).
	Disconnected State = iota

	// Connecting means a dial is in flight or the connection has not yet
	// authenticated. The watchdog runs only in this state.
	Connecting

	// Open means the connection is authenticated and live.
	Open

	// Closing means shutdown has begun and the connection is being torn
	// down.
	Closing

	// Closed means Run has returned. Terminal.
	Closed
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler consumes routed chat events. Calls arrive on the manager's
// event loop goroutine, strictly one at a time.
type Handler interface {
	HandleMessage(ctx context.Context, conn chat.Conn, message *chat.IncomingMessage)
	HandleMembership(ctx context.Context, conn chat.Conn, change *chat.MembershipChange)
}

// LoginPresenter shows authentication material to the operator.
type LoginPresenter interface {
	// ShowLoginQR presents a login QR payload. Called once per QR
	// rotation while the transport awaits authentication.
	ShowLoginQR(payload string)
}

// Options configures a Manager. Transport, Credentials, and Handler are
// required; the rest default sensibly.
type Options struct {
	Transport   chat.Transport
	Credentials *credential.Store
	Handler     Handler

	// Presenter receives login QR payloads. Nil disables presentation;
	// the payload is still recorded in the snapshot.
	Presenter LoginPresenter

	// Clock defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// BaseDelay is the first reconnect delay; each consecutive failure
	// doubles it. Default 1s.
	BaseDelay time.Duration

	// MaxDelay caps the doubling. Default 60s.
	MaxDelay time.Duration

	// ConnectTimeout bounds how long a connection may sit in Connecting
	// before the watchdog abandons it. Default 60s.
	ConnectTimeout time.Duration

	// CallTimeout bounds individual protocol calls made by the manager
	// itself (credential persistence). Default 30s.
	CallTimeout time.Duration
}

// Snapshot is a point-in-time view of the manager for the status
// surface. Safe to read from any goroutine via Manager.Snapshot.
type Snapshot struct {
	State State

	// Attempt is the count of consecutive failed connection attempts.
	// Zero while healthy.
	Attempt int

	// SelfID is the authenticated account JID. Zero until the first
	// successful authentication.
	SelfID jid.JID

	// ConnectedAt is when the current connection reached Open. Zero
	// unless State is Open.
	ConnectedAt time.Time

	// LastError is the most recent connection failure, empty when none.
	LastError string

	// AwaitingLogin is true while the transport is waiting for the
	// operator to authenticate (QR scan or pairing code).
	AwaitingLogin bool
}

// Manager drives the connection lifecycle. Create with New, then call
// Run exactly once.
type Manager struct {
	transport      chat.Transport
	credentials    *credential.Store
	handler        Handler
	presenter      LoginPresenter
	clock          clock.Clock
	logger         *slog.Logger
	baseDelay      time.Duration
	maxDelay       time.Duration
	connectTimeout time.Duration
	callTimeout    time.Duration

	messages *messageCache

	// mu protects snapshot and conn against the status surface, which
	// reads from its own goroutines. The event loop is the only writer.
	mu       sync.Mutex
	snapshot Snapshot
	conn     chat.Conn
}

// New returns an unstarted Manager.
func New(options Options) *Manager {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if options.BaseDelay <= 0 {
		options.BaseDelay = time.Second
	}
	if options.MaxDelay <= 0 {
		options.MaxDelay = 60 * time.Second
	}
	if options.ConnectTimeout <= 0 {
		options.ConnectTimeout = 60 * time.Second
	}
	if options.CallTimeout <= 0 {
		options.CallTimeout = 30 * time.Second
	}

	return &Manager{
		transport:      options.Transport,
		credentials:    options.Credentials,
		handler:        options.Handler,
		presenter:      options.Presenter,
		clock:          options.Clock,
		logger:         options.Logger,
		baseDelay:      options.BaseDelay,
		maxDelay:       options.MaxDelay,
		connectTimeout: options.ConnectTimeout,
		callTimeout:    options.CallTimeout,
		messages:       newMessageCache(cacheCapacity),
	}
}

// Snapshot returns the current lifecycle snapshot.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

// RequestPairingCode asks the live connection for a phone-pairing code.
// Fails when no connection is awaiting authentication.
func (m *Manager) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	m.mu.Lock()
	conn := m.conn
	awaiting := m.snapshot.AwaitingLogin
	m.mu.Unlock()

	if conn == nil || !awaiting {
		return "", errors.New("no connection awaiting authentication")
	}
	return conn.RequestPairingCode(ctx, phone)
}

func (m *Manager) update(mutate func(*Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mutate(&m.snapshot)
}

func (m *Manager) setConn(conn chat.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conn = conn
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	previous := m.snapshot.State
	m.snapshot.State = state
	if state != Open {
		m.snapshot.ConnectedAt = time.Time{}
	}
	m.mu.Unlock()
	if previous != state {
		m.logger.Info("session state changed", "from", previous, "to", state)
	}
}

// errWatchdog is the recorded failure when a connection never reaches
// the open state within the connect timeout.
var errWatchdog = errors.New("connection did not open within the connect timeout")

// Run drives the lifecycle until ctx is canceled. It always returns
// ctx's error; connection failures are retried internally, never
// surfaced.
func (m *Manager) Run(ctx context.Context) error {
	defer m.setState(Closed)

	attempt := 0
	for {
		if ctx.Err() != nil {
			m.setState(Closing)
			return ctx.Err()
		}

		m.setState(Connecting)
		m.update(func(s *Snapshot) { s.Attempt = attempt })

		conn, err := m.transport.Dial(ctx, chat.DialConfig{
			CredentialDir:     m.credentials.Dir(),
			LookupMessage:     m.messages.lookup,
			SuppressQRDisplay: true,
			CallTimeout:       m.callTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				m.setState(Closing)
				return ctx.Err()
			}
			m.logger.Error("dial failed", "attempt", attempt, "error", err)
			m.update(func(s *Snapshot) { s.LastError = err.Error() })
			if !m.waitRetry(ctx, attempt) {
				m.setState(Closing)
				return ctx.Err()
			}
			attempt++
			continue
		}

		m.setConn(conn)
		result := m.serve(ctx, conn)
		m.setConn(nil)
		conn.Close()
		m.update(func(s *Snapshot) { s.AwaitingLogin = false })

		if ctx.Err() != nil {
			m.setState(Closing)
			return ctx.Err()
		}

		if result.loggedOut {
			// Stale credentials would make every reconnect fail the same
			// way. Purge and re-authenticate from a clean slate, without
			// backoff: this is a fresh login, not a retry of a failure.
			m.logger.Warn("logged out by the network, purging credentials")
			if err := m.credentials.Purge(); err != nil {
				m.logger.Error("failed to purge credentials", "error", err)
			}
			attempt = 0
			continue
		}

		if result.err != nil {
			m.update(func(s *Snapshot) { s.LastError = result.err.Error() })
		}
		if result.opened {
			attempt = 0
		}
		if !m.waitRetry(ctx, attempt) {
			m.setState(Closing)
			return ctx.Err()
		}
		attempt++
	}
}

// waitRetry sleeps out the backoff delay for the given consecutive
// failure count. Returns false when ctx was canceled during the wait.
func (m *Manager) waitRetry(ctx context.Context, attempt int) bool {
	delay := backoffDelay(attempt, m.baseDelay, m.maxDelay)
	m.setState(Disconnected)
	m.logger.Info("reconnecting after delay", "attempt", attempt, "delay", delay)
	select {
	case <-m.clock.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// backoffDelay returns the reconnect delay after attempt prior
// consecutive failures: base doubled attempt times, capped at max.
func backoffDelay(attempt int, base, max time.Duration) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

type serveResult struct {
	// opened is true when the connection reached the open state at
	// least once, which resets the failure counter.
	opened bool

	// loggedOut is true when the network invalidated our credentials.
	loggedOut bool

	// err is the close reason, if the transport reported one.
	err error
}

// serve drains one connection's event stream until it ends, the
// watchdog fires, or ctx is canceled. The caller closes the connection.
func (m *Manager) serve(ctx context.Context, conn chat.Conn) serveResult {
	var result serveResult

	// The watchdog arms only for the connecting phase; it is disarmed
	// (a nil channel never fires) once the connection opens.
	watchdog := m.clock.After(m.connectTimeout)
	events := conn.Events()

	for {
		select {
		case <-ctx.Done():
			return result

		case <-watchdog:
			m.logger.Warn("abandoning connection: not open within timeout",
				"timeout", m.connectTimeout)
			result.err = errWatchdog
			return result

		case event, ok := <-events:
			if !ok {
				if result.opened {
					result.err = errors.New("event stream ended without a close reason")
				}
				return result
			}
			if done := m.handleEvent(ctx, conn, event, &result, &watchdog); done {
				return result
			}
		}
	}
}

// handleEvent processes one event to completion. Returns true when the
// connection is finished and serve should return.
func (m *Manager) handleEvent(ctx context.Context, conn chat.Conn, event chat.Event, result *serveResult, watchdog *<-chan time.Time) bool {
	switch event.Kind {
	case chat.EventConnection:
		return m.handleConnection(conn, event.Connection, result, watchdog)

	case chat.EventCredentials:
		callCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
		err := conn.PersistCredentials(callCtx)
		cancel()
		if err != nil {
			m.logger.Error("failed to persist credentials", "error", err)
		}

	case chat.EventMessage:
		message := event.Message
		m.messages.store(message.Conversation, message.ID, message.Body())
		m.handler.HandleMessage(ctx, conn, message)

	case chat.EventMembership:
		m.handler.HandleMembership(ctx, conn, event.Membership)

	default:
		m.logger.Warn("dropping event of unknown kind", "kind", int(event.Kind))
	}
	return false
}

func (m *Manager) handleConnection(conn chat.Conn, update *chat.ConnectionUpdate, result *serveResult, watchdog *<-chan time.Time) bool {
	switch update.Status {
	case chat.ConnectionOpen:
		result.opened = true
		*watchdog = nil
		self := conn.SelfID()
		now := m.clock.Now()
		m.update(func(s *Snapshot) {
			s.SelfID = self
			s.ConnectedAt = now
			s.Attempt = 0
			s.LastError = ""
			s.AwaitingLogin = false
		})
		m.setState(Open)
		m.logger.Info("connection open", "self", self.String())

	case chat.ConnectionLoginQR:
		m.update(func(s *Snapshot) { s.AwaitingLogin = true })
		m.logger.Info("awaiting login, QR payload received")
		if m.presenter != nil {
			m.presenter.ShowLoginQR(update.QRCode)
		}

	case chat.ConnectionClosed:
		result.err = update.Err
		result.loggedOut = update.LoggedOut || chat.IsLoggedOut(update.Err)
		m.logger.Info("connection closed",
			"error", update.Err, "logged_out", result.loggedOut)
		return true

	default:
		m.logger.Warn("dropping connection update of unknown status",
			"status", int(update.Status))
	}
	return false
}
