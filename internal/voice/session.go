// Package voice implements the voice session state machine: a
// single-threaded handshake over a WebSocket connection, coordinating with
// a UDP helper for endpoint discovery.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/discordgw/internal/telemetry"
)

// command is anything the session's owning goroutine can process. Exactly
// one event is handled at a time, keeping the state machine single-threaded.
type command interface {
	handle(s *Session)
}

// Config parameterizes a Session.
type Config struct {
	// Address is the voice endpoint host, without scheme (e.g.
	// "region.voice.example.invalid:443").
	Address        string
	GatewayVersion int

	NewUDPHelper UDPHelperFactory

	Logger        *slog.Logger
	LogSentWS     bool
	LogReceivedWS bool

	// Dialer overrides the WebSocket dialer; nil uses websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Session runs the voice handshake state machine. Zero value is not
// usable; construct with New.
type Session struct {
	cfg    Config
	logger *slog.Logger

	cmds chan command
	quit chan struct{}
	done chan struct{}

	events chan Event

	state         State
	identify      identifyPayload
	pendingResume *ResumeData

	conn     *websocket.Conn
	outbound chan outboundFrame

	heartbeatTicker *time.Ticker
	heartbeatStop   chan struct{}
	restartTimer    *time.Timer

	udpHelper  UDPHelper
	helperCtx  context.Context
	helperStop context.CancelFunc

	handshakeSpan trace.Span
}

// New constructs a Session in the Inactive state. The returned Session owns
// a goroutine; call Close when the caller is done with it for good (a
// Supervisor watching the session never closes it).
func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:    cfg,
		logger: logger,
		cmds:   make(chan command, 16),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		events: make(chan Event, 16),
		state:  State{Kind: Inactive},
	}
	go s.run()
	return s
}

// run never closes cmds — the heartbeat ticker, restart timer, and the
// reader/writer goroutines all send into it. Shutdown happens over quit,
// following the same pattern as internal/ledger.
func (s *Session) run() {
	for {
		select {
		case cmd := <-s.cmds:
			cmd.handle(s)
		case <-s.quit:
			s.teardown()
			close(s.done)
			return
		}
	}
}

// Close permanently stops the session, tearing down any active connection.
func (s *Session) Close() {
	close(s.quit)
	<-s.done
}

// Login opens the WebSocket connection and begins the identify handshake,
// transitioning out of Inactive.
func (s *Session) Login(serverID, userID, sessionID, token string) {
	s.send(&loginCmd{ident: identifyPayload{ServerID: serverID, UserID: userID, SessionID: sessionID, Token: token}})
}

// Logout completes the outbound queue, tears down the UDP helper and
// connection, and returns to Inactive.
func (s *Session) Logout() {
	s.send(&logoutCmd{})
}

// Restart tears down the current connection and schedules a fresh Login
// after wait. If fresh is false and resume data is available, the
// subsequent Login sends Resume instead of Identify.
func (s *Session) Restart(fresh bool, wait time.Duration) {
	s.send(&restartCmd{fresh: fresh, wait: wait})
}

// CurrentState returns a snapshot of the session's state, for the admin
// surface.
func (s *Session) CurrentState() State {
	reply := make(chan State, 1)
	s.send(&stateQueryCmd{reply: reply})
	select {
	case st := <-reply:
		return st
	case <-s.quit:
		return State{Kind: Inactive}
	}
}

// Events returns the channel user-level events are published on.
func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) send(cmd command) {
	select {
	case s.cmds <- cmd:
	case <-s.quit:
	}
}

func (s *Session) dialer() *websocket.Dialer {
	if s.cfg.Dialer != nil {
		return s.cfg.Dialer
	}
	return websocket.DefaultDialer
}

func (s *Session) enqueueOutbound(f outboundFrame) {
	if s.outbound == nil {
		return
	}
	if s.cfg.LogSentWS {
		s.logger.Info("voice: sending frame", slog.Int("op", f.Op))
	}
	select {
	case s.outbound <- f:
	case <-s.quit:
	}
}

func (s *Session) writeLoop(conn *websocket.Conn, outbound <-chan outboundFrame) {
	for f := range outbound {
		if err := conn.WriteJSON(f); err != nil {
			s.send(&wsClosedCmd{err: fmt.Errorf("voice: write: %w", err)})
			return
		}
	}
}

func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		var f inboundFrame
		if err := conn.ReadJSON(&f); err != nil {
			s.send(&wsClosedCmd{err: fmt.Errorf("voice: read: %w", err)})
			return
		}
		if s.cfg.LogReceivedWS {
			s.logger.Info("voice: received frame", slog.Int("op", f.Op))
		}
		s.send(&frameCmd{frame: f})
	}
}

func (s *Session) forwardHelperEvents(events <-chan HelperEvent) {
	for ev := range events {
		s.send(&helperEventCmd{event: ev})
	}
}

// emitFatal tears down the connection and publishes EventFatal. The caller
// (typically a Supervisor) decides whether and how to restart.
func (s *Session) emitFatal(cause error) {
	s.logger.Error("voice: fatal", slog.String("error", cause.Error()))
	s.endHandshakeSpan(cause)
	s.teardownConnection()
	s.state = State{Kind: Inactive}
	s.publish(Event{Kind: EventFatal, Cause: cause})
}

// startHandshakeSpan opens a span covering Login through either EventReady
// or a fatal error, ending whichever handshake attempt was already in
// flight first — Restart can begin a new attempt before the old one closed
// its span.
func (s *Session) startHandshakeSpan(serverID string) {
	s.endHandshakeSpan(nil)
	_, span := telemetry.StartRouteSpan(context.Background(), "voice.handshake", "", serverID)
	s.handshakeSpan = span
}

func (s *Session) endHandshakeSpan(cause error) {
	if s.handshakeSpan == nil {
		return
	}
	if cause != nil {
		s.handshakeSpan.RecordError(cause)
	}
	s.handshakeSpan.End()
	s.handshakeSpan = nil
}

func (s *Session) publish(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("voice: event dropped, subscriber too slow", slog.Int("kind", int(ev.Kind)))
	}
}

// teardownConnection closes the socket, outbound queue, heartbeat ticker,
// and UDP helper, without touching s.state — callers set the resulting
// state themselves.
func (s *Session) teardownConnection() {
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
	if s.heartbeatTicker != nil {
		s.heartbeatTicker.Stop()
		s.heartbeatTicker = nil
	}
	if s.restartTimer != nil {
		s.restartTimer.Stop()
		s.restartTimer = nil
	}
	if s.helperStop != nil {
		s.helperStop()
		s.helperStop = nil
	}
	if s.udpHelper != nil {
		s.udpHelper.Close()
		s.udpHelper = nil
	}
	if s.outbound != nil {
		close(s.outbound)
		s.outbound = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *Session) teardown() {
	s.teardownConnection()
}
