package voice

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tjfontaine/discordgw/internal/voice/udpfake"
)

// fakeGateway is a minimal server-side voice gateway used to drive a
// Session through the full handshake in tests.
type fakeGateway struct {
	upgrader websocket.Upgrader
	conn     chan *websocket.Conn
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{conn: make(chan *websocket.Conn, 1)}
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.conn <- conn
}

func (g *fakeGateway) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-g.conn:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client to connect")
		return nil
	}
}

func readOp(t *testing.T, conn *websocket.Conn) inboundFrame {
	t.Helper()
	var f inboundFrame
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&f); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return f
}

func send(t *testing.T, conn *websocket.Conn, op int, data any) {
	t.Helper()
	if err := conn.WriteJSON(outboundFrame{Op: op, Data: data}); err != nil {
		t.Fatalf("writing frame: %v", err)
	}
}

// newTestSession stands up a TLS-backed fake gateway (the session always
// dials wss://) and a Session pointed at it, with an insecure-skip-verify
// dialer standing in for a real certificate chain.
func newTestSession(t *testing.T, helperFactory UDPHelperFactory) (*Session, *fakeGateway, *httptest.Server) {
	t.Helper()
	gw := newFakeGateway()
	srv := httptest.NewTLSServer(gw)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}

	dialer := &websocket.Dialer{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	s := New(Config{
		Address:        u.Host,
		GatewayVersion: 4,
		NewUDPHelper:   helperFactory,
		Dialer:         dialer,
	})
	t.Cleanup(s.Close)
	return s, gw, srv
}

func TestSessionFullHandshakeReachesReady(t *testing.T) {
	helper := udpfake.New("10.0.0.5", 5555)
	s, gw, _ := newTestSession(t, helper)

	s.Login("server-1", "user-1", "session-1", "token-1")

	conn := gw.accept(t)
	defer conn.Close()

	ident := readOp(t, conn)
	if ident.Op != opIdentify {
		t.Fatalf("expected Identify, got op %d", ident.Op)
	}

	send(t, conn, opHello, helloPayload{HeartbeatInterval: 200})

	send(t, conn, opReady, readyPayload{SSRC: 42, IP: "203.0.113.1", Port: 5000, Modes: []string{encryptionMode}})

	selectFrame := readOp(t, conn)
	if selectFrame.Op != opSelectProtocol {
		t.Fatalf("expected SelectProtocol, got op %d", selectFrame.Op)
	}
	var sp selectProtocolPayload
	if err := json.Unmarshal(selectFrame.Data, &sp); err != nil {
		t.Fatalf("decoding SelectProtocol: %v", err)
	}
	if sp.Data.Address != "10.0.0.5" || sp.Data.Port != 5555 {
		t.Fatalf("expected fake helper's discovered address, got %+v", sp.Data)
	}

	send(t, conn, opSessionDescription, sessionDescriptionPayload{SecretKey: [32]byte{1, 2, 3}, Mode: encryptionMode})

	select {
	case ev := <-s.Events():
		if ev.Kind != EventReady {
			t.Fatalf("expected EventReady, got %v", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for EventReady")
	}

	if st := s.CurrentState(); st.Kind != WithUdp {
		t.Fatalf("expected WithUdp, got %v", st.Kind)
	}
}

func TestSessionHeartbeatAckNonceMismatchIsFatal(t *testing.T) {
	helper := udpfake.New("10.0.0.5", 5555)
	s, gw, _ := newTestSession(t, helper)

	s.Login("server-1", "user-1", "session-1", "token-1")
	conn := gw.accept(t)
	defer conn.Close()

	readOp(t, conn) // Identify
	send(t, conn, opHello, helloPayload{HeartbeatInterval: 100000})

	// No heartbeat has gone out yet, so any ack nonce is a mismatch.
	send(t, conn, opHeartbeatAck, int64(999))

	select {
	case ev := <-s.Events():
		if ev.Kind != EventFatal {
			t.Fatalf("expected EventFatal, got %v", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for EventFatal")
	}

	if st := s.CurrentState(); st.Kind != Inactive {
		t.Fatalf("expected session to return to Inactive after a fatal error, got %v", st.Kind)
	}
}

func TestSessionMissedHeartbeatAckIsFatal(t *testing.T) {
	helper := udpfake.New("10.0.0.5", 5555)
	s, gw, _ := newTestSession(t, helper)

	s.Login("server-1", "user-1", "session-1", "token-1")
	conn := gw.accept(t)
	defer conn.Close()

	readOp(t, conn) // Identify

	// A short interval so two ticks fire quickly; the server never acks
	// the first heartbeat, so the second tick must observe ReceivedAck
	// still false and go fatal.
	send(t, conn, opHello, helloPayload{HeartbeatInterval: 100})

	heartbeat := readOp(t, conn)
	if heartbeat.Op != opHeartbeat {
		t.Fatalf("expected Heartbeat, got op %d", heartbeat.Op)
	}

	select {
	case ev := <-s.Events():
		if ev.Kind != EventFatal {
			t.Fatalf("expected EventFatal, got %v", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for EventFatal after a missed ack")
	}
}

func TestSessionLogoutReturnsToInactive(t *testing.T) {
	helper := udpfake.New("10.0.0.5", 5555)
	s, gw, _ := newTestSession(t, helper)

	s.Login("server-1", "user-1", "session-1", "token-1")
	conn := gw.accept(t)
	defer conn.Close()
	readOp(t, conn)

	s.Logout()

	select {
	case ev := <-s.Events():
		if ev.Kind != EventLoggedOut {
			t.Fatalf("expected EventLoggedOut, got %v", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for EventLoggedOut")
	}

	if st := s.CurrentState(); st.Kind != Inactive {
		t.Fatalf("expected Inactive after Logout, got %v", st.Kind)
	}
}

func TestSessionRestartWithoutFreshSendsResume(t *testing.T) {
	helper := udpfake.New("10.0.0.5", 5555)
	s, gw, _ := newTestSession(t, helper)

	s.Login("server-1", "user-1", "session-1", "token-1")
	conn := gw.accept(t)
	readOp(t, conn) // Identify
	conn.Close()

	s.Restart(false, 10*time.Millisecond)

	conn2 := gw.accept(t)
	defer conn2.Close()

	resumed := readOp(t, conn2)
	if resumed.Op != opResume {
		t.Fatalf("expected Resume after a non-fresh Restart, got op %d", resumed.Op)
	}
}

func TestSupervisorRestartsOnFatal(t *testing.T) {
	helper := udpfake.New("10.0.0.5", 5555)
	s, gw, _ := newTestSession(t, helper)

	sup := NewSupervisor(s, 10*time.Millisecond, true, nil)
	defer sup.Stop()

	s.Login("server-1", "user-1", "session-1", "token-1")
	conn := gw.accept(t)
	readOp(t, conn) // Identify
	send(t, conn, opHello, helloPayload{HeartbeatInterval: 100000})
	send(t, conn, opHeartbeatAck, int64(1)) // mismatch, forces EventFatal
	conn.Close()

	// The Supervisor should observe EventFatal and issue a fresh Login,
	// which shows up as a second connection to the fake gateway.
	conn2 := gw.accept(t)
	defer conn2.Close()

	ident := readOp(t, conn2)
	if ident.Op != opIdentify {
		t.Fatalf("expected a fresh Identify after supervised restart, got op %d", ident.Op)
	}
}
