package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

type loginCmd struct {
	ident identifyPayload
}

func (c *loginCmd) handle(s *Session) {
	if s.state.Kind != Inactive {
		s.logger.Warn("voice: login ignored, session already active", slog.String("state", s.state.Kind.String()))
		return
	}

	s.startHandshakeSpan(c.ident.ServerID)

	url := fmt.Sprintf("wss://%s?v=%d", s.cfg.Address, s.cfg.GatewayVersion)
	conn, _, err := s.dialer().Dial(url, nil)
	if err != nil {
		s.emitFatal(fmt.Errorf("voice: dial: %w", err))
		return
	}

	s.conn = conn
	s.outbound = make(chan outboundFrame, 16)
	s.identify = c.ident

	go s.writeLoop(conn, s.outbound)
	go s.readLoop(conn)

	resume := s.pendingResume
	s.pendingResume = nil

	if resume != nil {
		s.enqueueOutbound(outboundFrame{Op: opResume, Data: resumePayload{
			ServerID:  resume.ServerID,
			SessionID: resume.SessionID,
			Token:     resume.Token,
		}})
	} else {
		s.enqueueOutbound(outboundFrame{Op: opIdentify, Data: c.ident})
	}

	s.state = State{Kind: WithQueue, Resume: resume}
	s.logger.Info("voice: login", slog.String("server_id", c.ident.ServerID), slog.Bool("resume", resume != nil))
}

// loginTimerCmd re-enters Login after a Restart's wait elapses, carrying
// forward whatever identify parameters and resume data were captured when
// Restart was issued.
type loginTimerCmd struct{}

func (c *loginTimerCmd) handle(s *Session) {
	(&loginCmd{ident: s.identify}).handle(s)
}

type logoutCmd struct{}

func (c *logoutCmd) handle(s *Session) {
	if s.state.Kind == Inactive {
		return
	}
	s.endHandshakeSpan(nil)
	s.teardownConnection()
	s.state = State{Kind: Inactive}
	s.publish(Event{Kind: EventLoggedOut})
	s.logger.Info("voice: logout")
}

type restartCmd struct {
	fresh bool
	wait  time.Duration
}

func (c *restartCmd) handle(s *Session) {
	var resume *ResumeData
	if !c.fresh && s.identify.ServerID != "" {
		resume = &ResumeData{
			ServerID:  s.identify.ServerID,
			SessionID: s.identify.SessionID,
			Token:     s.identify.Token,
		}
	}

	s.teardownConnection()
	s.pendingResume = resume
	s.state = State{Kind: Inactive, Resume: resume}

	s.restartTimer = time.AfterFunc(c.wait, func() {
		s.send(&loginTimerCmd{})
	})
	s.logger.Info("voice: restart scheduled", slog.Duration("wait", c.wait), slog.Bool("fresh", c.fresh))
}

type wsClosedCmd struct {
	err error
}

func (c *wsClosedCmd) handle(s *Session) {
	if s.state.Kind == Inactive {
		return // already torn down by an explicit Logout/Restart
	}
	s.emitFatal(fmt.Errorf("voice: connection closed: %w", c.err))
}

type frameCmd struct {
	frame inboundFrame
}

func (c *frameCmd) handle(s *Session) {
	switch c.frame.Op {
	case opHello:
		s.handleHello(c.frame.Data)
	case opReady:
		s.handleReady(c.frame.Data)
	case opHeartbeatAck:
		s.handleHeartbeatAck(c.frame.Data)
	case opSessionDescription:
		s.handleSessionDescription(c.frame.Data)
	case opSpeaking:
		s.handleSpeaking(c.frame.Data)
	case opResumed:
		s.logger.Info("voice: resumed")
	case opClientDisconnect:
		// Explicitly ignored: presence cleanup, not session teardown.
	default:
		s.logger.Debug("voice: ignoring unknown opcode", slog.Int("op", c.frame.Op))
	}
}

func (s *Session) handleHello(raw json.RawMessage) {
	if s.state.Kind != WithQueue {
		s.logger.Warn("voice: unexpected Hello", slog.String("state", s.state.Kind.String()))
		return
	}
	var payload helloPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.emitFatal(fmt.Errorf("voice: decode Hello: %w", err))
		return
	}

	interval := time.Duration(payload.HeartbeatInterval*0.75) * time.Millisecond
	if s.heartbeatTicker != nil {
		s.heartbeatTicker.Stop()
	}
	s.heartbeatTicker = time.NewTicker(interval)
	s.heartbeatStop = make(chan struct{})
	go s.heartbeatPump(s.heartbeatTicker, s.heartbeatStop)

	s.state = State{Kind: WithHeartbeat, ReceivedAck: true, Resume: s.state.Resume}
}

// heartbeatPump stops on either stop (this connection generation tearing
// down) or the session's quit — Stop alone doesn't close ticker.C, so a
// bare "for range ticker.C" would otherwise leak this goroutine forever.
func (s *Session) heartbeatPump(ticker *time.Ticker, stop <-chan struct{}) {
	for {
		select {
		case <-ticker.C:
			s.send(&heartbeatTickCmd{})
		case <-stop:
			return
		case <-s.quit:
			return
		}
	}
}

func (s *Session) handleReady(raw json.RawMessage) {
	if s.state.Kind != WithHeartbeat {
		s.logger.Warn("voice: unexpected Ready", slog.String("state", s.state.Kind.String()))
		return
	}
	var payload readyPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.emitFatal(fmt.Errorf("voice: decode Ready: %w", err))
		return
	}

	if s.cfg.NewUDPHelper == nil {
		s.emitFatal(fmt.Errorf("voice: no UDP helper factory configured"))
		return
	}
	s.udpHelper = s.cfg.NewUDPHelper()
	s.helperCtx, s.helperStop = context.WithCancel(context.Background())

	events, err := s.udpHelper.Start(s.helperCtx, payload.IP, payload.Port, payload.SSRC)
	if err != nil {
		s.emitFatal(fmt.Errorf("voice: udp helper start: %w", err))
		return
	}
	go s.forwardHelperEvents(events)

	s.state = State{
		Kind:          WithUdp,
		ReceivedAck:   s.state.ReceivedAck,
		PreviousNonce: s.state.PreviousNonce,
		SSRC:          payload.SSRC,
		Resume:        s.state.Resume,
	}
}

func (s *Session) handleHeartbeatAck(raw json.RawMessage) {
	var nonce int64
	if err := json.Unmarshal(raw, &nonce); err != nil {
		s.emitFatal(fmt.Errorf("voice: decode HeartbeatACK: %w", err))
		return
	}
	if s.state.PreviousNonce == nil || *s.state.PreviousNonce != nonce {
		s.emitFatal(fmt.Errorf("voice: heartbeat ack nonce mismatch"))
		return
	}
	s.state.ReceivedAck = true
}

func (s *Session) handleSessionDescription(raw json.RawMessage) {
	if s.state.Kind != WithUdp {
		s.logger.Warn("voice: unexpected SessionDescription", slog.String("state", s.state.Kind.String()))
		return
	}
	var payload sessionDescriptionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.emitFatal(fmt.Errorf("voice: decode SessionDescription: %w", err))
		return
	}
	if s.udpHelper == nil {
		s.emitFatal(fmt.Errorf("voice: SessionDescription with no UDP helper"))
		return
	}
	if err := s.udpHelper.StartConnection(payload.SecretKey); err != nil {
		s.emitFatal(fmt.Errorf("voice: udp helper start connection: %w", err))
		return
	}
	s.endHandshakeSpan(nil)
	s.publish(Event{Kind: EventReady})
}

func (s *Session) handleSpeaking(raw json.RawMessage) {
	var payload speakingPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		s.logger.Warn("voice: decode Speaking failed", slog.String("error", err.Error()))
		return
	}
	s.publish(Event{Kind: EventSpeaking, Speaking: SpeakingUpdate{
		SSRC:     payload.SSRC,
		Speaking: payload.Speaking,
		Delay:    payload.Delay,
	}})
}

type heartbeatTickCmd struct{}

func (c *heartbeatTickCmd) handle(s *Session) {
	if s.state.Kind != WithHeartbeat && s.state.Kind != WithUdp {
		return
	}
	if !s.state.ReceivedAck {
		s.emitFatal(fmt.Errorf("voice: missed heartbeat ack"))
		return
	}

	nonce := time.Now().UnixMilli()
	s.enqueueOutbound(outboundFrame{Op: opHeartbeat, Data: nonce})
	s.state.ReceivedAck = false
	s.state.PreviousNonce = &nonce
}

type helperEventCmd struct {
	event HelperEvent
}

func (c *helperEventCmd) handle(s *Session) {
	switch ev := c.event.(type) {
	case FoundIP:
		s.handleFoundIP(ev)
	case HelperTerminated:
		if ev.Cause != nil && s.state.Kind != Inactive {
			s.emitFatal(fmt.Errorf("voice: udp helper terminated: %w", ev.Cause))
		}
	}
}

func (s *Session) handleFoundIP(ev FoundIP) {
	if s.state.Kind != WithUdp || s.state.IPData != nil {
		return
	}
	s.state.IPData = &IPData{LocalAddress: ev.LocalAddress, Port: ev.Port}
	s.enqueueOutbound(outboundFrame{Op: opSelectProtocol, Data: selectProtocolPayload{
		Protocol: "udp",
		Data: selectProtocolData{
			Address: ev.LocalAddress,
			Port:    ev.Port,
			Mode:    encryptionMode,
		},
	}})
}

type stateQueryCmd struct {
	reply chan State
}

func (c *stateQueryCmd) handle(s *Session) {
	c.reply <- s.state
}
