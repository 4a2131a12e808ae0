package voice

import "context"

// HelperEvent is anything a UDPHelper reports back to the owning session.
type HelperEvent interface {
	isHelperEvent()
}

// FoundIP reports the local address+port an IP-discovery round trip
// resolved, once the session has entered WithUdp.
type FoundIP struct {
	LocalAddress string
	Port         uint16
}

func (FoundIP) isHelperEvent() {}

// HelperTerminated reports that the UDP helper stopped, voluntarily or
// not. A non-nil Cause while the session is Active is a protocol violation
// and terminates the session.
type HelperTerminated struct {
	Cause error
}

func (HelperTerminated) isHelperEvent() {}

// UDPHelper owns the actual UDP socket, performs IP discovery, and
// encrypts/sends voice packets once StartConnection supplies the secret
// key. Real packet transmission (packet queue, encryption, Opus framing)
// is out of scope for this package; a caller supplies its own
// implementation via NewUDPHelper.
type UDPHelper interface {
	// Start opens the UDP socket to (address, port) keyed to ssrc and
	// begins IP discovery, returning a channel of events. The channel is
	// closed once the helper terminates.
	Start(ctx context.Context, address string, port int, ssrc uint32) (<-chan HelperEvent, error)
	// StartConnection supplies the secret key negotiated via
	// SessionDescription, after which the helper may begin sending.
	StartConnection(secretKey [32]byte) error
	Close() error
}

// UDPHelperFactory constructs a UDPHelper for a session. Injected so tests
// can substitute internal/voice/udpfake.
type UDPHelperFactory func() UDPHelper
