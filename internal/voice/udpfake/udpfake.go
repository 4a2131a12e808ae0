// Package udpfake is a minimal loopback stand-in for voice.UDPHelper, for
// tests that need to drive the session state machine through Ready →
// FoundIP → SessionDescription without a real UDP socket.
package udpfake

import (
	"context"
	"sync"

	"github.com/tjfontaine/discordgw/internal/voice"
)

// Helper reports a fixed FoundIP shortly after Start and records the
// secret key it's handed, for assertions in tests.
type Helper struct {
	LocalAddress string
	LocalPort    uint16

	mu        sync.Mutex
	secretKey [32]byte
	started   bool
	closed    bool
	events    chan voice.HelperEvent
}

// New returns a Factory that always produces a fresh *Helper reporting the
// given loopback address and port as its discovered IP.
func New(localAddress string, localPort uint16) voice.UDPHelperFactory {
	return func() voice.UDPHelper {
		return &Helper{LocalAddress: localAddress, LocalPort: localPort}
	}
}

func (h *Helper) Start(ctx context.Context, address string, port int, ssrc uint32) (<-chan voice.HelperEvent, error) {
	h.mu.Lock()
	h.started = true
	h.events = make(chan voice.HelperEvent, 1)
	events := h.events
	h.mu.Unlock()

	events <- voice.FoundIP{LocalAddress: h.LocalAddress, Port: h.LocalPort}
	return events, nil
}

func (h *Helper) StartConnection(secretKey [32]byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.secretKey = secretKey
	return nil
}

func (h *Helper) SecretKey() [32]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.secretKey
}

func (h *Helper) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.events != nil {
		close(h.events)
	}
	return nil
}
