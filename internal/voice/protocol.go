package voice

import "encoding/json"

// outboundFrame and inboundFrame are the wire shape of every voice gateway
// message (sent and received respectively): a small integer
// opcode plus an opcode-specific payload, following the pack's real voice
// gateway reference (github.com/mtharp/dotairhorn's dvoice package).
type outboundFrame struct {
	Op   int `json:"op"`
	Data any `json:"d"`
}

type inboundFrame struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d"`
}

const (
	opIdentify = iota
	opSelectProtocol
	opReady
	opHeartbeat
	opSessionDescription
	opSpeaking
	opHeartbeatAck
	opResume
	opHello
	opResumed
)

// opClientDisconnect is explicitly ignored: it reports another user
// leaving the channel for presence cleanup, not this session's own
// teardown.
const opClientDisconnect = 13

const encryptionMode = "xsalsa20_poly1305"

type identifyPayload struct {
	ServerID  string `json:"server_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

type resumePayload struct {
	ServerID  string `json:"server_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

type helloPayload struct {
	HeartbeatInterval float64 `json:"heartbeat_interval"`
}

type readyPayload struct {
	SSRC  uint32   `json:"ssrc"`
	IP    string   `json:"ip"`
	Port  int      `json:"port"`
	Modes []string `json:"modes"`
}

type selectProtocolPayload struct {
	Protocol string             `json:"protocol"`
	Data     selectProtocolData `json:"data"`
}

type selectProtocolData struct {
	Address string `json:"address"`
	Port    uint16 `json:"port"`
	Mode    string `json:"mode"`
}

type sessionDescriptionPayload struct {
	SecretKey [32]byte `json:"secret_key"`
	Mode      string   `json:"mode"`
}

type speakingPayload struct {
	Speaking bool   `json:"speaking"`
	Delay    int    `json:"delay"`
	SSRC     uint32 `json:"ssrc"`
}
