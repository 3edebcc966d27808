// Package protocol implements the handshake state machine, ClientInfo/
// ServerInfo wire encoding, and peer-presence table of the relay protocol.
// See spec.md §3 and §4.3.
package protocol

// FrameType is the closed frame-type enumeration on the wire. Values 1-7
// are exactly spec.md §3's table; PeerPresent/PeerGone are added at the
// first two unused values per spec.md §9's resolution of the frame-type
// discrepancy between the two source enumerations (see SPEC_FULL.md §3.1).
type FrameType byte

const (
	ServerKey    FrameType = 1
	ServerInfo   FrameType = 2
	ClientInfo   FrameType = 3
	Ping         FrameType = 4
	Pong         FrameType = 5
	Send         FrameType = 6
	RecvFromPeer FrameType = 7
	PeerPresent  FrameType = 8
	PeerGone     FrameType = 9
)

// Valid reports whether t is one of the defined frame types.
func (t FrameType) Valid() bool {
	return t >= ServerKey && t <= PeerGone
}

func (t FrameType) String() string {
	switch t {
	case ServerKey:
		return "ServerKey"
	case ServerInfo:
		return "ServerInfo"
	case ClientInfo:
		return "ClientInfo"
	case Ping:
		return "Ping"
	case Pong:
		return "Pong"
	case Send:
		return "Send"
	case RecvFromPeer:
		return "RecvFromPeer"
	case PeerPresent:
		return "PeerPresent"
	case PeerGone:
		return "PeerGone"
	default:
		return "Unknown"
	}
}

// ClientInfoMsg is the handshake payload the client sends after dialing.
type ClientInfoMsg struct {
	Version       string
	ClientID      [16]byte // RFC-4122 UUID bytes
	Features      []string
	MaxPacketSize uint32
}

// ServerInfoMsg is the handshake payload the server replies with.
type ServerInfoMsg struct {
	Version            string
	ServerID           string
	SupportedVersions  []string
	Features           []string
	MaxPacketSize      uint32
	KeepaliveIntervalS uint32
}

// DefaultMaxPacketSize is the max_packet_size advertised in ClientInfo,
// per spec.md §6.
const DefaultMaxPacketSize = 16384

// DefaultFeatures is the feature set advertised by a fresh FSM, per
// spec.md §4.3.
func DefaultFeatures() []string {
	return []string{"compression", "encryption", "ipv6"}
}
