package protocol

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"derpnetws/internal/errs"
)

// ErrNotFSMFrame is returned by Dispatch for frame types the FSM does not
// route itself (Send, RecvFromPeer, Pong): the caller handles those.
var ErrNotFSMFrame = errors.New("protocol: frame type not handled by FSM dispatch")

// HandshakeState is the variant type of spec.md §3: Initial is the start
// state, Complete is the terminal accepting state, Failed is terminal and
// non-accepting.
type HandshakeState int

const (
	Initial HandshakeState = iota
	AwaitingServerKey
	AwaitingServerInfo
	Complete
	Failed
)

func (s HandshakeState) String() string {
	switch s {
	case Initial:
		return "Initial"
	case AwaitingServerKey:
		return "AwaitingServerKey"
	case AwaitingServerInfo:
		return "AwaitingServerInfo"
	case Complete:
		return "Complete"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// FSM is the handshake state machine plus the per-session bits that hang off
// it: cached ClientInfo/ServerInfo, keepalive timing, negotiated feature
// set, and the peer-presence table. One FSM per engine, safe for concurrent
// use: mu guards every field below it.
type FSM struct {
	mu sync.Mutex

	state HandshakeState

	clientInfo *ClientInfoMsg
	serverInfo *ServerInfoMsg

	failReason string

	lastPingMs         uint64
	supportedFeatures  []string
	compressionEnabled bool

	peers peerTable

	clientVersion string
}

// New builds a fresh FSM in the Initial state, advertising the default
// feature set of spec.md §4.3.
func New(clientVersion string) *FSM {
	return &FSM{
		state:             Initial,
		supportedFeatures: DefaultFeatures(),
		peers:             newPeerTable(),
		clientVersion:     clientVersion,
	}
}

// State returns the current handshake state.
func (f *FSM) State() HandshakeState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// FailReason returns the reason the FSM entered Failed, if it has.
func (f *FSM) FailReason() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failReason
}

// IsConnected reports whether the handshake has completed, per spec.md §4.3.
func (f *FSM) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == Complete
}

// CompressionEnabled reports whether the negotiated feature set includes
// compression; only meaningful once IsConnected is true.
func (f *FSM) CompressionEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.compressionEnabled
}

// ServerInfo returns the cached ServerInfo, or nil before Complete.
func (f *FSM) ServerInfo() *ServerInfoMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.serverInfo
}

// StartHandshake transitions Initial -> AwaitingServerKey and returns the
// ClientInfo frame to send. Calling it from any other state is
// InvalidState, per spec.md §4.3's transition table.
func (f *FSM) StartHandshake() (FrameType, []byte, error) {
	const op = "protocol.StartHandshake"
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Initial {
		return 0, nil, errs.New(errs.InvalidState, op, fmt.Errorf("start_handshake called in state %s", f.state))
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return 0, nil, errs.New(errs.CryptoError, op, fmt.Errorf("generate client id: %w", err))
	}
	var clientID [16]byte
	copy(clientID[:], id[:])

	info := ClientInfoMsg{
		Version:       f.clientVersion,
		ClientID:      clientID,
		Features:      append([]string(nil), f.supportedFeatures...),
		MaxPacketSize: DefaultMaxPacketSize,
	}
	f.clientInfo = &info
	f.state = AwaitingServerKey

	return ClientInfo, EncodeClientInfo(info), nil
}

// HandleServerKey validates the 32-byte server key payload and transitions
// AwaitingServerKey -> AwaitingServerInfo. It does not derive the session
// key itself — that is the Crypto component's job (spec.md §3's CryptoState
// note); callers invoke crypto.DeriveSessionKey alongside this.
func (f *FSM) HandleServerKey(payload []byte) error {
	const op = "protocol.HandleServerKey"
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != AwaitingServerKey {
		return errs.New(errs.InvalidState, op, fmt.Errorf("handle_server_key called in state %s", f.state))
	}
	if len(payload) != 32 {
		return errs.New(errs.InvalidProtocol, op, fmt.Errorf("server key must be 32 bytes, got %d", len(payload)))
	}
	f.state = AwaitingServerInfo
	return nil
}

// HandleServerInfo deserializes payload, checks version compatibility and
// feature intersection, and transitions AwaitingServerInfo -> Complete (or
// -> Failed on a protocol violation), per spec.md §4.3.
func (f *FSM) HandleServerInfo(payload []byte) error {
	const op = "protocol.HandleServerInfo"
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != AwaitingServerInfo {
		return errs.New(errs.InvalidState, op, fmt.Errorf("handle_server_info called in state %s", f.state))
	}

	info, err := DecodeServerInfo(payload)
	if err != nil {
		f.state = Failed
		f.failReason = "malformed ServerInfo"
		return err
	}

	if !containsString(info.SupportedVersions, f.clientVersion) {
		f.state = Failed
		f.failReason = "incompatible version"
		return errs.New(errs.InvalidProtocol, op, fmt.Errorf("client version %q not in server supported versions %v", f.clientVersion, info.SupportedVersions))
	}

	intersection := intersect(f.supportedFeatures, info.Features)
	if len(intersection) == 0 {
		f.state = Failed
		f.failReason = "empty feature intersection"
		return errs.New(errs.InvalidProtocol, op, fmt.Errorf("no common features between %v and %v", f.supportedFeatures, info.Features))
	}

	f.serverInfo = &info
	f.compressionEnabled = containsString(intersection, "compression")
	f.state = Complete
	return nil
}

// HandlePing produces the Pong reply and updates last_ping_time. Calling it
// outside Complete is InvalidState.
func (f *FSM) HandlePing(nowMs uint64) (FrameType, []byte, error) {
	const op = "protocol.HandlePing"
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != Complete {
		return 0, nil, errs.New(errs.InvalidState, op, fmt.Errorf("handle_ping called in state %s", f.state))
	}
	f.lastPingMs = nowMs
	return Pong, nil, nil
}

// ShouldSendPing reports whether the keepalive interval the server
// advertised has elapsed since the last ping was sent or handled.
func (f *FSM) ShouldSendPing(nowMs uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.serverInfo == nil {
		return false
	}
	intervalMs := uint64(f.serverInfo.KeepaliveIntervalS) * 1000
	return nowMs-f.lastPingMs >= intervalMs
}

// RecordPingSent marks that the client itself has just sent a keepalive
// Ping, resetting the ShouldSendPing clock the same way an inbound Ping
// handled via HandlePing would.
func (f *FSM) RecordPingSent(nowMs uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPingMs = nowMs
}

// HandlePeerPresent upserts a 32-byte peer public key into the peer table.
func (f *FSM) HandlePeerPresent(payload []byte, nowMs uint64) error {
	const op = "protocol.HandlePeerPresent"
	key, err := peerKey(payload)
	if err != nil {
		return errs.New(errs.InvalidProtocol, op, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers.upsert(key, nowMs)
	return nil
}

// HandlePeerGone removes a peer from the table; removing an absent peer is
// not an error.
func (f *FSM) HandlePeerGone(payload []byte) error {
	const op = "protocol.HandlePeerGone"
	key, err := peerKey(payload)
	if err != nil {
		return errs.New(errs.InvalidProtocol, op, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers.remove(key)
	return nil
}

// Peers returns a snapshot of the peer-presence table.
func (f *FSM) Peers() map[string]Peer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers.snapshot()
}

// Dispatch routes an inbound frame to the FSM method that handles it,
// returning the reply frame to send (if any). ServerKey, ServerInfo,
// PeerPresent, and PeerGone never produce a reply, so replyType is 0 and
// payload is nil on success for those. Send, RecvFromPeer, and Pong are not
// FSM-routed; Dispatch returns ErrNotFSMFrame for them and leaves state
// untouched, per spec.md §4.3.
func (f *FSM) Dispatch(frameType FrameType, payload []byte, nowMs uint64) (FrameType, []byte, error) {
	switch frameType {
	case ServerKey:
		return 0, nil, f.HandleServerKey(payload)
	case ServerInfo:
		return 0, nil, f.HandleServerInfo(payload)
	case Ping:
		return f.HandlePing(nowMs)
	case PeerPresent:
		return 0, nil, f.HandlePeerPresent(payload, nowMs)
	case PeerGone:
		return 0, nil, f.HandlePeerGone(payload)
	default:
		return 0, nil, ErrNotFSMFrame
	}
}

func peerKey(payload []byte) ([32]byte, error) {
	var key [32]byte
	if len(payload) != 32 {
		return key, fmt.Errorf("peer key must be 32 bytes, got %d", len(payload))
	}
	copy(key[:], payload)
	return key, nil
}

func containsString(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}

func intersect(a, b []string) []string {
	var out []string
	for _, s := range a {
		if containsString(b, s) {
			out = append(out, s)
		}
	}
	return out
}
