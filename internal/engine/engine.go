// Package engine composes the crypto, codec, protocol, and transport
// packages into the single send/receive path a caller actually drives: the
// NetworkEngine of spec.md §4.5.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"derpnetws/internal/codec"
	"derpnetws/internal/crypto"
	"derpnetws/internal/errs"
	"derpnetws/internal/protocol"
	"derpnetws/internal/transport"
)

// ClientVersion is advertised in ClientInfo during the handshake.
const ClientVersion = "1"

// Stats is a point-in-time snapshot of the engine's counters, per spec.md
// §4.5.
type Stats struct {
	BytesSent         uint64
	BytesReceived     uint64
	PacketsSent       uint64
	PacketsReceived   uint64
	ReconnectAttempts uint32
}

// Engine drives one relay connection end to end: dial, handshake, encrypt
// outbound payloads, decrypt and dispatch inbound frames. One Engine per
// relay session.
type Engine struct {
	crypto *crypto.State
	xport  *transport.Adapter

	mu    sync.Mutex
	fsm   *protocol.FSM // reassigned wholesale on reconnect; guarded by mu
	stats Stats

	inboundPackets chan []byte

	pingStop chan struct{}
}

// currentFSM returns the FSM in effect right now. It's re-fetched around
// every dispatch because a reconnect swaps in a fresh one; the FSM itself
// guards its own fields with its own mutex, so callers may call methods on
// the returned value without holding e.mu.
func (e *Engine) currentFSM() *protocol.FSM {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fsm
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithFwmark sets the Linux SO_MARK applied to the relay dial socket, so it
// can be excluded from policy routing back through a tunnel this engine is
// itself establishing.
func WithFwmark(mark uint32) Option {
	return func(e *Engine) { e.xport.SetFwmark(mark) }
}

// New builds an Engine around crypto, dialing with the default Dial
// selection logic (see transport.Dial).
func New(cryptoState *crypto.State, opts ...Option) *Engine {
	return newWithDialer(cryptoState, transport.Dial, opts...)
}

func newWithDialer(cryptoState *crypto.State, dial transport.Dialer, opts ...Option) *Engine {
	e := &Engine{
		crypto:         cryptoState,
		fsm:            protocol.New(ClientVersion),
		xport:          transport.NewAdapter(dial),
		inboundPackets: make(chan []byte, 64),
	}
	e.xport.OnReconnecting = e.onReconnecting
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Connect dials relayURL, runs the handshake to completion, and starts the
// background receive-dispatch loop. It blocks until the handshake either
// completes or fails.
func (e *Engine) Connect(ctx context.Context, relayURL string) error {
	const op = "engine.Connect"

	if err := e.xport.Open(ctx, relayURL); err != nil {
		return err
	}

	go e.dispatchLoop()

	frameType, payload, err := e.currentFSM().StartHandshake()
	if err != nil {
		return err
	}
	if err := e.sendFrame(ctx, frameType, payload, false); err != nil {
		return err
	}

	return e.awaitHandshake(ctx)
}

func (e *Engine) awaitHandshake(ctx context.Context) error {
	const op = "engine.awaitHandshake"
	deadline := time.After(30 * time.Second)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return errs.New(errs.InvalidState, op, fmt.Errorf("handshake timed out"))
		case <-ticker.C:
			fsm := e.currentFSM()
			switch fsm.State() {
			case protocol.Complete:
				log.Printf("engine: handshake complete, compression=%v", fsm.CompressionEnabled())
				e.startKeepalive(ctx)
				return nil
			case protocol.Failed:
				return errs.New(errs.InvalidProtocol, op, fmt.Errorf("handshake failed: %s", fsm.FailReason()))
			}
		}
	}
}

// SendPacket encrypts plaintext with the crypto state's AEAD key and frames
// it as a Send message to the relay.
func (e *Engine) SendPacket(plaintext []byte) error {
	const op = "engine.SendPacket"
	fsm := e.currentFSM()
	if !fsm.IsConnected() {
		return errs.New(errs.InvalidState, op, fmt.Errorf("not connected"))
	}

	sealed := e.crypto.Encrypt(plaintext)
	if err := e.sendFrame(context.Background(), protocol.Send, sealed, fsm.CompressionEnabled()); err != nil {
		return err
	}

	e.mu.Lock()
	e.stats.PacketsSent++
	e.stats.BytesSent += uint64(len(plaintext))
	e.mu.Unlock()
	return nil
}

func (e *Engine) sendFrame(ctx context.Context, frameType protocol.FrameType, payload []byte, compress bool) error {
	const op = "engine.sendFrame"
	frame := codec.Encode(frameType, payload, compress)
	if err := e.xport.Send(ctx, frame); err != nil {
		return errs.New(errs.TransportError, op, err)
	}
	return nil
}

// Inbound returns the channel of decrypted payloads received from peers via
// RecvFromPeer frames.
func (e *Engine) Inbound() <-chan []byte { return e.inboundPackets }

// Stats returns a snapshot of the engine's counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.stats
	s.ReconnectAttempts = e.xport.ReconnectAttempts()
	return s
}

// Peers returns a snapshot of the peer-presence table.
func (e *Engine) Peers() map[string]protocol.Peer { return e.currentFSM().Peers() }

// Close tears down the transport and stops the keepalive loop.
func (e *Engine) Close() error {
	if e.pingStop != nil {
		close(e.pingStop)
	}
	return e.xport.Close()
}

func (e *Engine) onReconnecting() {
	log.Printf("engine: reconnecting, resetting handshake state")
	e.mu.Lock()
	e.fsm = protocol.New(ClientVersion)
	e.mu.Unlock()
}

func (e *Engine) dispatchLoop() {
	for raw := range e.xport.Inbound() {
		frameType, payload, err := codec.Decode(raw)
		if err != nil {
			log.Printf("engine: dropping malformed frame: %v", err)
			continue
		}
		if err := e.dispatch(frameType, payload); err != nil {
			log.Printf("engine: dispatch %s: %v", frameType, err)
		}
	}
}

func (e *Engine) dispatch(frameType protocol.FrameType, payload []byte) error {
	nowMs := uint64(time.Now().UnixMilli())
	fsm := e.currentFSM()

	replyType, reply, err := fsm.Dispatch(frameType, payload, nowMs)
	if err == nil {
		if frameType == protocol.ServerKey {
			if _, err := e.crypto.DeriveSessionKey(payload); err != nil {
				return err
			}
		}
		if replyType != 0 {
			return e.sendFrame(context.Background(), replyType, reply, false)
		}
		return nil
	}
	if !errors.Is(err, protocol.ErrNotFSMFrame) {
		return err
	}

	switch frameType {
	case protocol.Pong:
		return nil
	case protocol.RecvFromPeer:
		plaintext, err := e.crypto.Decrypt(payload)
		if err != nil {
			return err
		}
		e.mu.Lock()
		e.stats.PacketsReceived++
		e.stats.BytesReceived += uint64(len(plaintext))
		e.mu.Unlock()
		e.inboundPackets <- plaintext
		return nil
	default:
		return nil
	}
}

func (e *Engine) startKeepalive(ctx context.Context) {
	e.pingStop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-e.pingStop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				nowMs := uint64(time.Now().UnixMilli())
				fsm := e.currentFSM()
				if fsm.ShouldSendPing(nowMs) {
					if err := e.sendFrame(ctx, protocol.Ping, nil, false); err != nil {
						log.Printf("engine: keepalive ping failed: %v", err)
						continue
					}
					fsm.RecordPingSent(nowMs)
				}
			}
		}
	}()
}
