package engine

import (
	"context"
	"testing"
	"time"

	"derpnetws/internal/codec"
	"derpnetws/internal/crypto"
	"derpnetws/internal/protocol"
	"derpnetws/internal/transport"
)

// fakeConn is an in-memory transport.Conn standing in for a relay socket:
// writes land on toServer, and the test's fakeServer goroutine pushes
// responses onto toClient for Read to return.
type fakeConn struct {
	toServer chan []byte
	toClient chan []byte
	closed   chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		toServer: make(chan []byte, 16),
		toClient: make(chan []byte, 16),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (transport.MessageType, []byte, error) {
	select {
	case data := <-c.toClient:
		return transport.MessageBinary, data, nil
	case <-c.closed:
		return 0, nil, context.Canceled
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *fakeConn) Write(ctx context.Context, typ transport.MessageType, data []byte) error {
	c.toServer <- append([]byte(nil), data...)
	return nil
}

func (c *fakeConn) Close(code transport.StatusCode, reason string) error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

// fakeServer answers the handshake and echoes Send frames back as
// RecvFromPeer, exercising the engine's full dispatch path without a real
// network socket.
func fakeServer(t *testing.T, conn *fakeConn, serverKey []byte) {
	t.Helper()
	for {
		select {
		case raw := <-conn.toServer:
			frameType, payload, err := codec.Decode(raw)
			if err != nil {
				t.Errorf("fakeServer: decode: %v", err)
				return
			}
			switch frameType {
			case protocol.ClientInfo:
				conn.toClient <- codec.Encode(protocol.ServerKey, serverKey, false)
				info := protocol.ServerInfoMsg{
					Version:            ClientVersion,
					ServerID:           "fake-server",
					SupportedVersions:  []string{ClientVersion},
					Features:           protocol.DefaultFeatures(),
					MaxPacketSize:      protocol.DefaultMaxPacketSize,
					KeepaliveIntervalS: 30,
				}
				conn.toClient <- codec.Encode(protocol.ServerInfo, protocol.EncodeServerInfo(info), false)
			case protocol.Send:
				conn.toClient <- codec.Encode(protocol.RecvFromPeer, payload, false)
			case protocol.Ping:
				conn.toClient <- codec.Encode(protocol.Pong, nil, false)
			}
		case <-conn.closed:
			return
		}
	}
}

func TestEngineConnectAndRoundTrip(t *testing.T) {
	conn := newFakeConn()
	serverKey := make([]byte, 32)
	for i := range serverKey {
		serverKey[i] = byte(i)
	}
	go fakeServer(t, conn, serverKey)

	dial := func(ctx context.Context, rawurl string, fwmark uint32) (transport.Conn, error) {
		return conn, nil
	}

	cryptoState, err := crypto.New()
	if err != nil {
		t.Fatalf("crypto.New: %v", err)
	}
	e := newWithDialer(cryptoState, dial)
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Connect(ctx, "wss://example.invalid/relay"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	payload := []byte("hello peer")
	if err := e.SendPacket(payload); err != nil {
		t.Fatalf("SendPacket: %v", err)
	}

	select {
	case got := <-e.Inbound():
		if string(got) != string(payload) {
			t.Fatalf("roundtrip payload = %q, want %q", got, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed packet")
	}

	stats := e.Stats()
	if stats.PacketsSent != 1 || stats.PacketsReceived != 1 {
		t.Fatalf("stats = %+v, want 1 sent and 1 received", stats)
	}
	if stats.BytesSent != uint64(len(payload)) || stats.BytesReceived != uint64(len(payload)) {
		t.Fatalf("stats byte counts = %+v, want %d each", stats, len(payload))
	}
}

func TestWithFwmarkReachesDialer(t *testing.T) {
	conn := newFakeConn()
	serverKey := make([]byte, 32)
	go fakeServer(t, conn, serverKey)

	var gotMark uint32
	dial := func(ctx context.Context, rawurl string, fwmark uint32) (transport.Conn, error) {
		gotMark = fwmark
		return conn, nil
	}

	cryptoState, err := crypto.New()
	if err != nil {
		t.Fatalf("crypto.New: %v", err)
	}
	e := newWithDialer(cryptoState, dial, WithFwmark(99))
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Connect(ctx, "wss://example.invalid/relay"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if gotMark != 99 {
		t.Fatalf("dialer saw fwmark = %d, want 99", gotMark)
	}
}

func TestEngineSendPacketBeforeConnectFails(t *testing.T) {
	cryptoState, err := crypto.New()
	if err != nil {
		t.Fatalf("crypto.New: %v", err)
	}
	e := newWithDialer(cryptoState, func(ctx context.Context, rawurl string, fwmark uint32) (transport.Conn, error) {
		return newFakeConn(), nil
	})
	if err := e.SendPacket([]byte("too early")); err == nil {
		t.Fatal("expected error sending before handshake completes")
	}
}
