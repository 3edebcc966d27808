package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"derpnetws/internal/errs"
)

const (
	// MaxReconnectAttempts and InitialReconnectDelayMs are spec.md §4.4's
	// backoff constants governing redial of the relay URL.
	MaxReconnectAttempts    = 5
	InitialReconnectDelayMs = 1000
)

// Adapter owns one relay connection, redialing the same URL with
// exponential backoff when it drops, per spec.md §4.4. It does not
// interpret frame contents; NetworkEngine reads frames off Inbound().
type Adapter struct {
	dial   Dialer
	fwmark uint32

	// afterFunc is overridable in tests so backoff scheduling doesn't have
	// to sleep in wall-clock time.
	afterFunc func(d time.Duration, f func())

	mu                sync.Mutex
	url               string
	conn              Conn
	reconnectAttempts uint32
	closedByCaller    bool

	inbound chan []byte

	// OnReconnecting is invoked synchronously just before a redial attempt
	// fires, so the engine can reset its handshake FSM to Initial without
	// resetting stats, per spec.md §4.4.
	OnReconnecting func()
}

// NewAdapter builds an Adapter using dial to open connections.
func NewAdapter(dial Dialer) *Adapter {
	return &Adapter{
		dial:      dial,
		afterFunc: func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		inbound:   make(chan []byte, 64),
	}
}

// Open dials url and starts the read loop. It returns once the connection
// is established; it does not wait for any higher-level handshake.
func (a *Adapter) Open(ctx context.Context, url string) error {
	const op = "transport.Open"
	a.mu.Lock()
	a.url = url
	a.closedByCaller = false
	a.mu.Unlock()

	conn, err := a.dial(ctx, url, a.fwmark)
	if err != nil {
		return errs.New(errs.TransportError, op, err)
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	go a.readLoop(conn)
	return nil
}

// SetFwmark sets the Linux socket mark applied to future dials.
func (a *Adapter) SetFwmark(mark uint32) { a.fwmark = mark }

func (a *Adapter) readLoop(conn Conn) {
	ctx := context.Background()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			a.handleClose(conn)
			return
		}
		if typ != MessageBinary {
			continue
		}
		a.inbound <- data
	}
}

func (a *Adapter) handleClose(dead Conn) {
	a.mu.Lock()
	if a.conn != dead || a.closedByCaller {
		a.mu.Unlock()
		return
	}
	a.conn = nil
	url := a.url
	a.mu.Unlock()

	a.scheduleReconnect(url)
}

func (a *Adapter) scheduleReconnect(url string) {
	a.mu.Lock()
	if a.reconnectAttempts >= MaxReconnectAttempts {
		a.mu.Unlock()
		return
	}
	a.reconnectAttempts++
	attempts := a.reconnectAttempts
	a.mu.Unlock()

	delay := time.Duration(InitialReconnectDelayMs*pow2(attempts)) * time.Millisecond
	a.afterFunc(delay, func() {
		a.mu.Lock()
		closed := a.closedByCaller
		a.mu.Unlock()
		if closed {
			return
		}
		if a.OnReconnecting != nil {
			a.OnReconnecting()
		}
		_ = a.Open(context.Background(), url)
	})
}

func pow2(n uint32) uint64 {
	return uint64(1) << n
}

// ReconnectAttempts returns the number of reconnects attempted so far.
func (a *Adapter) ReconnectAttempts() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reconnectAttempts
}

// Send writes a binary message to the active connection.
func (a *Adapter) Send(ctx context.Context, payload []byte) error {
	const op = "transport.Send"
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return errs.New(errs.TransportError, op, fmt.Errorf("not connected"))
	}
	if err := conn.Write(ctx, MessageBinary, payload); err != nil {
		return errs.New(errs.TransportError, op, err)
	}
	return nil
}

// Inbound returns the channel of binary messages read off the wire.
func (a *Adapter) Inbound() <-chan []byte { return a.inbound }

// Close closes the active connection and suppresses further reconnects.
func (a *Adapter) Close() error {
	a.mu.Lock()
	a.closedByCaller = true
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close(NormalClosure, "closing")
}
