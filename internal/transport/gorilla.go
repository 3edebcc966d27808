package transport

import (
	"context"
	"crypto/tls"
	"net"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// gorillaConn adapts github.com/gorilla/websocket to Conn, in the
// synchronous whole-message Read/Write shape Conn needs.
type gorillaConn struct {
	c *websocket.Conn
}

func (g *gorillaConn) Read(ctx context.Context) (MessageType, []byte, error) {
	type result struct {
		mt   int
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		mt, data, err := g.c.ReadMessage()
		ch <- result{mt, data, err}
	}()
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return 0, nil, r.err
		}
		if r.mt == websocket.TextMessage {
			return MessageText, r.data, nil
		}
		return MessageBinary, r.data, nil
	}
}

func (g *gorillaConn) Write(ctx context.Context, typ MessageType, data []byte) error {
	mt := websocket.BinaryMessage
	if typ == MessageText {
		mt = websocket.TextMessage
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = g.c.SetWriteDeadline(dl)
	}
	return g.c.WriteMessage(mt, data)
}

func (g *gorillaConn) Close(code StatusCode, reason string) error {
	_ = g.c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(int(code), reason))
	return g.c.Close()
}

// DialGorilla opens a relay connection using gorilla/websocket, selected by
// Dial when the URL carries the ws_dialer=gorilla query hint.
func DialGorilla(ctx context.Context, rawurl string, fwmark uint32) (Conn, error) {
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			if err := c.Control(func(fd uintptr) {
				ctrlErr = setSocketMark(fd, fwmark)
			}); err != nil {
				return err
			}
			return ctrlErr
		},
	}

	d := websocket.Dialer{
		NetDialContext:    dialer.DialContext,
		HandshakeTimeout:  10 * time.Second,
		EnableCompression: true,
		TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
	}

	c, _, err := d.DialContext(ctx, rawurl, nil)
	if err != nil {
		return nil, err
	}
	return &gorillaConn{c: c}, nil
}
