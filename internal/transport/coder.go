package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/coder/websocket"
)

// coderConn adapts github.com/coder/websocket to Conn.
type coderConn struct {
	c *websocket.Conn
}

func (c *coderConn) Read(ctx context.Context) (MessageType, []byte, error) {
	mt, data, err := c.c.Read(ctx)
	if err != nil {
		return 0, nil, err
	}
	if mt == websocket.MessageText {
		return MessageText, data, nil
	}
	return MessageBinary, data, nil
}

func (c *coderConn) Write(ctx context.Context, typ MessageType, data []byte) error {
	mt := websocket.MessageBinary
	if typ == MessageText {
		mt = websocket.MessageText
	}
	return c.c.Write(ctx, mt, data)
}

func (c *coderConn) Close(code StatusCode, reason string) error {
	return c.c.Close(websocket.StatusCode(code), reason)
}

// DialCoder opens a relay connection using coder/websocket, the default
// dialer selected by Dial.
func DialCoder(ctx context.Context, rawurl string, fwmark uint32) (Conn, error) {
	d := &net.Dialer{
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
	tr := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		DialContext:       d.DialContext,
		ForceAttemptHTTP2: true,
		TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
	}

	opts := &websocket.DialOptions{
		HTTPClient: &http.Client{Timeout: 10 * time.Second, Transport: tr},
	}
	conn, _, err := websocket.Dial(ctx, rawurl, opts)
	if err != nil {
		return nil, err
	}
	return &coderConn{c: conn}, nil
}
