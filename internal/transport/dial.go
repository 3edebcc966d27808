package transport

import (
	"context"
	"net/url"
)

// Dial opens a relay connection, picking the dialer by URL query hint —
// ws_dialer=gorilla routes to gorilla/websocket, anything else (including
// no hint) uses coder/websocket.
func Dial(ctx context.Context, rawurl string, fwmark uint32) (Conn, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	if u.Query().Get("ws_dialer") == "gorilla" {
		return DialGorilla(ctx, rawurl, fwmark)
	}
	return DialCoder(ctx, rawurl, fwmark)
}
