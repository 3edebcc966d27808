// Package codec implements the on-wire frame envelope: a 1-byte frame type,
// a 4-byte big-endian length, and a payload that may opportunistically carry
// DEFLATE-compressed bytes. See spec.md §4.2.
package codec

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"

	"derpnetws/internal/errs"
	"derpnetws/internal/protocol"
)

const (
	headerSize = 5

	// compressionThreshold is the largest payload left uncompressed; DEFLATE
	// is attempted only on longer payloads, since on short ones it tends to
	// expand rather than shrink the frame.
	compressionThreshold = 64

	deflateLevel = 6
)

// Encode builds the wire representation of a frame. When compress is true
// and the payload exceeds compressionThreshold, the payload is replaced
// with its DEFLATE encoding.
func Encode(frameType protocol.FrameType, payload []byte, compress bool) []byte {
	body := payload
	if compress && len(payload) > compressionThreshold {
		if deflated, ok := deflate(payload); ok {
			body = deflated
		}
	}

	out := make([]byte, 0, headerSize+len(body))
	out = append(out, byte(frameType))
	out = appendU32BE(out, uint32(len(body)))
	out = append(out, body...)
	return out
}

// Decode parses a frame from buf. For frame types other than Ping/Pong,
// payloads longer than 2 bytes are speculatively inflated; if inflation
// fails the raw payload is returned unchanged (transparent passthrough —
// see spec.md §9's note on this heuristic, carried here for fidelity to the
// behavior the handshake/engine actually depend on).
func Decode(buf []byte) (protocol.FrameType, []byte, error) {
	const op = "codec.Decode"
	if len(buf) < headerSize {
		return 0, nil, errs.New(errs.InvalidProtocol, op, fmt.Errorf("frame too short: %d bytes", len(buf)))
	}

	frameType := protocol.FrameType(buf[0])
	if !frameType.Valid() {
		return 0, nil, errs.New(errs.InvalidProtocol, op, fmt.Errorf("unknown frame type %d", buf[0]))
	}

	length := u32BE(buf[1:5])
	if uint64(len(buf)) < uint64(headerSize)+uint64(length) {
		return 0, nil, errs.New(errs.InvalidProtocol, op, fmt.Errorf("incomplete frame: header says %d bytes, have %d", length, len(buf)-headerSize))
	}

	payload := buf[headerSize : headerSize+length]

	if frameType != protocol.Ping && frameType != protocol.Pong && len(payload) > 2 {
		if inflated, ok := inflate(payload); ok {
			return frameType, inflated, nil
		}
	}

	// Return a copy so callers can't alias the input buffer.
	out := make([]byte, len(payload))
	copy(out, payload)
	return frameType, out, nil
}

func deflate(p []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, deflateLevel)
	if err != nil {
		return nil, false
	}
	if _, err := w.Write(p); err != nil {
		return nil, false
	}
	if err := w.Close(); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

func inflate(p []byte) ([]byte, bool) {
	r := flate.NewReader(bytes.NewReader(p))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, false
	}
	return out, true
}

func appendU32BE(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func u32BE(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
