package codec

import (
	"bytes"
	"strings"
	"testing"

	"derpnetws/internal/protocol"
)

func TestEncodeSendFrameNoCompression(t *testing.T) {
	out := Encode(protocol.Send, []byte("test data"), false)
	want := []byte{0x06, 0x00, 0x00, 0x00, 0x09}
	want = append(want, "test data"...)
	if !bytes.Equal(out, want) {
		t.Fatalf("Encode = % x, want % x", out, want)
	}

	frameType, payload, err := Decode(out)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if frameType != protocol.Send || string(payload) != "test data" {
		t.Fatalf("Decode = (%v, %q)", frameType, payload)
	}
}

func TestSmallPayloadPassthroughUnderCompression(t *testing.T) {
	out := Encode(protocol.Send, []byte("small"), true)
	length := u32BE(out[1:5])
	if length != 5 {
		t.Fatalf("length = %d, want 5", length)
	}
	if string(out[5:]) != "small" {
		t.Fatalf("body = %q, want %q", out[5:], "small")
	}
}

func TestCodecRoundTripAllFrameTypesNoCompression(t *testing.T) {
	types := []protocol.FrameType{
		protocol.ServerKey, protocol.ServerInfo, protocol.ClientInfo,
		protocol.Ping, protocol.Pong, protocol.Send, protocol.RecvFromPeer,
		protocol.PeerPresent, protocol.PeerGone,
	}
	payloads := [][]byte{
		{},
		[]byte("x"),
		bytes.Repeat([]byte{0x5A}, 128),
	}
	for _, ft := range types {
		for _, p := range payloads {
			enc := Encode(ft, p, false)
			gotType, gotPayload, err := Decode(enc)
			if err != nil {
				t.Fatalf("Decode(%v, %d bytes): %v", ft, len(p), err)
			}
			if gotType != ft || !bytes.Equal(gotPayload, p) {
				t.Fatalf("round-trip mismatch for %v: got (%v, %v) want (%v, %v)", ft, gotType, gotPayload, ft, p)
			}
		}
	}
}

func TestCompressedRoundTripPassthrough(t *testing.T) {
	big := []byte(strings.Repeat("compress me please ", 20))
	for _, ft := range []protocol.FrameType{protocol.Send, protocol.RecvFromPeer, protocol.ClientInfo} {
		enc := Encode(ft, big, true)
		gotType, gotPayload, err := Decode(enc)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if gotType != ft || !bytes.Equal(gotPayload, big) {
			t.Fatalf("compressed round-trip mismatch for %v", ft)
		}
		// Compression should have actually shrunk this repetitive payload.
		if len(enc)-headerSize >= len(big) {
			t.Fatalf("expected compressed body shorter than %d, got %d", len(big), len(enc)-headerSize)
		}
	}
}

func TestDecodeTooShort(t *testing.T) {
	if _, _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected InvalidProtocol for short buffer")
	}
}

func TestDecodeUnknownFrameType(t *testing.T) {
	buf := []byte{0xFF, 0, 0, 0, 0}
	if _, _, err := Decode(buf); err == nil {
		t.Fatal("expected InvalidProtocol for unknown frame type")
	}
}

func TestDecodeIncompleteFrame(t *testing.T) {
	buf := []byte{byte(protocol.Send), 0, 0, 0, 10, 1, 2, 3}
	if _, _, err := Decode(buf); err == nil {
		t.Fatal("expected InvalidProtocol for incomplete frame")
	}
}

func TestDecodePingPongNeverInflated(t *testing.T) {
	// A Ping/Pong payload that happens to look like it could be inflated
	// must still come back byte-for-byte, since §4.2 step 5 excludes them.
	payload := bytes.Repeat([]byte{0x00}, 10)
	enc := Encode(protocol.Ping, payload, false)
	_, got, err := Decode(enc)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Ping payload mutated: got % x want % x", got, payload)
	}
}
