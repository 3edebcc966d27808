package protocol

import (
	"encoding/binary"
	"fmt"

	"derpnetws/internal/errs"
)

// Stable binary encoding for ClientInfo/ServerInfo: little-endian u32
// length-prefixed strings, per SPEC_FULL.md §6.1. No external serialization
// library is used here (see DESIGN.md) since the format is a handful of
// fixed fields with an exact wire layout.

func putString(dst []byte, s string) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

func putStrings(dst []byte, ss []string) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(ss)))
	for _, s := range ss {
		dst = putString(dst, s)
	}
	return dst
}

func takeString(buf []byte) (string, []byte, error) {
	if len(buf) < 4 {
		return "", nil, fmt.Errorf("truncated string length")
	}
	n := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	if uint64(len(buf)) < uint64(n) {
		return "", nil, fmt.Errorf("truncated string body: want %d have %d", n, len(buf))
	}
	return string(buf[:n]), buf[n:], nil
}

func takeStrings(buf []byte) ([]string, []byte, error) {
	if len(buf) < 4 {
		return nil, nil, fmt.Errorf("truncated string list count")
	}
	count := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]
	out := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		var s string
		var err error
		s, buf, err = takeString(buf)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, s)
	}
	return out, buf, nil
}

// EncodeClientInfo serializes msg per SPEC_FULL.md §6.1.
func EncodeClientInfo(msg ClientInfoMsg) []byte {
	out := make([]byte, 0, 64+len(msg.Version))
	out = putString(out, msg.Version)
	out = append(out, msg.ClientID[:]...)
	out = putStrings(out, msg.Features)
	out = binary.LittleEndian.AppendUint32(out, msg.MaxPacketSize)
	return out
}

// DecodeClientInfo deserializes a ClientInfoMsg, or returns a
// SerializationError if buf is malformed.
func DecodeClientInfo(buf []byte) (ClientInfoMsg, error) {
	const op = "protocol.DecodeClientInfo"
	var msg ClientInfoMsg

	version, rest, err := takeString(buf)
	if err != nil {
		return msg, errs.New(errs.SerializationError, op, err)
	}
	if len(rest) < 16 {
		return msg, errs.New(errs.SerializationError, op, fmt.Errorf("truncated client id"))
	}
	var clientID [16]byte
	copy(clientID[:], rest[:16])
	rest = rest[16:]

	features, rest, err := takeStrings(rest)
	if err != nil {
		return msg, errs.New(errs.SerializationError, op, err)
	}
	if len(rest) < 4 {
		return msg, errs.New(errs.SerializationError, op, fmt.Errorf("truncated max_packet_size"))
	}
	maxPacketSize := binary.LittleEndian.Uint32(rest)

	msg = ClientInfoMsg{
		Version:       version,
		ClientID:      clientID,
		Features:      features,
		MaxPacketSize: maxPacketSize,
	}
	return msg, nil
}

// EncodeServerInfo serializes msg per SPEC_FULL.md §6.1.
func EncodeServerInfo(msg ServerInfoMsg) []byte {
	out := make([]byte, 0, 96+len(msg.Version)+len(msg.ServerID))
	out = putString(out, msg.Version)
	out = putString(out, msg.ServerID)
	out = putStrings(out, msg.SupportedVersions)
	out = putStrings(out, msg.Features)
	out = binary.LittleEndian.AppendUint32(out, msg.MaxPacketSize)
	out = binary.LittleEndian.AppendUint32(out, msg.KeepaliveIntervalS)
	return out
}

// DecodeServerInfo deserializes a ServerInfoMsg, or returns a
// SerializationError if buf is malformed.
func DecodeServerInfo(buf []byte) (ServerInfoMsg, error) {
	const op = "protocol.DecodeServerInfo"
	var msg ServerInfoMsg

	version, rest, err := takeString(buf)
	if err != nil {
		return msg, errs.New(errs.SerializationError, op, err)
	}
	serverID, rest, err := takeString(rest)
	if err != nil {
		return msg, errs.New(errs.SerializationError, op, err)
	}
	supported, rest, err := takeStrings(rest)
	if err != nil {
		return msg, errs.New(errs.SerializationError, op, err)
	}
	features, rest, err := takeStrings(rest)
	if err != nil {
		return msg, errs.New(errs.SerializationError, op, err)
	}
	if len(rest) < 8 {
		return msg, errs.New(errs.SerializationError, op, fmt.Errorf("truncated tail fields"))
	}
	maxPacketSize := binary.LittleEndian.Uint32(rest[0:4])
	keepalive := binary.LittleEndian.Uint32(rest[4:8])

	msg = ServerInfoMsg{
		Version:            version,
		ServerID:           serverID,
		SupportedVersions:  supported,
		Features:           features,
		MaxPacketSize:      maxPacketSize,
		KeepaliveIntervalS: keepalive,
	}
	return msg, nil
}
