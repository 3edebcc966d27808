// Package ethernet implements the Ethernet-frame <-> relay-payload shim an
// embedded guest (e.g. an in-browser VM) sits behind: spec.md §4.6.
package ethernet

import (
	"encoding/binary"
	"fmt"

	"derpnetws/internal/errs"
)

const (
	headerLen = 14
	mtu       = 1500

	etherTypeIPv4 = 0x0800
	etherTypeARP  = 0x0806
)

// virtualInterfaceMAC is the fixed source MAC stamped onto synthetic inbound
// frames — the QEMU/virtio vendor-prefixed address vm_network.rs uses.
var virtualInterfaceMAC = [6]byte{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}

var broadcastMAC = [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// Sender is the capability the shim needs from the network engine: encrypt,
// frame, and send plaintext bytes to the relay. It's exactly
// NetworkEngine.SendPacket's signature (spec.md §4.5), kept as a narrow
// interface so the shim doesn't depend on the engine package.
type Sender interface {
	SendPacket(plaintext []byte) error
}

// GuestReceiver is the guest's inbound entry point — an explicit injected
// callback, per spec.md §9's recommendation to replace the reference
// crate's string-evaluated v86 bridge with a real capability.
type GuestReceiver func(ethernetFrame []byte) error

// Shim holds the local MAC the guest is addressed as and forwards
// validated Ethernet frames to/from the relay via Sender/GuestReceiver.
type Shim struct {
	localMAC [6]byte
	sender   Sender
	toGuest  GuestReceiver
}

// New builds a Shim. mac must be exactly 6 bytes.
func New(mac []byte, sender Sender, toGuest GuestReceiver) (*Shim, error) {
	const op = "ethernet.New"
	if len(mac) != 6 {
		return nil, errs.New(errs.InvalidProtocol, op, fmt.Errorf("mac address must be 6 bytes, got %d", len(mac)))
	}
	s := &Shim{sender: sender, toGuest: toGuest}
	copy(s.localMAC[:], mac)
	return s, nil
}

// MTU returns the emulated interface's MTU.
func (s *Shim) MTU() int { return mtu }

// LocalMAC returns a copy of the shim's local MAC.
func (s *Shim) LocalMAC() [6]byte { return s.localMAC }

// SendFromGuest handles an Ethernet frame the guest wants to transmit:
// validate, filter by destination MAC and EtherType, strip the 14-byte
// header, and forward the payload to the relay. Frames addressed elsewhere,
// or carrying an EtherType other than IPv4/ARP, are silently dropped
// (returns nil), per spec.md §4.6.
func (s *Shim) SendFromGuest(frame []byte) error {
	const op = "ethernet.SendFromGuest"
	if len(frame) < headerLen {
		return errs.New(errs.InvalidProtocol, op, fmt.Errorf("ethernet frame too short: %d bytes", len(frame)))
	}

	var dst [6]byte
	copy(dst[:], frame[0:6])
	if dst != s.localMAC && dst != broadcastMAC {
		return nil
	}

	etherType := binary.BigEndian.Uint16(frame[12:14])
	if etherType != etherTypeIPv4 && etherType != etherTypeARP {
		return nil
	}

	return s.sender.SendPacket(frame[headerLen:])
}

// DeliverToGuest wraps a decrypted relay payload in a synthetic Ethernet
// frame (destination = the guest's MAC, source = the fixed virtual
// interface MAC, EtherType = IPv4) and hands it to the guest.
func (s *Shim) DeliverToGuest(payload []byte) error {
	const op = "ethernet.DeliverToGuest"
	if len(payload) > mtu {
		return errs.New(errs.InvalidProtocol, op, fmt.Errorf("payload %d bytes exceeds mtu %d", len(payload), mtu))
	}

	frame := make([]byte, 0, headerLen+len(payload))
	frame = append(frame, s.localMAC[:]...)
	frame = append(frame, virtualInterfaceMAC[:]...)
	frame = binary.BigEndian.AppendUint16(frame, etherTypeIPv4)
	frame = append(frame, payload...)

	return s.toGuest(frame)
}
