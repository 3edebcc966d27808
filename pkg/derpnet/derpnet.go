// Package derpnet provides a small public surface for reusing this
// repository as a library. The implementation lives in internal/ and may
// change without notice.
package derpnet

import (
	"derpnetws/internal/config"
	"derpnetws/internal/crypto"
	"derpnetws/internal/engine"
	"derpnetws/internal/ethernet"
	"derpnetws/internal/manager"
	"derpnetws/internal/protocol"
)

// --- Config ---

type RelayConfig = config.RelayConfig
type GlobalConfig = config.GlobalConfig

// LoadGlobalConfig loads the on-disk relay list.
func LoadGlobalConfig(configDir string) (*GlobalConfig, error) { return config.LoadGlobalConfig(configDir) }

// ParseKey parses a relay descriptor into a RelayConfig.
func ParseKey(key, name string) (*RelayConfig, error) { return config.ParseKey(key, name) }

// --- Crypto ---

type CipherSuite = crypto.Suite

const (
	SuiteAES256GCM        = crypto.SuiteAES256GCM
	SuiteChaCha20Poly1305 = crypto.SuiteChaCha20Poly1305
)

// --- Core engine ---

type Engine = engine.Engine
type Stats = engine.Stats
type Peer = protocol.Peer
type EngineOption = engine.Option

// WithFwmark sets the Linux SO_MARK applied to the relay dial socket.
func WithFwmark(mark uint32) EngineOption { return engine.WithFwmark(mark) }

// NewEngine builds an Engine around a fresh crypto state using suite.
func NewEngine(suite CipherSuite, opts ...EngineOption) (*Engine, error) {
	cryptoState, err := crypto.New(crypto.WithCipherSuite(suite))
	if err != nil {
		return nil, err
	}
	return engine.New(cryptoState, opts...), nil
}

// --- Lifecycle manager ---

type RelayManager = manager.RelayManager
type ConnectionStatus = manager.ConnectionStatus

// NewRelayManager builds an idle connection manager.
func NewRelayManager() *RelayManager { return manager.NewRelayManager() }

// --- Ethernet shim ---

type EthernetShim = ethernet.Shim
type GuestReceiver = ethernet.GuestReceiver

// NewEthernetShim builds a Shim bridging Ethernet frames to an Engine's
// send/receive path.
func NewEthernetShim(mac []byte, sender ethernet.Sender, toGuest GuestReceiver) (*EthernetShim, error) {
	return ethernet.New(mac, sender, toGuest)
}
