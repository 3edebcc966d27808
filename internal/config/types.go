package config

import (
	"fmt"

	"derpnetws/internal/crypto"
)

// RelayConfig describes one relay endpoint this client can connect through.
type RelayConfig struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	RelayURL    string `json:"relay_url" yaml:"relay_url"`
	CipherSuite string `json:"cipher_suite" yaml:"cipher_suite"` // "aes-256-gcm" or "chacha20-poly1305"
	Compress    bool   `json:"compress" yaml:"compress"`
	LocalMAC    string `json:"local_mac" yaml:"local_mac"` // hex, e.g. "aa:bb:cc:dd:ee:ff"
	Fwmark      uint32 `json:"fwmark" yaml:"fwmark"`       // Linux SO_MARK for the dial socket, 0 to leave unset
	IsActive    bool   `json:"is_active"`
	ConfigPath  string `json:"config_path"`
}

// GlobalConfig is the on-disk set of known relays plus client-wide defaults.
type GlobalConfig struct {
	Relays    []*RelayConfig `json:"relays"`
	ActiveID  string         `json:"active_id"`
	LocalAddr string         `json:"local_addr"`
	LocalPort int            `json:"local_port"`
	ConfigDir string         `json:"-"`
}

// Validate checks the fields required to dial and run the handshake.
func (c *RelayConfig) Validate() error {
	if c.RelayURL == "" {
		return fmt.Errorf("relay_url is required")
	}
	if c.CipherSuite != "" && c.CipherSuite != "aes-256-gcm" && c.CipherSuite != "chacha20-poly1305" {
		return fmt.Errorf("unsupported cipher_suite: %s", c.CipherSuite)
	}
	if len(c.LocalMAC) != 0 && len(c.LocalMAC) != 17 {
		return fmt.Errorf("local_mac must be in aa:bb:cc:dd:ee:ff form, got %q", c.LocalMAC)
	}
	return nil
}

// Suite resolves the configured cipher name to a crypto.Suite, defaulting
// to AES-256-GCM per spec.md §4.1.
func (c *RelayConfig) Suite() crypto.Suite {
	if c.CipherSuite == "chacha20-poly1305" {
		return crypto.SuiteChaCha20Poly1305
	}
	return crypto.SuiteAES256GCM
}

// GetKeyString renders a one-line description of the relay.
func (c *RelayConfig) GetKeyString() string {
	suite := c.CipherSuite
	if suite == "" {
		suite = "aes-256-gcm"
	}
	return fmt.Sprintf("%s (%s)", c.RelayURL, suite)
}
