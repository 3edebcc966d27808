package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// RelayYAMLConfig is the YAML shape a relay can be described in on disk.
type RelayYAMLConfig struct {
	Relay struct {
		URL         string `yaml:"url"`
		CipherSuite string `yaml:"cipher_suite"`
		Compress    bool   `yaml:"compress"`
		LocalMAC    string `yaml:"local_mac"`
		Fwmark      uint32 `yaml:"fwmark"`
	} `yaml:"relay"`
}

// ParseKey turns a relay descriptor — inline YAML, a derp://, ws:// or
// wss:// URL, or a path to a file holding either — into a RelayConfig.
func ParseKey(key string, name string) (*RelayConfig, error) {
	if strings.Contains(key, "relay:") {
		return parseYAMLKey(key, name)
	}
	if strings.HasPrefix(key, "derp://") || strings.HasPrefix(key, "wss://") || strings.HasPrefix(key, "ws://") {
		return parseURLKey(key, name)
	}
	if _, err := os.Stat(key); err == nil {
		return parseKeyFile(key, name)
	}
	return nil, fmt.Errorf("unsupported key format")
}

func parseYAMLKey(key string, name string) (*RelayConfig, error) {
	var doc RelayYAMLConfig
	if err := yaml.Unmarshal([]byte(key), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if doc.Relay.URL == "" {
		return nil, fmt.Errorf("relay.url is required")
	}
	cfg := &RelayConfig{
		Name:        name,
		RelayURL:    doc.Relay.URL,
		CipherSuite: doc.Relay.CipherSuite,
		Compress:    doc.Relay.Compress,
		LocalMAC:    doc.Relay.LocalMAC,
		Fwmark:      doc.Relay.Fwmark,
	}
	return cfg, cfg.Validate()
}

// parseURLKey accepts a bare relay URL, optionally carrying query
// parameters for cipher_suite/compress/local_mac/fwmark.
func parseURLKey(key string, name string) (*RelayConfig, error) {
	u, err := url.Parse(key)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	q := u.Query()
	var fwmark uint32
	if raw := q.Get("fwmark"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid fwmark: %w", err)
		}
		fwmark = uint32(v)
	}
	cfg := &RelayConfig{
		Name:        name,
		RelayURL:    key,
		CipherSuite: q.Get("cipher_suite"),
		Compress:    q.Get("compress") == "true",
		LocalMAC:    q.Get("local_mac"),
		Fwmark:      fwmark,
	}
	return cfg, cfg.Validate()
}

func parseKeyFile(path string, name string) (*RelayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseKey(string(data), name)
}

// LoadGlobalConfig reads config.json from configDir, or returns defaults if
// it doesn't exist yet.
func LoadGlobalConfig(configDir string) (*GlobalConfig, error) {
	cfg := &GlobalConfig{
		Relays:    []*RelayConfig{},
		LocalAddr: "127.0.0.1",
		LocalPort: 1080,
		ConfigDir: configDir,
	}

	configFile := filepath.Join(configDir, "config.json")
	if _, err := os.Stat(configFile); err == nil {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Save persists the config to configDir/config.json.
func (c *GlobalConfig) Save() error {
	if err := os.MkdirAll(c.ConfigDir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	configFile := filepath.Join(c.ConfigDir, "config.json")
	return os.WriteFile(configFile, data, 0644)
}
