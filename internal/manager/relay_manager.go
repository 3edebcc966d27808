// Package manager exposes a single Connect/Disconnect/GetStatus lifecycle
// around one engine.Engine, for a CLI or UI caller to drive.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"derpnetws/internal/config"
	"derpnetws/internal/crypto"
	"derpnetws/internal/engine"
	"derpnetws/internal/relaymetrics"
)

// ConnectionStatus is a point-in-time snapshot of the managed connection.
type ConnectionStatus struct {
	State     string // "disconnected", "connecting", "connected"
	Relay     *config.RelayConfig
	Stats     engine.Stats
	StartTime time.Time
}

// RelayManager owns at most one engine.Engine at a time.
type RelayManager struct {
	mu     sync.RWMutex
	status ConnectionStatus
	eng    *engine.Engine
	poller *relaymetrics.Poller

	stopMonitor chan struct{}
}

// NewRelayManager builds an idle manager.
func NewRelayManager() *RelayManager {
	return &RelayManager{
		status: ConnectionStatus{State: "disconnected"},
		poller: relaymetrics.NewPoller(),
	}
}

// Connect dials relay, runs the handshake, and starts a background monitor
// that keeps Stats (and the relaymetrics Poller) current.
func (m *RelayManager) Connect(ctx context.Context, relay *config.RelayConfig) error {
	m.mu.Lock()
	if m.status.State == "connected" {
		name := m.status.Relay.Name
		m.mu.Unlock()
		return fmt.Errorf("already connected to %s", name)
	}
	m.status = ConnectionStatus{State: "connecting", Relay: relay, StartTime: time.Now()}
	m.mu.Unlock()

	cryptoState, err := crypto.New(crypto.WithCipherSuite(relay.Suite()))
	if err != nil {
		return fmt.Errorf("create crypto state: %w", err)
	}

	eng := engine.New(cryptoState, engine.WithFwmark(relay.Fwmark))
	if err := eng.Connect(ctx, relay.RelayURL); err != nil {
		m.mu.Lock()
		m.status.State = "disconnected"
		m.mu.Unlock()
		return fmt.Errorf("connect: %w", err)
	}

	m.mu.Lock()
	m.eng = eng
	m.status.State = "connected"
	m.stopMonitor = make(chan struct{})
	stop := m.stopMonitor
	m.mu.Unlock()

	go m.monitor(stop)
	return nil
}

func (m *RelayManager) monitor(stop chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.mu.Lock()
			eng := m.eng
			if eng == nil {
				m.mu.Unlock()
				return
			}
			stats := eng.Stats()
			m.status.Stats = stats
			m.poller.Observe(relaymetrics.Snapshot(stats), len(eng.Peers()))
			m.mu.Unlock()
		}
	}
}

// Disconnect tears down the active engine, if any.
func (m *RelayManager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status.State == "disconnected" {
		return nil
	}
	if m.stopMonitor != nil {
		close(m.stopMonitor)
		m.stopMonitor = nil
	}

	var err error
	if m.eng != nil {
		err = m.eng.Close()
		m.eng = nil
	}

	m.status.State = "disconnected"
	m.status.Relay = nil
	return err
}

// GetStatus returns a copy of the current status.
func (m *RelayManager) GetStatus() ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}
