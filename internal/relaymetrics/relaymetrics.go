// Package relaymetrics exposes engine.Stats as Prometheus metrics, using
// the global-vars-plus-init()-MustRegister registration style.
package relaymetrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	bytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "derpnet_bytes_sent_total",
		Help: "Plaintext bytes handed to SendPacket",
	})
	bytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "derpnet_bytes_received_total",
		Help: "Plaintext bytes delivered from RecvFromPeer frames",
	})
	packetsSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "derpnet_packets_sent_total",
		Help: "Packets sent via SendPacket",
	})
	packetsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "derpnet_packets_received_total",
		Help: "Packets delivered from RecvFromPeer frames",
	})
	reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "derpnet_reconnect_attempts_total",
		Help: "Transport reconnect attempts since the engine started",
	})
	peersPresent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "derpnet_peers_present",
		Help: "Peers currently in the handshake's peer-presence table",
	})
	handshakeState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "derpnet_handshake_state",
		Help: "1 for the handshake state the engine is currently in, 0 otherwise",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(
		bytesSent, bytesReceived, packetsSent, packetsReceived,
		reconnects, peersPresent, handshakeState,
	)
}

// Snapshot mirrors engine.Stats's fields so this package has no import-cycle
// dependency on the engine package; callers adapt engine.Stats into this
// shape (see engine.Stats's field names, which match 1:1).
type Snapshot struct {
	BytesSent         uint64
	BytesReceived     uint64
	PacketsSent       uint64
	PacketsReceived   uint64
	ReconnectAttempts uint32
}

// observed tracks the last-seen cumulative counters so repeated polls only
// add the delta to the monotonic Prometheus counters.
type observed struct {
	bytesSent, bytesReceived     uint64
	packetsSent, packetsReceived uint64
	reconnects                   uint32
}

// Poller turns the successive engine snapshots its caller passes to Observe
// into updates of the package's registered metrics.
type Poller struct {
	last observed
}

// NewPoller builds a Poller with a zeroed baseline.
func NewPoller() *Poller { return &Poller{} }

// Observe records one snapshot, advancing the registered counters by the
// delta since the previous call.
func (p *Poller) Observe(s Snapshot, peerCount int) {
	if s.BytesSent > p.last.bytesSent {
		bytesSent.Add(float64(s.BytesSent - p.last.bytesSent))
	}
	if s.BytesReceived > p.last.bytesReceived {
		bytesReceived.Add(float64(s.BytesReceived - p.last.bytesReceived))
	}
	if s.PacketsSent > p.last.packetsSent {
		packetsSent.Add(float64(s.PacketsSent - p.last.packetsSent))
	}
	if s.PacketsReceived > p.last.packetsReceived {
		packetsReceived.Add(float64(s.PacketsReceived - p.last.packetsReceived))
	}
	if s.ReconnectAttempts > p.last.reconnects {
		reconnects.Add(float64(s.ReconnectAttempts - p.last.reconnects))
	}
	peersPresent.Set(float64(peerCount))
	p.last = observed{
		bytesSent:       s.BytesSent,
		bytesReceived:   s.BytesReceived,
		packetsSent:     s.PacketsSent,
		packetsReceived: s.PacketsReceived,
		reconnects:      s.ReconnectAttempts,
	}
}

// SetHandshakeState zeroes every known state gauge and sets state to 1, so
// exactly one state reads 1 at a time.
func SetHandshakeState(state string, knownStates []string) {
	for _, s := range knownStates {
		handshakeState.WithLabelValues(s).Set(0)
	}
	handshakeState.WithLabelValues(state).Set(1)
}

// Serve starts a /metrics HTTP server, shutting down when ctx is canceled.
func Serve(ctx context.Context, addr string) error {
	if addr == "" {
		return fmt.Errorf("empty metrics address")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
