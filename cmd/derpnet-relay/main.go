// Command derpnet-relay runs one relay connection to completion as a
// foreground daemon: dial, handshake, serve Prometheus metrics, and log
// periodic stats until a signal asks it to stop.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"derpnetws/internal/config"
	"derpnetws/internal/crypto"
	"derpnetws/internal/engine"
	"derpnetws/internal/relaymetrics"
)

func main() {
	var cfgPath string
	var metricsAddr string
	flag.StringVar(&cfgPath, "c", "config.yaml", "relay descriptor (inline key, URL, or path)")
	flag.StringVar(&metricsAddr, "metrics", "", "prometheus metrics listen address, e.g. :9100")
	flag.Parse()

	relay, err := config.ParseKey(cfgPath, "relay")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if metricsAddr != "" {
		go func() {
			if err := relaymetrics.Serve(ctx, metricsAddr); err != nil {
				log.Printf("metrics server stopped: %v", err)
			}
		}()
		log.Printf("Prometheus metrics listening on %s", metricsAddr)
	}

	cryptoState, err := crypto.New(crypto.WithCipherSuite(relay.Suite()))
	if err != nil {
		log.Fatalf("crypto: %v", err)
	}

	eng := engine.New(cryptoState, engine.WithFwmark(relay.Fwmark))
	if err := eng.Connect(ctx, relay.RelayURL); err != nil {
		log.Fatalf("connect %s: %v", relay.RelayURL, err)
	}
	log.Printf("connected to %s", relay.RelayURL)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	poller := relaymetrics.NewPoller()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigc:
			log.Printf("shutting down...")
			cancel()
			_ = eng.Close()
			return
		case pkt := <-eng.Inbound():
			log.Printf("received %d bytes from peer", len(pkt))
		case <-ticker.C:
			stats := eng.Stats()
			poller.Observe(relaymetrics.Snapshot(stats), len(eng.Peers()))
			log.Printf("stats: sent=%d/%dB received=%d/%dB reconnects=%d",
				stats.PacketsSent, stats.BytesSent,
				stats.PacketsReceived, stats.BytesReceived,
				stats.ReconnectAttempts)
		}
	}
}
