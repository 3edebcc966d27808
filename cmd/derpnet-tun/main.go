// Command derpnet-tun bridges a real TAP interface to a relay engine via
// EthernetShim, standing in for "an embedded guest" (spec.md's in-browser
// VM) on a developer machine: frames read off the TAP device are handed to
// the shim's outbound path, and packets the engine receives from peers are
// written back as synthetic Ethernet frames.
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/songgao/water"

	"derpnetws/internal/config"
	"derpnetws/internal/crypto"
	"derpnetws/internal/engine"
	"derpnetws/internal/ethernet"
)

func main() {
	var relayDescriptor string
	var macHex string
	var deviceName string
	flag.StringVar(&relayDescriptor, "relay", "", "relay descriptor (inline key, URL, or path)")
	flag.StringVar(&macHex, "mac", "", "6-byte local MAC in aa:bb:cc:dd:ee:ff form (default: random)")
	flag.StringVar(&deviceName, "device", "", "TAP device name (platform default if empty)")
	flag.Parse()

	if relayDescriptor == "" {
		log.Fatalf("-relay is required")
	}

	relay, err := config.ParseKey(relayDescriptor, "tun")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	mac, err := localMAC(macHex)
	if err != nil {
		log.Fatalf("mac: %v", err)
	}

	cfg := water.Config{DeviceType: water.TAP}
	cfg.Name = deviceName
	iface, err := water.New(cfg)
	if err != nil {
		log.Fatalf("open tap device: %v", err)
	}
	defer iface.Close()
	log.Printf("opened tap device %s", iface.Name())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cryptoState, err := crypto.New(crypto.WithCipherSuite(relay.Suite()))
	if err != nil {
		log.Fatalf("crypto: %v", err)
	}
	eng := engine.New(cryptoState, engine.WithFwmark(relay.Fwmark))
	if err := eng.Connect(ctx, relay.RelayURL); err != nil {
		log.Fatalf("connect %s: %v", relay.RelayURL, err)
	}
	log.Printf("connected to %s", relay.RelayURL)

	shim, err := ethernet.New(mac, eng, func(frame []byte) error {
		_, err := iface.Write(frame)
		return err
	})
	if err != nil {
		log.Fatalf("ethernet shim: %v", err)
	}

	go func() {
		for pkt := range eng.Inbound() {
			if err := shim.DeliverToGuest(pkt); err != nil {
				log.Printf("deliver to tap: %v", err)
			}
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Printf("shutting down...")
		cancel()
		_ = eng.Close()
		_ = iface.Close()
	}()

	buf := make([]byte, shim.MTU()+14)
	for {
		n, err := iface.Read(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			log.Printf("tap read: %v", err)
			return
		}
		if err := shim.SendFromGuest(buf[:n]); err != nil {
			log.Printf("send from tap: %v", err)
		}
	}
}

func localMAC(hexMAC string) ([]byte, error) {
	if hexMAC == "" {
		mac := make([]byte, 6)
		if _, err := rand.Read(mac); err != nil {
			return nil, err
		}
		mac[0] = (mac[0] | 0x02) &^ 0x01 // locally administered, unicast
		return mac, nil
	}
	hw, err := net.ParseMAC(hexMAC)
	if err != nil {
		return nil, err
	}
	return hw, nil
}
