// Command derpnet-cli manages a local list of relay endpoints and drives
// connect/disconnect/status against one of them.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"derpnetws/internal/config"
	"derpnetws/internal/manager"
)

var (
	configDir string
	cfg       *config.GlobalConfig
	relayMgr  = manager.NewRelayManager()
)

var rootCmd = &cobra.Command{
	Use:   "derpnet-cli",
	Short: "Relay client for the framed peer-to-peer relay protocol",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadGlobalConfig(configDir)
		return err
	},
}

var addCmd = &cobra.Command{
	Use:   "add [key-or-file] [name]",
	Short: "Add a new relay",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		name := "relay"
		if len(args) > 1 {
			name = args[1]
		}

		relay, err := config.ParseKey(key, name)
		if err != nil {
			return fmt.Errorf("failed to parse key: %w", err)
		}
		relay.ID = uuid.NewString()

		cfg.Relays = append(cfg.Relays, relay)
		return cfg.Save()
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all relays",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.Relays) == 0 {
			fmt.Println("No relays configured")
			return nil
		}

		for i, relay := range cfg.Relays {
			active := " "
			if relay.ID == cfg.ActiveID {
				active = "*"
			}
			fmt.Printf("%s[%d] %s - %s\n", active, i+1, relay.Name, relay.GetKeyString())
		}
		return nil
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect [name-or-index]",
	Short: "Connect to a relay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		relay := findRelay(args[0])
		if relay == nil {
			return fmt.Errorf("relay not found: %s", args[0])
		}

		cfg.ActiveID = relay.ID
		if err := cfg.Save(); err != nil {
			return err
		}

		return relayMgr.Connect(context.Background(), relay)
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Disconnect the current relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		return relayMgr.Disconnect()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connection status",
	RunE: func(cmd *cobra.Command, args []string) error {
		status := relayMgr.GetStatus()

		fmt.Printf("Status: %s\n", status.State)
		if status.Relay != nil {
			fmt.Printf("Relay: %s (%s)\n", status.Relay.Name, status.Relay.RelayURL)
			fmt.Printf("Traffic: sent %d packets / %d bytes, received %d packets / %d bytes\n",
				status.Stats.PacketsSent, status.Stats.BytesSent,
				status.Stats.PacketsReceived, status.Stats.BytesReceived)
			fmt.Printf("Reconnect attempts: %d\n", status.Stats.ReconnectAttempts)
		}
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove [name-or-index]",
	Short: "Remove a relay",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var kept []*config.RelayConfig
		removed := false

		for i, r := range cfg.Relays {
			if fmt.Sprintf("%d", i+1) == args[0] || r.Name == args[0] {
				removed = true
				if r.ID == cfg.ActiveID {
					cfg.ActiveID = ""
				}
				continue
			}
			kept = append(kept, r)
		}

		if !removed {
			return fmt.Errorf("relay not found: %s", args[0])
		}

		cfg.Relays = kept
		return cfg.Save()
	},
}

func findRelay(ref string) *config.RelayConfig {
	for i, r := range cfg.Relays {
		if fmt.Sprintf("%d", i+1) == ref || r.Name == ref {
			return r
		}
	}
	return nil
}

func init() {
	home, _ := os.UserHomeDir()
	rootCmd.PersistentFlags().StringVar(&configDir, "config",
		filepath.Join(home, ".config", "derpnet"),
		"config directory")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(removeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
