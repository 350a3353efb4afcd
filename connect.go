package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"lanlink/config"
	"lanlink/discovery"
	"lanlink/network"
	"lanlink/storage"
	"lanlink/syncer"
)

var (
	connectAddr string
	connectPeer string
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to a serving device and keep resources in sync",
	Long: `Connect establishes an approved session with a serving device,
either at an explicit address or by browsing mDNS for a named peer,
then runs the sync loop until interrupted.

First-time connections wait for the operator on the serving device to
approve this device.`,
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().StringVar(&connectAddr, "addr", "", "direct host:port of the serving device")
	connectCmd.Flags().StringVar(&connectPeer, "peer", "", "device name to find via discovery")
}

func runConnect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := slog.Default()

	if connectAddr == "" && connectPeer == "" {
		return fmt.Errorf("either --addr or --peer is required")
	}

	cfg, store, err := openApp()
	if err != nil {
		return err
	}
	defer closeStore(store)

	addr := connectAddr
	if addr == "" {
		addr, err = findPeer(ctx, cfg.DeviceID, connectPeer)
		if err != nil {
			return err
		}
	}

	// Terminal session states never revive; each reconnect builds a fresh
	// session and resumes the sync loop until interrupted.
	for {
		err := runSyncSession(ctx, cfg, store, addr, logger)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, network.ErrNotAuthorized) {
			return err
		}
		if err != nil {
			logger.Warn("session ended", "error", err)
		}

		fmt.Printf("Status:   reconnecting in %s\n", reconnectDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

const reconnectDelay = 3 * time.Second

// runSyncSession drives one session from connect through sync-loop exit.
func runSyncSession(ctx context.Context, cfg *config.DeviceConfig, store *storage.Store, addr string, logger *slog.Logger) error {
	session := network.NewSession(addr, network.SessionOptions{
		DeviceID:   cfg.DeviceID,
		DeviceName: cfg.DeviceName,
		Logger:     logger,
		OnStateChange: func(state network.SessionState, detail string) {
			fmt.Printf("Session:  %s (%s)\n", state, detail)
		},
	})

	if err := session.Connect(ctx); err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer session.Disconnect()

	bridge := network.NewBridge()
	if err := bridge.Bind(session); err != nil {
		return err
	}
	defer bridge.Release()

	engine := syncer.NewEngine(store, syncer.NewSessionRemote(session, 0), syncer.EngineOptions{
		Logger: logger,
		OnApplied: func(resources []string) {
			fmt.Printf("Synced:   %s\n", strings.Join(resources, ", "))
		},
	})

	fmt.Println("Status:   connected (press Ctrl+C to stop)")
	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("sync loop stopped: %w", err)
	}
	return nil
}

// findPeer browses mDNS until a peer matching the requested name shows
// up, then returns its direct address.
func findPeer(ctx context.Context, selfDeviceID, name string) (string, error) {
	scanner, err := discovery.NewPeerScanner(discovery.Config{
		SelfDeviceID: selfDeviceID,
	})
	if err != nil {
		return "", fmt.Errorf("start discovery: %w", err)
	}
	if err := scanner.Start(); err != nil {
		return "", fmt.Errorf("start discovery: %w", err)
	}
	defer scanner.Stop()

	deadline := time.Now().Add(15 * time.Second)
	wanted := strings.ToLower(name)
	for time.Now().Before(deadline) {
		if err := scanner.Refresh(ctx); err != nil {
			return "", err
		}
		for _, peer := range scanner.ListPeers() {
			if strings.Contains(strings.ToLower(peer.DeviceName), wanted) {
				fmt.Printf("Found:    %q at %s\n", peer.DeviceName, discovery.DirectAddr(peer.Address, peer.Port))
				return discovery.DirectAddr(peer.Address, peer.Port), nil
			}
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Second):
		}
	}

	return "", fmt.Errorf("no peer matching %q found on the local network", name)
}
