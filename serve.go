package main

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"lanlink/config"
	"lanlink/discovery"
	"lanlink/network"
	"lanlink/syncer"
)

var autoAccept bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept connections from paired devices",
	Long: `Serve listens for framed TCP connections, announces the device over
mDNS, answers sync commands for the local replica, and queues unknown
devices for operator approval.

Pending approvals are decided with "lanlink approvals accept <id>" or
"lanlink approvals reject <id>"; the connecting device keeps probing
until a decision lands.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&autoAccept, "auto-accept", false,
		"approve every unknown device without asking (trusted networks only)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := slog.Default()

	cfg, store, err := openApp()
	if err != nil {
		return err
	}
	defer closeStore(store)

	approvals := network.NewApprovalQueue(store, logger)

	address := ":0"
	if cfg.PortMode == config.PortModeFixed {
		address = ":" + strconv.Itoa(cfg.ListeningPort)
	}

	server, err := network.Listen(address, network.ServerOptions{
		DeviceID:   cfg.DeviceID,
		DeviceName: cfg.DeviceName,
		Store:      store,
		Approvals:  approvals,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = server.Close()
	}()

	syncer.NewService(store, logger).Register(server)

	port := server.Addr().(*net.TCPAddr).Port
	fmt.Printf("Device ID:    %s\n", cfg.DeviceID)
	fmt.Printf("Device Name:  %s\n", cfg.DeviceName)
	fmt.Printf("Listening:    %s\n", server.Addr())

	discoveryService, err := discovery.Start(discovery.Config{
		SelfDeviceID:  cfg.DeviceID,
		DeviceName:    cfg.DeviceName,
		ListeningPort: port,
	})
	if err != nil {
		// Direct connections by address still work without mDNS.
		logger.Warn("mDNS discovery unavailable", "error", err)
	} else {
		defer discoveryService.Stop()
		fmt.Println("Discovery:    broadcasting and scanning")
		go logDiscoveryEvents(discoveryService.Scanner.Events(), logger)
	}

	go watchApprovals(approvals, logger)
	go func() {
		for err := range server.Errors() {
			logger.Warn("server error", "error", err)
		}
	}()

	fmt.Println("Status:       running (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:       shutting down")
	return nil
}

func logDiscoveryEvents(events <-chan discovery.Event, logger *slog.Logger) {
	for event := range events {
		switch event.Type {
		case discovery.EventPeerUpserted:
			logger.Info("peer seen",
				"device", event.Peer.DeviceName,
				"addr", discovery.DirectAddr(event.Peer.Address, event.Peer.Port))
		case discovery.EventPeerRemoved:
			logger.Info("peer gone", "device", event.Peer.DeviceName)
		}
	}
}

// watchApprovals surfaces queued devices to the operator, or decides for
// them when auto-accept is on.
func watchApprovals(approvals *network.ApprovalQueue, logger *slog.Logger) {
	for pending := range approvals.Notifications() {
		if autoAccept {
			if err := approvals.Accept(pending.ID); err != nil {
				logger.Warn("auto-accept failed", "device", pending.ID, "error", err)
				continue
			}
			fmt.Printf("Auto-accepted device %q (%s) from %s\n",
				pending.DeviceName, pending.ID, pending.SourceAddr)
			continue
		}

		fmt.Printf("Device %q (%s) from %s is awaiting approval.\n",
			pending.DeviceName, pending.ID, pending.SourceAddr)
		fmt.Printf("Decide with: lanlink approvals accept %s\n", pending.ID)
	}
}
