package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List paired devices",
	RunE:  runDevicesList,
}

var devicesRemoveCmd = &cobra.Command{
	Use:   "remove <device-id>",
	Short: "Forget a paired device",
	Args:  cobra.ExactArgs(1),
	RunE:  runDevicesRemove,
}

func init() {
	devicesCmd.AddCommand(devicesRemoveCmd)
}

func runDevicesList(cmd *cobra.Command, args []string) error {
	_, store, err := openApp()
	if err != nil {
		return err
	}
	defer closeStore(store)

	devices, err := store.ListDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No paired devices.")
		return nil
	}

	fmt.Printf("%-36s  %-20s  %-8s  %-20s  %s\n", "DEVICE ID", "NAME", "STATUS", "LAST SEEN", "ADDRESS")
	for _, device := range devices {
		lastSeen := "never"
		if device.LastSeenTimestamp > 0 {
			lastSeen = time.UnixMilli(device.LastSeenTimestamp).Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-36s  %-20s  %-8s  %-20s  %s\n",
			device.DeviceID, device.DeviceName, device.Status, lastSeen, device.LastKnownAddr)
	}
	return nil
}

func runDevicesRemove(cmd *cobra.Command, args []string) error {
	_, store, err := openApp()
	if err != nil {
		return err
	}
	defer closeStore(store)

	if err := store.RemoveDevice(args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed device %s\n", args[0])
	return nil
}

func closeStore(store interface{ Close() error }) {
	if err := store.Close(); err != nil {
		slog.Warn("database close failed", "error", err)
	}
}
