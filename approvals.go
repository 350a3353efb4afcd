package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lanlink/storage"
)

var approvalDeviceName string

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Decide pending device approvals",
	Long: `Approvals records pairing decisions in the device registry. The
serving process re-checks the registry on every probe, so a decision
made here takes effect the next time the waiting device retries
(within its 2 second probe interval).`,
}

var approvalsAcceptCmd = &cobra.Command{
	Use:   "accept <device-id>",
	Short: "Approve a device for pairing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(args[0], storage.DeviceStatusApproved)
	},
}

var approvalsRejectCmd = &cobra.Command{
	Use:   "reject <device-id>",
	Short: "Reject a device; its probes fail outright from now on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(args[0], storage.DeviceStatusBlocked)
	},
}

func init() {
	approvalsAcceptCmd.Flags().StringVar(&approvalDeviceName, "name", "",
		"display name to record for the device (defaults to its id)")
	approvalsCmd.AddCommand(approvalsAcceptCmd, approvalsRejectCmd)
}

func decide(deviceID, status string) error {
	_, store, err := openApp()
	if err != nil {
		return err
	}
	defer closeStore(store)

	existing, err := store.GetDevice(deviceID)
	if err != nil {
		return err
	}
	if existing != nil {
		if err := store.SetDeviceStatus(deviceID, status); err != nil {
			return err
		}
	} else {
		name := approvalDeviceName
		if name == "" {
			name = deviceID
		}
		err := store.AddDevice(storage.Device{
			DeviceID:   deviceID,
			DeviceName: name,
			Status:     status,
		})
		if err != nil {
			return err
		}
	}

	fmt.Printf("Device %s is now %s\n", deviceID, status)
	return nil
}
