package storage

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustAddDevice(t *testing.T, store *Store, deviceID, name, status string) {
	t.Helper()

	err := store.AddDevice(Device{
		DeviceID:   deviceID,
		DeviceName: name,
		Status:     status,
	})
	if err != nil {
		t.Fatalf("add device %q: %v", deviceID, err)
	}
}
