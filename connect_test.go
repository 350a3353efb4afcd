package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"lanlink/config"
	"lanlink/network"
	"lanlink/storage"
	"lanlink/syncer"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()

	store, _, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func startSyncServer(t *testing.T, remoteStore *storage.Store, address string) *network.Server {
	t.Helper()

	server, err := network.Listen(address, network.ServerOptions{
		DeviceID:   "desktop",
		DeviceName: "Desktop",
		Store:      remoteStore,
		Approvals:  network.NewApprovalQueue(remoteStore, nil),
	})
	if err != nil {
		t.Fatalf("listen on %q: %v", address, err)
	}
	t.Cleanup(func() {
		_ = server.Close()
	})

	syncer.NewService(remoteStore, nil).Register(server)
	return server
}

func waitForRemoteDocument(t *testing.T, store *storage.Store, name, want string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resource, err := store.GetResource(name)
		if err == nil && resource != nil && resource.Document == want {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("remote never received %s = %s within %s", name, want, timeout)
}

func TestSyncSessionResumesWithFreshSessionAfterServerRestart(t *testing.T) {
	local := newTestStore(t)
	remote := newTestStore(t)
	for _, store := range []*storage.Store{local, remote} {
		if err := store.RegisterResource("tasks", storage.ResourceKindCollection); err != nil {
			t.Fatalf("register tasks: %v", err)
		}
	}
	err := remote.AddDevice(storage.Device{
		DeviceID:   "laptop",
		DeviceName: "Laptop",
		Status:     storage.DeviceStatusApproved,
	})
	if err != nil {
		t.Fatalf("approve laptop: %v", err)
	}

	cfg := &config.DeviceConfig{DeviceID: "laptop", DeviceName: "Laptop"}
	logger := slog.Default()

	first := startSyncServer(t, remote, "127.0.0.1:0")
	addr := first.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 1)
	go func() {
		errs <- runSyncSession(ctx, cfg, local, addr, logger)
	}()

	if err := local.PutLocal("tasks", `{"items":["before restart"]}`); err != nil {
		t.Fatalf("put local: %v", err)
	}
	waitForRemoteDocument(t, remote, "tasks", `{"items":["before restart"]}`, 5*time.Second)

	// Kill the transport out from under the session; the next cycle hits
	// a fatal error and the session surfaces it instead of hanging.
	_ = first.Close()
	if err := local.PutLocal("tasks", `{"items":["poke after close"]}`); err != nil {
		t.Fatalf("put local: %v", err)
	}

	select {
	case err := <-errs:
		if err == nil {
			t.Fatal("sync session survived a dead server")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("sync session did not report the dead server")
	}

	// A brand new session against a restarted server picks sync back up.
	startSyncServer(t, remote, addr)
	go func() {
		errs <- runSyncSession(ctx, cfg, local, addr, logger)
	}()

	if err := local.PutLocal("tasks", `{"items":["after restart"]}`); err != nil {
		t.Fatalf("put local: %v", err)
	}
	waitForRemoteDocument(t, remote, "tasks", `{"items":["after restart"]}`, 5*time.Second)

	cancel()
	select {
	case err := <-errs:
		if err != nil {
			t.Fatalf("resumed session exited with %v on cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("resumed session did not exit on cancel")
	}
}
