package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func TestStartRunsBroadcasterAndScanner(t *testing.T) {
	type registration struct {
		instance string
		service  string
		port     int
		text     []string
	}
	registered := make(chan registration, 1)

	cfg := Config{
		SelfDeviceID:    "self-device",
		DeviceName:      "Desk",
		ListeningPort:   9901,
		RefreshInterval: time.Hour,
		ScanTimeout:     30 * time.Millisecond,
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			registered <- registration{instance: instance, service: service, port: port, text: text}
			return nil, nil
		},
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			entries <- testServiceEntry("peer-1", "Bob", 9901, "10.0.0.2")
			<-ctx.Done()
			return nil
		},
	}

	service, err := Start(cfg)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer service.Stop()

	select {
	case reg := <-registered:
		if reg.instance != "Desk" || reg.service != DefaultService || reg.port != 9901 {
			t.Fatalf("unexpected registration: %+v", reg)
		}
		if !containsText(reg.text, "device_id=self-device") {
			t.Fatalf("TXT records missing device id: %v", reg.text)
		}
	case <-time.After(time.Second):
		t.Fatal("broadcaster never registered")
	}

	waitForCondition(t, time.Second, func() bool {
		peers := service.Scanner.ListPeers()
		return len(peers) == 1 && peers[0].DeviceID == "peer-1"
	})
}

func TestStartRejectsIncompleteConfig(t *testing.T) {
	_, err := Start(Config{
		SelfDeviceID: "self-device",
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			t.Fatal("register called despite invalid config")
			return nil, nil
		},
	})
	if err == nil {
		t.Fatal("Start accepted a config without name and port")
	}
}

func containsText(text []string, want string) bool {
	for _, entry := range text {
		if entry == want {
			return true
		}
	}
	return false
}
