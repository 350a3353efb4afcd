package network

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"lanlink/protocol"
	"lanlink/storage"
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

type testServer struct {
	server    *Server
	store     *storage.Store
	approvals *ApprovalQueue
}

func newTestServer(t *testing.T, configure func(*ServerOptions)) *testServer {
	t.Helper()

	store := newTestStore(t)
	approvals := NewApprovalQueue(store, nil)

	opts := ServerOptions{
		DeviceID:   "server-device",
		DeviceName: "Server",
		Store:      store,
		Approvals:  approvals,
	}
	if configure != nil {
		configure(&opts)
	}

	server, err := Listen("127.0.0.1:0", opts)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() {
		_ = server.Close()
	})

	return &testServer{server: server, store: store, approvals: approvals}
}

func (ts *testServer) addr() string {
	return ts.server.Addr().String()
}

func (ts *testServer) approveDevice(t *testing.T, deviceID, name string) {
	t.Helper()

	err := ts.store.AddDevice(storage.Device{
		DeviceID:   deviceID,
		DeviceName: name,
		Status:     storage.DeviceStatusApproved,
	})
	if err != nil {
		t.Fatalf("approve device %q: %v", deviceID, err)
	}
}

func dialTestClient(t *testing.T, addr string) *Client {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial %q: %v", addr, err)
	}

	client := NewClient(conn, nil, nil)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

// pipeResponder reads framed commands from one end of a pipe and answers
// through a handler. A nil handler response drops the command.
type pipeResponder struct {
	conn     net.Conn
	commands chan protocol.Command
}

func newPipeResponder(t *testing.T, conn net.Conn, handler func(cmd protocol.Command) *protocol.Response) *pipeResponder {
	t.Helper()

	r := &pipeResponder{
		conn:     conn,
		commands: make(chan protocol.Command, 64),
	}

	go func() {
		decoder := protocol.NewDecoder()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				frames, decErr := decoder.Feed(buf[:n])
				for _, frame := range frames {
					msg, err := protocol.DecodeMessage(frame)
					if err != nil || msg.Command == nil {
						continue
					}
					select {
					case r.commands <- *msg.Command:
					default:
					}
					if handler == nil {
						continue
					}
					if resp := handler(*msg.Command); resp != nil {
						r.send(*resp)
					}
				}
				if decErr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	return r
}

func (r *pipeResponder) send(resp protocol.Response) {
	payload, err := protocol.EncodeResponse(resp)
	if err != nil {
		return
	}
	_ = protocol.WriteFrame(r.conn, payload)
}

func (r *pipeResponder) nextCommand(t *testing.T, timeout time.Duration) protocol.Command {
	t.Helper()

	select {
	case cmd := <-r.commands:
		return cmd
	case <-time.After(timeout):
		t.Fatalf("no command received within %s", timeout)
		return protocol.Command{}
	}
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout %s: %s", timeout, message)
}

func isClosedErr(err error) bool {
	return errors.Is(err, ErrSessionClosed) ||
		errors.Is(err, ErrTransport) ||
		errors.Is(err, io.EOF)
}
