package network

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"lanlink/protocol"
)

func newPipeClient(t *testing.T, handler func(cmd protocol.Command) *protocol.Response) (*Client, *pipeResponder) {
	t.Helper()

	near, far := net.Pipe()
	responder := newPipeResponder(t, far, handler)

	client := NewClient(near, nil, nil)
	t.Cleanup(func() {
		_ = client.Close()
		_ = far.Close()
	})
	return client, responder
}

func TestClientSendResolvesResponse(t *testing.T) {
	client, _ := newPipeClient(t, func(cmd protocol.Command) *protocol.Response {
		resp := protocol.Ok(cmd.ID, "echo:"+cmd.Parameters["n"])
		return &resp
	})

	resp, err := client.Send(context.Background(), "status", map[string]string{"n": "42"}, time.Second)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !resp.Success || resp.Result != "echo:42" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestClientCorrelatesOutOfOrderResponses(t *testing.T) {
	const n = 8

	client, responder := newPipeClient(t, nil)

	type result struct {
		want string
		resp protocol.Response
		err  error
	}
	results := make(chan result, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := strconv.Itoa(i)
			resp, err := client.Send(context.Background(), "status",
				map[string]string{"n": want}, 5*time.Second)
			results <- result{want: want, resp: resp, err: err}
		}(i)
	}

	// Collect every in-flight command, then answer in reverse arrival
	// order so correlation cannot lean on ordering.
	commands := make([]protocol.Command, 0, n)
	for i := 0; i < n; i++ {
		commands = append(commands, responder.nextCommand(t, 2*time.Second))
	}
	for i := len(commands) - 1; i >= 0; i-- {
		responder.send(protocol.Ok(commands[i].ID, "echo:"+commands[i].Parameters["n"]))
	}

	wg.Wait()
	close(results)

	for res := range results {
		if res.err != nil {
			t.Fatalf("send %s: %v", res.want, res.err)
		}
		if got := "echo:" + res.want; res.resp.Result != got {
			t.Fatalf("caller %s got result %q, want %q", res.want, res.resp.Result, got)
		}
	}
}

func TestClientSendTimesOutAndDiscardsLateResponse(t *testing.T) {
	client, responder := newPipeClient(t, nil)

	_, err := client.Send(context.Background(), "slow", nil, 50*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}

	// The response shows up after its waiter already gave up. It must be
	// dropped without disturbing later traffic.
	stale := responder.nextCommand(t, time.Second)
	responder.send(protocol.Ok(stale.ID, "too late"))

	done := make(chan protocol.Response, 1)
	go func() {
		next := responder.nextCommand(t, 2*time.Second)
		responder.send(protocol.Ok(next.ID, "fresh"))
	}()
	go func() {
		resp, err := client.Send(context.Background(), "status", nil, 2*time.Second)
		if err == nil {
			done <- resp
		}
	}()

	select {
	case resp := <-done:
		if resp.Result != "fresh" {
			t.Fatalf("follow-up send got %q, want %q", resp.Result, "fresh")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("follow-up send did not complete after a discarded late response")
	}
}

func TestClientTransportFailureFailsAllWaiters(t *testing.T) {
	const n = 4

	near, far := net.Pipe()
	responder := newPipeResponder(t, far, nil)

	client := NewClient(near, nil, nil)
	t.Cleanup(func() { _ = client.Close() })

	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Send(context.Background(), "status", nil, 10*time.Second)
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		responder.nextCommand(t, 2*time.Second)
	}

	_ = far.Close()

	wg.Wait()
	close(errs)

	for err := range errs {
		if err == nil {
			t.Fatal("waiter resolved without error after transport failure")
		}
		if !isClosedErr(err) {
			t.Fatalf("waiter got %v, want a closed-connection error", err)
		}
	}

	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("client did not report done after transport failure")
	}
}

func TestClientSendHonorsContextCancel(t *testing.T) {
	client, responder := newPipeClient(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		responder.nextCommand(t, 2*time.Second)
		cancel()
	}()

	_, err := client.Send(ctx, "slow", nil, 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClientSendAfterCloseFails(t *testing.T) {
	client, _ := newPipeClient(t, nil)
	_ = client.Close()

	_, err := client.Send(context.Background(), "status", nil, time.Second)
	if !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected %v, got %v", ErrSessionClosed, err)
	}
}

func TestClientOnCloseFiresOnce(t *testing.T) {
	near, far := net.Pipe()
	t.Cleanup(func() { _ = far.Close() })

	var mu sync.Mutex
	calls := 0
	client := NewClient(near, nil, func(err error) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	_ = client.Close()
	_ = client.Close()

	waitForCondition(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, "onClose should fire exactly once")
}
