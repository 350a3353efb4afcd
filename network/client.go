package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"lanlink/protocol"
)

const (
	// DefaultCommandTimeout bounds a Send when the caller passes none.
	DefaultCommandTimeout = 10 * time.Second

	readChunkSize = 32 * 1024
)

// Client owns the request side of one framed connection: it writes
// Commands, correlates inbound Responses to waiting callers by id, and
// fails every outstanding waiter when the transport dies. The receive
// buffer belongs exclusively to its read loop.
type Client struct {
	conn net.Conn

	sendMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan protocol.Response

	closed    chan struct{}
	closeOnce sync.Once

	errMu    sync.RWMutex
	closeErr error

	onClose func(err error)
	logger  *slog.Logger
}

// NewClient wraps an established connection and starts its read loop.
// onClose, if set, fires once with the terminal error (nil for a clean
// local close).
func NewClient(conn net.Conn, logger *slog.Logger, onClose func(err error)) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		conn:    conn,
		pending: make(map[string]chan protocol.Response),
		closed:  make(chan struct{}),
		onClose: onClose,
		logger:  logger,
	}

	go c.readLoop()
	return c
}

// Done is closed when the connection is terminally closed.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Err returns the terminal connection error, if any.
func (c *Client) Err() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.closeErr
}

// Send issues one command and suspends the caller until the matching
// Response, the timeout, a context cancel, or connection failure resolves
// it. A Response arriving after the waiter is gone is silently discarded.
func (c *Client) Send(ctx context.Context, commandType string, parameters map[string]string, timeout time.Duration) (protocol.Response, error) {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	select {
	case <-c.closed:
		return protocol.Response{}, c.terminalError()
	default:
	}

	id := uuid.NewString()
	waiter := make(chan protocol.Response, 1)

	c.pendingMu.Lock()
	c.pending[id] = waiter
	c.pendingMu.Unlock()

	payload, err := protocol.EncodeCommand(protocol.Command{
		ID:          id,
		CommandType: commandType,
		Parameters:  parameters,
	})
	if err != nil {
		c.removeWaiter(id)
		return protocol.Response{}, err
	}

	if err := c.writeFrame(payload); err != nil {
		c.removeWaiter(id)
		return protocol.Response{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-waiter:
		return resp, nil
	case <-timer.C:
		c.removeWaiter(id)
		return protocol.Response{}, fmt.Errorf("%w: %s after %s", ErrTimeout, commandType, timeout)
	case <-ctx.Done():
		c.removeWaiter(id)
		return protocol.Response{}, ctx.Err()
	case <-c.closed:
		c.removeWaiter(id)
		return protocol.Response{}, c.terminalError()
	}
}

// Close terminates the connection and fails all outstanding waiters.
func (c *Client) Close() error {
	c.closeWithError(nil)
	return nil
}

func (c *Client) writeFrame(payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := protocol.WriteFrame(c.conn, payload); err != nil {
		wrapped := fmt.Errorf("%w: write: %v", ErrTransport, err)
		c.closeWithError(wrapped)
		return wrapped
	}
	return nil
}

func (c *Client) readLoop() {
	decoder := protocol.NewDecoder()
	buf := make([]byte, readChunkSize)

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			frames, decErr := decoder.Feed(buf[:n])
			for _, frame := range frames {
				c.handleFrame(frame)
			}
			if decErr != nil {
				c.closeWithError(decErr)
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				c.closeWithError(nil)
				return
			}
			c.closeWithError(fmt.Errorf("%w: read: %v", ErrTransport, err))
			return
		}
	}
}

func (c *Client) handleFrame(frame []byte) {
	msg, err := protocol.DecodeMessage(frame)
	if err != nil {
		c.logger.Warn("discarding undecodable frame", "error", err)
		return
	}
	if msg.Response == nil {
		// Requests flow the other way on this connection.
		c.logger.Warn("discarding unexpected inbound command",
			"command_type", msg.Command.CommandType)
		return
	}

	c.pendingMu.Lock()
	waiter, ok := c.pending[msg.Response.ID]
	if ok {
		delete(c.pending, msg.Response.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		// Late response after timeout or disconnect.
		c.logger.Debug("discarding unmatched response", "id", msg.Response.ID)
		return
	}
	waiter <- *msg.Response
}

func (c *Client) removeWaiter(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) terminalError() error {
	if err := c.Err(); err != nil {
		return err
	}
	return ErrSessionClosed
}

func (c *Client) closeWithError(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.closeErr = err
		c.errMu.Unlock()

		_ = c.conn.Close()
		close(c.closed)

		// Waiters blocked in Send wake on the closed channel; clearing the
		// table here just drops their entries.
		c.pendingMu.Lock()
		c.pending = make(map[string]chan protocol.Response)
		c.pendingMu.Unlock()

		if c.onClose != nil {
			c.onClose(err)
		}
	})
}
