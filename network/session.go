package network

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"lanlink/protocol"
)

// SessionState is one step in a session's forward-only lifecycle.
type SessionState string

const (
	StateDiscovered   SessionState = "discovered"
	StateConnecting   SessionState = "connecting"
	StateConnected    SessionState = "connected"
	StateDisconnected SessionState = "disconnected"
	StateFailed       SessionState = "failed"
)

var stateRank = map[SessionState]int{
	StateDiscovered:   0,
	StateConnecting:   1,
	StateConnected:    2,
	StateDisconnected: 3,
	StateFailed:       3,
}

const (
	// DefaultDialTimeout bounds the transport connect phase.
	DefaultDialTimeout = 8 * time.Second
	// DefaultApprovalWait bounds the whole approval handshake.
	DefaultApprovalWait = 60 * time.Second
	// DefaultProbeInterval spaces approval probe retries.
	DefaultProbeInterval = 2 * time.Second
	// DefaultMaxProbeAttempts caps approval probe retries.
	DefaultMaxProbeAttempts = 30
	// DefaultKeepAliveInterval spaces idle keepalive probes.
	DefaultKeepAliveInterval = 30 * time.Second
)

// SessionOptions configures a client session.
type SessionOptions struct {
	DeviceID   string
	DeviceName string

	DialTimeout       time.Duration
	ApprovalWait      time.Duration
	ProbeInterval     time.Duration
	MaxProbeAttempts  int
	CommandTimeout    time.Duration
	KeepAliveInterval time.Duration

	// OnStateChange surfaces human-readable connection progress. Called
	// synchronously; keep it cheap.
	OnStateChange func(state SessionState, detail string)

	Logger *slog.Logger
}

func (o SessionOptions) withDefaults() SessionOptions {
	out := o
	if out.DialTimeout <= 0 {
		out.DialTimeout = DefaultDialTimeout
	}
	if out.ApprovalWait <= 0 {
		out.ApprovalWait = DefaultApprovalWait
	}
	if out.ProbeInterval <= 0 {
		out.ProbeInterval = DefaultProbeInterval
	}
	if out.MaxProbeAttempts <= 0 {
		out.MaxProbeAttempts = DefaultMaxProbeAttempts
	}
	if out.CommandTimeout <= 0 {
		out.CommandTimeout = DefaultCommandTimeout
	}
	if out.KeepAliveInterval <= 0 {
		out.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Session is one logical client connection to a remote device. States
// move only forward; reconnecting requires a new Session.
type Session struct {
	opts SessionOptions
	addr string

	stateMu    sync.RWMutex
	state      SessionState
	failReason error

	client   *Client
	approved atomic.Bool

	lastActivity atomic.Int64

	keepAliveStop chan struct{}
	keepAliveOnce sync.Once
}

// NewSession creates a session for a discovered or dialed peer address.
func NewSession(addr string, options SessionOptions) *Session {
	return &Session{
		opts:          options.withDefaults(),
		addr:          addr,
		state:         StateDiscovered,
		keepAliveStop: make(chan struct{}),
	}
}

// Addr returns the remote endpoint this session targets.
func (s *Session) Addr() string {
	return s.addr
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Err returns the failure reason for a failed session.
func (s *Session) Err() error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.failReason
}

// Approved reports whether the approval handshake has succeeded.
func (s *Session) Approved() bool {
	return s.approved.Load()
}

// Done is closed once the underlying connection terminates. It reports
// immediately for sessions that never connected.
func (s *Session) Done() <-chan struct{} {
	if s.client != nil {
		return s.client.Done()
	}
	done := make(chan struct{})
	close(done)
	return done
}

// Connect dials the remote endpoint and runs the approval handshake. The
// session reaches connected only once both succeed; any failure lands in
// a terminal state with every pending command resolved.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.transition(StateConnecting, "connecting to "+s.addr); err != nil {
		return err
	}

	dialer := net.Dialer{Timeout: s.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		wrapped := fmt.Errorf("%w: dial %q: %v", ErrTransport, s.addr, err)
		s.fail(wrapped)
		return wrapped
	}

	s.client = NewClient(conn, s.opts.Logger.With("peer", s.addr), s.onConnClosed)

	if err := s.awaitApproval(ctx); err != nil {
		_ = s.client.Close()
		s.fail(err)
		return err
	}

	if err := s.transition(StateConnected, "connected and authorized"); err != nil {
		return err
	}

	s.approved.Store(true)
	s.touchActivity()
	go s.keepAliveLoop()
	return nil
}

// Send issues a command over a connected session.
func (s *Session) Send(ctx context.Context, commandType string, parameters map[string]string, timeout time.Duration) (protocol.Response, error) {
	if s.State() != StateConnected {
		return protocol.Response{}, ErrSessionClosed
	}
	if timeout <= 0 {
		timeout = s.opts.CommandTimeout
	}

	resp, err := s.client.Send(ctx, commandType, parameters, timeout)
	if err == nil {
		s.touchActivity()
	}
	return resp, err
}

// Disconnect closes the session. All outstanding commands resolve with
// the close error; the state becomes disconnected.
func (s *Session) Disconnect() {
	if s.client != nil {
		_ = s.client.Close()
		return
	}
	_ = s.transition(StateDisconnected, "disconnected")
}

// awaitApproval sends the approval probe until the remote accepts,
// rejects, or the bound expires. "awaiting approval" responses retry at
// the probe interval; any other failure is fatal authorization failure.
func (s *Session) awaitApproval(ctx context.Context) error {
	deadline := time.Now().Add(s.opts.ApprovalWait)
	parameters := map[string]string{
		protocol.ParamDeviceID:   s.opts.DeviceID,
		protocol.ParamDeviceName: s.opts.DeviceName,
	}

	for attempt := 1; attempt <= s.opts.MaxProbeAttempts; attempt++ {
		if time.Now().After(deadline) {
			return ErrApprovalWaitExceeded
		}

		resp, err := s.client.Send(ctx, protocol.CmdPing, parameters, s.opts.ProbeInterval*2)
		if err != nil {
			return err
		}

		if resp.Success {
			s.opts.Logger.Info("approval granted", "attempts", attempt)
			return nil
		}
		if resp.Error != protocol.ErrAwaitingApproval {
			return fmt.Errorf("%w: %s", ErrNotAuthorized, resp.Error)
		}

		s.notifyProgress(StateConnecting, "awaiting operator approval")

		select {
		case <-time.After(s.opts.ProbeInterval):
		case <-ctx.Done():
			return ctx.Err()
		case <-s.client.Done():
			return s.client.terminalError()
		}
	}

	return ErrApprovalWaitExceeded
}

// keepAliveLoop probes the remote with ping while the session is idle so
// a dead transport surfaces promptly. Any probe failure closes up.
func (s *Session) keepAliveLoop() {
	ticker := time.NewTicker(s.opts.KeepAliveInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			idleFor := time.Since(time.Unix(0, s.lastActivity.Load()))
			if idleFor < s.opts.KeepAliveInterval {
				continue
			}

			_, err := s.Send(context.Background(), protocol.CmdPing, map[string]string{
				protocol.ParamDeviceID:   s.opts.DeviceID,
				protocol.ParamDeviceName: s.opts.DeviceName,
			}, s.opts.ProbeInterval*2)
			if err != nil {
				s.opts.Logger.Warn("keepalive probe failed", "error", err)
				if s.client != nil {
					_ = s.client.Close()
				}
				return
			}
		case <-s.keepAliveStop:
			return
		}
	}
}

func (s *Session) onConnClosed(err error) {
	s.approved.Store(false)
	s.keepAliveOnce.Do(func() { close(s.keepAliveStop) })

	if err != nil {
		s.fail(err)
		return
	}
	_ = s.transition(StateDisconnected, "disconnected")
}

func (s *Session) transition(to SessionState, detail string) error {
	s.stateMu.Lock()
	from := s.state
	if stateRank[to] < stateRank[from] || (stateRank[from] == stateRank[to] && from != to) {
		s.stateMu.Unlock()
		return fmt.Errorf("network: invalid session transition %s -> %s", from, to)
	}
	s.state = to
	s.stateMu.Unlock()

	s.notifyProgress(to, detail)
	return nil
}

func (s *Session) fail(reason error) {
	s.stateMu.Lock()
	if stateRank[s.state] >= stateRank[StateFailed] {
		s.stateMu.Unlock()
		return
	}
	s.state = StateFailed
	s.failReason = reason
	s.stateMu.Unlock()

	s.notifyProgress(StateFailed, reason.Error())
}

func (s *Session) notifyProgress(state SessionState, detail string) {
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(state, detail)
	}
}

func (s *Session) touchActivity() {
	s.lastActivity.Store(time.Now().UnixNano())
}
