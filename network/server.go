package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"lanlink/protocol"
	"lanlink/storage"
)

// CommandHandler services one decoded Command and returns its Response.
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd protocol.Command) protocol.Response
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc func(ctx context.Context, cmd protocol.Command) protocol.Response

// HandleCommand implements CommandHandler.
func (f CommandHandlerFunc) HandleCommand(ctx context.Context, cmd protocol.Command) protocol.Response {
	return f(ctx, cmd)
}

// ServerOptions configures a command server.
type ServerOptions struct {
	DeviceID   string
	DeviceName string

	Store     *storage.Store
	Approvals *ApprovalQueue

	// Fallback receives every authorized command with no registered
	// handler. The composing application's executor plugs in here; the
	// server itself knows nothing of command semantics.
	Fallback CommandHandler

	Logger *slog.Logger
}

// Server accepts framed connections, gates them behind operator approval,
// and dispatches inbound commands by type. Every Command gets exactly one
// Response, including a graceful failure for unknown types.
type Server struct {
	opts     ServerOptions
	listener net.Listener

	handlersMu sync.RWMutex
	handlers   map[string]CommandHandler

	ctx    context.Context
	cancel context.CancelFunc

	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once

	errs chan error
}

// Listen starts a TCP listener and its accept loop.
func Listen(address string, options ServerOptions) (*Server, error) {
	if options.Store == nil {
		return nil, errors.New("store is required")
	}
	if options.Approvals == nil {
		return nil, errors.New("approval queue is required")
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	if address == "" {
		address = ":0"
	}

	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listen on %q: %w", address, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	server := &Server{
		opts:     options,
		listener: listener,
		handlers: make(map[string]CommandHandler),
		ctx:      ctx,
		cancel:   cancel,
		closed:   make(chan struct{}),
		errs:     make(chan error, 16),
	}

	server.wg.Add(1)
	go server.acceptLoop()
	return server, nil
}

// RegisterHandler binds a handler to a command type.
func (s *Server) RegisterHandler(commandType string, handler CommandHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	s.handlers[commandType] = handler
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Errors returns asynchronous server errors.
func (s *Server) Errors() <-chan error {
	return s.errs
}

// Close stops accepting and drains every connection goroutine.
func (s *Server) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		closeErr = s.listener.Close()
		s.wg.Wait()
		close(s.errs)
	})
	return closeErr
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
			}

			s.reportError(fmt.Errorf("accept connection: %w", err))
			continue
		}

		sc := &serverConn{server: s, conn: conn}
		s.wg.Add(1)
		go sc.run()
	}
}

func (s *Server) lookupHandler(commandType string) CommandHandler {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	return s.handlers[commandType]
}

func (s *Server) reportError(err error) {
	if err == nil || errors.Is(err, net.ErrClosed) {
		return
	}

	select {
	case s.errs <- err:
	default:
	}
}

// serverConn owns one accepted connection: its read loop, its write
// mutex, and the authorized device identity once the probe succeeds.
type serverConn struct {
	server *Server
	conn   net.Conn

	writeMu sync.Mutex

	deviceMu sync.RWMutex
	deviceID string
}

func (sc *serverConn) run() {
	done := make(chan struct{})
	defer sc.server.wg.Done()
	defer close(done)
	defer func() {
		_ = sc.conn.Close()
	}()

	go func() {
		select {
		case <-sc.server.closed:
			_ = sc.conn.Close()
		case <-sc.server.ctx.Done():
			_ = sc.conn.Close()
		case <-done:
		}
	}()

	logger := sc.server.opts.Logger.With("remote", sc.conn.RemoteAddr().String())
	decoder := protocol.NewDecoder()
	buf := make([]byte, readChunkSize)

	for {
		n, err := sc.conn.Read(buf)
		if n > 0 {
			frames, decErr := decoder.Feed(buf[:n])
			for _, frame := range frames {
				sc.handleFrame(frame, logger)
			}
			if decErr != nil {
				// Protocol corruption is unrecoverable: abort the connection.
				logger.Error("aborting corrupt connection", "error", decErr)
				sc.server.reportError(decErr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				sc.server.reportError(fmt.Errorf("%w: read: %v", ErrTransport, err))
			}
			return
		}
	}
}

func (sc *serverConn) handleFrame(frame []byte, logger *slog.Logger) {
	msg, err := protocol.DecodeMessage(frame)
	if err != nil {
		logger.Warn("discarding undecodable frame", "error", err)
		return
	}
	if msg.Command == nil {
		logger.Warn("discarding unexpected inbound response", "id", msg.Response.ID)
		return
	}

	cmd := *msg.Command
	sc.server.wg.Add(1)
	go func() {
		defer sc.server.wg.Done()
		sc.writeResponse(sc.dispatch(cmd), logger)
	}()
}

func (sc *serverConn) dispatch(cmd protocol.Command) protocol.Response {
	if cmd.CommandType == protocol.CmdPing {
		return sc.handleProbe(cmd)
	}

	// No command except the approval probe is serviced before approval.
	if !sc.authorized() {
		return protocol.Failure(cmd.ID, "not authorized")
	}

	if handler := sc.server.lookupHandler(cmd.CommandType); handler != nil {
		return handler.HandleCommand(sc.server.ctx, cmd)
	}
	if sc.server.opts.Fallback != nil {
		return sc.server.opts.Fallback.HandleCommand(sc.server.ctx, cmd)
	}

	return protocol.Failure(cmd.ID, fmt.Sprintf("unknown command type %q", cmd.CommandType))
}

// handleProbe services the approval probe: known approved devices pass,
// unknown devices queue for the operator, rejected devices fail outright.
func (sc *serverConn) handleProbe(cmd protocol.Command) protocol.Response {
	name := cmd.Parameters[protocol.ParamDeviceName]
	key := cmd.Parameters[protocol.ParamDeviceID]
	if key == "" {
		key = name
	}
	if key == "" {
		return protocol.Failure(cmd.ID, "device_name is required")
	}
	if name == "" {
		name = key
	}

	device, err := sc.server.opts.Store.GetDevice(key)
	if err != nil {
		sc.server.reportError(err)
		return protocol.Failure(cmd.ID, "device lookup failed")
	}

	remoteAddr := sc.conn.RemoteAddr().String()
	switch {
	case device == nil:
		sc.server.opts.Approvals.Enqueue(key, name, remoteAddr)
		return protocol.Failure(cmd.ID, protocol.ErrAwaitingApproval)
	case device.Status == storage.DeviceStatusBlocked:
		return protocol.Failure(cmd.ID, "approval rejected")
	default:
		sc.authorize(key)
		if err := sc.server.opts.Store.TouchDevice(key, remoteAddr); err != nil {
			sc.server.reportError(err)
		}
		return protocol.Ok(cmd.ID, "pong")
	}
}

func (sc *serverConn) authorized() bool {
	sc.deviceMu.RLock()
	defer sc.deviceMu.RUnlock()
	return sc.deviceID != ""
}

func (sc *serverConn) authorize(deviceID string) {
	sc.deviceMu.Lock()
	defer sc.deviceMu.Unlock()
	sc.deviceID = deviceID
}

func (sc *serverConn) writeResponse(resp protocol.Response, logger *slog.Logger) {
	payload, err := protocol.EncodeResponse(resp)
	if err != nil {
		sc.server.reportError(err)
		return
	}

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	if err := protocol.WriteFrame(sc.conn, payload); err != nil {
		logger.Warn("write response failed", "id", resp.ID, "error", err)
		_ = sc.conn.Close()
	}
}
