package network

import (
	"context"
	"errors"
	"sync"
	"time"

	"lanlink/protocol"
)

// ErrBridgeUnavailable indicates no authorized session is bound.
var ErrBridgeUnavailable = errors.New("network: remote bridge unavailable")

// Bridge exposes an authorized session as a generic command executor for
// the external agent-execution collaborator. It carries zero knowledge of
// command semantics; availability flips true only after approval and
// false the moment the session ends.
type Bridge struct {
	mu      sync.RWMutex
	session *Session
}

// NewBridge returns an unbound bridge.
func NewBridge() *Bridge {
	return &Bridge{}
}

// Bind attaches a connected, approved session. The bridge releases itself
// automatically when the session's connection terminates.
func (b *Bridge) Bind(session *Session) error {
	if session.State() != StateConnected || !session.Approved() {
		return ErrBridgeUnavailable
	}

	b.mu.Lock()
	b.session = session
	b.mu.Unlock()

	go func() {
		<-session.Done()
		b.mu.Lock()
		if b.session == session {
			b.session = nil
		}
		b.mu.Unlock()
	}()

	return nil
}

// Release detaches the current session.
func (b *Bridge) Release() {
	b.mu.Lock()
	b.session = nil
	b.mu.Unlock()
}

// Available reports whether an authorized session is bound and usable.
func (b *Bridge) Available() bool {
	b.mu.RLock()
	session := b.session
	b.mu.RUnlock()
	return session != nil && session.State() == StateConnected
}

// Execute forwards one command to the bound session.
func (b *Bridge) Execute(ctx context.Context, commandType string, parameters map[string]string, timeout time.Duration) (protocol.Response, error) {
	b.mu.RLock()
	session := b.session
	b.mu.RUnlock()

	if session == nil {
		return protocol.Response{}, ErrBridgeUnavailable
	}
	return session.Send(ctx, commandType, parameters, timeout)
}
