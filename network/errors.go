package network

import (
	"errors"
	"fmt"
)

// Error classes. Transport and protocol errors terminate the session and
// fail every pending command; a timeout resolves only its own caller; an
// authorization error aborts the approval handshake. A remote handler's
// success=false Response is an ordinary result, never a Go error.
var (
	// ErrTransport indicates a connect/read/write failure.
	ErrTransport = errors.New("network: transport failure")
	// ErrTimeout indicates no Response arrived within the command's bound.
	ErrTimeout = errors.New("network: command timed out")
	// ErrNotAuthorized indicates the remote rejected or never approved this device.
	ErrNotAuthorized = errors.New("network: not authorized")
	// ErrSessionClosed indicates the session reached a terminal state.
	ErrSessionClosed = errors.New("network: session closed")
	// ErrApprovalWaitExceeded indicates the approval handshake exceeded its bound.
	ErrApprovalWaitExceeded = fmt.Errorf("%w: approval wait exceeded", ErrTimeout)
)
