package common

import (
	"errors"
	"fmt"
)

// Usage errors returned synchronously by servers and clients
var (
	// ErrAlreadyStarted is returned when an endpoint is started (or attached) twice
	ErrAlreadyStarted = errors.New("ipc: endpoint already started")
	// ErrNotStarted is returned when a server is attached before it is bound
	ErrNotStarted = errors.New("ipc: endpoint not started")
	// ErrNotConnected is returned by Send on a closed or dropped client
	ErrNotConnected = errors.New("ipc: not connected")
	// ErrClosed is returned when operating on a closed server
	ErrClosed = errors.New("ipc: endpoint closed")
)

// ConnectError is returned when a client cannot establish its connection
// (refused, no such address, timeout). Use errors.Is on the wrapped error
// to check for a specific cause (e.g. syscall.ECONNREFUSED).
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("ipc: failed to connect to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
