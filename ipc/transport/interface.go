package transport

import (
	"context"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/loop"
	"os"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// HandleFunc is called on the worker loop for every decoded envelope.
// There is no reply, messages are fire and forget.
type HandleFunc func(ctx context.Context, env common.Envelope)

// ErrorHandleFunc is called when a connection fails (framing error, read error).
// Only the failed connection is closed, the endpoint keeps accepting.
type ErrorHandleFunc func(remote string, err error)

// IIPCServerTransport is the interface of a listening endpoint.
// The config is passed to the constructor of the concrete transport.
type IIPCServerTransport interface {
	// RegisterErrorHandler registers a callback for per connection failures
	RegisterErrorHandler(handler ErrorHandleFunc)
	// Start binds and listens on address. Returns common.ErrAlreadyStarted when called twice.
	Start(address string) error
	// PreFork binds the configured endpoint, to be called in the parent process before spawning workers
	PreFork() error
	// ListenerFile returns a duplicate of the listening descriptor for hand-off to a child process
	ListenerFile() (*os.File, error)
	// Inherit adopts a listening descriptor passed by the parent process
	Inherit(f *os.File) error
	// PostFork attaches the loop and the handler and starts accepting connections
	PostFork(l *loop.Loop, handler HandleFunc) error
	// Addr returns the bound address, empty if the endpoint is not bound
	Addr() string
	// Close stops accepting, closes all live connections and the listener. Idempotent.
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IIPCClientTransport is the interface of a connecting endpoint
type IIPCClientTransport interface {
	// Connect establishes the connection (also used to reconnect after a drop or Close)
	Connect(ctx context.Context) error
	// Send writes one envelope as a frame. An idle client connects lazily.
	Send(ctx context.Context, env common.Envelope) error
	// Close closes the connection. Idempotent.
	Close() error
	// Endpoint returns the address the client connects to
	Endpoint() string
}
