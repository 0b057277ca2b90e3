package base

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/frame"
	"github.com/ValentinKolb/dIPC/ipc/serializer"
	"github.com/ValentinKolb/dIPC/ipc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"sync"
	"time"
)

var Logger = logger.GetLogger("ipc/transport")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to endpoint
	Connect(ctx context.Context, endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// clientState is the lifecycle state of a client
type clientState int

const (
	stateIdle clientState = iota
	stateConnected
	stateDropped
	stateClosed
)

func (s clientState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateConnected:
		return "connected"
	case stateDropped:
		return "dropped"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector  IClientConnector
	config     common.ClientConfig
	serializer serializer.IIPCSerializer

	// writeMu serializes connects and writes, so frames never interleave
	writeMu sync.Mutex

	// stateMu protects conn, state and closes
	stateMu sync.Mutex
	conn    net.Conn
	state   clientState
	closes  uint64 // number of Close calls, a dial started before a Close is discarded
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector.
// The client starts idle and connects on Connect or on the first Send.
func NewBaseClientTransport(connector IClientConnector, config common.ClientConfig, s serializer.IIPCSerializer) transport.IIPCClientTransport {
	return &clientTransport{
		connector:  connector,
		config:     config,
		serializer: s,
		state:      stateIdle,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IIPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(ctx context.Context) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	return t.connect(ctx)
}

func (t *clientTransport) Send(ctx context.Context, env common.Envelope) error {
	// Encode outside the lock
	data, err := frame.Encode(env, t.serializer)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.stateMu.Lock()
	state, conn := t.state, t.conn
	t.stateMu.Unlock()

	switch state {
	case stateIdle:
		// Lazy connect, only for clients that were never connected
		if err := t.connect(ctx); err != nil {
			return err
		}
		t.stateMu.Lock()
		conn = t.conn
		t.stateMu.Unlock()
		if conn == nil {
			return common.ErrNotConnected
		}
	case stateDropped, stateClosed:
		return common.ErrNotConnected
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// Set write timeout
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else if t.config.TimeoutSecond > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Duration(t.config.TimeoutSecond) * time.Second))
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}

	if _, err := conn.Write(data); err != nil {
		t.drop(conn)
		return fmt.Errorf("failed to send frame to %s: %w", t.config.Transport.Endpoint, err)
	}
	return nil
}

func (t *clientTransport) Close() error {
	// Only stateMu is taken, so Close also interrupts a blocked write
	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	t.closes++
	if t.state == stateClosed {
		return nil
	}

	var err error
	if t.conn != nil {
		err = t.conn.Close()
		t.conn = nil
	}
	t.state = stateClosed

	Logger.Debugf("Closed %s client for %s", t.connector.GetName(), t.config.Transport.Endpoint)
	return err
}

func (t *clientTransport) Endpoint() string {
	return t.config.Transport.Endpoint
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// connect establishes the connection, writeMu must be held
func (t *clientTransport) connect(ctx context.Context) error {
	t.stateMu.Lock()
	if t.state == stateConnected {
		t.stateMu.Unlock()
		return nil
	}
	closes := t.closes
	t.stateMu.Unlock()

	endpoint := t.config.Transport.Endpoint

	// Dial timeout
	dialCtx := ctx
	if t.config.TimeoutSecond > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, time.Duration(t.config.TimeoutSecond)*time.Second)
		defer cancel()
	}

	conn, err := t.connector.Connect(dialCtx, endpoint)
	if err != nil {
		return &common.ConnectError{Endpoint: endpoint, Err: err}
	}

	// Upgrade the connection with protocol-specific settings
	if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
		_ = conn.Close()
		return &common.ConnectError{Endpoint: endpoint, Err: fmt.Errorf("failed to upgrade connection: %w", err)}
	}

	t.stateMu.Lock()
	if t.closes != closes {
		// Closed while dialing
		t.stateMu.Unlock()
		_ = conn.Close()
		Logger.Debugf("Discarding connection to %s, client closed while connecting", endpoint)
		return common.ErrNotConnected
	}
	t.conn = conn
	t.state = stateConnected
	t.stateMu.Unlock()

	Logger.Debugf("Connected to %s using %s transport", endpoint, t.connector.GetName())
	return nil
}

// drop marks the client as dropped after a failed write on conn
func (t *clientTransport) drop(conn net.Conn) {
	_ = conn.Close()

	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	// A concurrent Close or reconnect wins
	if t.conn != conn || t.state != stateConnected {
		return
	}
	t.conn = nil
	t.state = stateDropped

	Logger.Warningf("Connection to %s dropped", t.config.Transport.Endpoint)
}
