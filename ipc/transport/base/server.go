package base

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/frame"
	"github.com/ValentinKolb/dIPC/ipc/loop"
	"github.com/ValentinKolb/dIPC/ipc/serializer"
	"github.com/ValentinKolb/dIPC/ipc/transport"
	"github.com/puzpuzpuz/xsync/v3"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener bound to address and returns it
	Listen(address string, config common.ServerConfig) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error

	// Cleanup removes what Listen left behind for address (e.g. the socket file).
	// It is only called for listeners created by Listen, never for inherited ones.
	Cleanup(address string) error
}

// fileListener is implemented by *net.UnixListener and *net.TCPListener
type fileListener interface {
	File() (*os.File, error)
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector  IServerConnector
	config     common.ServerConfig
	serializer serializer.IIPCSerializer
	metrics    *serverMetrics

	// ctx is cancelled on Close, it unblocks connections waiting for queue space
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	address  string
	owned    bool // listener created by Listen (not inherited)
	attached bool
	closed   bool
	loop     *loop.Loop
	handler  transport.HandleFunc

	errHandler atomic.Pointer[transport.ErrorHandleFunc]

	conns      *xsync.MapOf[uint64, net.Conn]
	nextConnID atomic.Uint64
	wg         sync.WaitGroup
	readerPool sync.Pool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with the specified connector
func NewBaseServerTransport(connector IServerConnector, config common.ServerConfig, s serializer.IIPCSerializer) transport.IIPCServerTransport {
	ctx, cancel := context.WithCancel(context.Background())

	t := &serverTransport{
		connector:  connector,
		config:     config,
		serializer: s,
		metrics:    newServerMetrics(connector.GetName()),
		ctx:        ctx,
		cancel:     cancel,
		conns:      xsync.NewMapOf[uint64, net.Conn](),
	}

	maxFrameSize := config.GetMaxFrameSize()
	bufferSize := config.GetReadBufferSize()
	t.readerPool.New = func() interface{} {
		return frame.NewReader(nil, s, maxFrameSize, bufferSize)
	}
	return t
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IIPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterErrorHandler(handler transport.ErrorHandleFunc) {
	t.errHandler.Store(&handler)
}

func (t *serverTransport) Start(address string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return common.ErrClosed
	}
	if t.listener != nil {
		return common.ErrAlreadyStarted
	}

	// Create listener using the connector
	listener, err := t.connector.Listen(address, t.config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	t.listener = listener
	t.address = address
	t.owned = true

	Logger.Infof("Listening on %s (%s)", listener.Addr().String(), t.connector.GetName())
	return nil
}

func (t *serverTransport) PreFork() error {
	if t.config.Transport.Endpoint == "" {
		return fmt.Errorf("no endpoint configured")
	}
	return t.Start(t.config.Transport.Endpoint)
}

func (t *serverTransport) ListenerFile() (*os.File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener == nil {
		return nil, common.ErrNotStarted
	}

	fl, ok := t.listener.(fileListener)
	if !ok {
		return nil, fmt.Errorf("%s listener does not expose a file descriptor", t.connector.GetName())
	}
	return fl.File()
}

func (t *serverTransport) Inherit(f *os.File) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return common.ErrClosed
	}
	if t.listener != nil {
		return common.ErrAlreadyStarted
	}

	// FileListener duplicates the descriptor, the file itself is not needed afterwards
	listener, err := net.FileListener(f)
	if err != nil {
		return fmt.Errorf("failed to adopt inherited listener: %w", err)
	}
	_ = f.Close()

	t.listener = listener
	t.address = listener.Addr().String()
	t.owned = false

	Logger.Infof("Adopted inherited listener on %s (%s)", t.address, t.connector.GetName())
	return nil
}

func (t *serverTransport) PostFork(l *loop.Loop, handler transport.HandleFunc) error {
	if l == nil || handler == nil {
		return fmt.Errorf("loop and handler are required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return common.ErrClosed
	}
	if t.listener == nil {
		return common.ErrNotStarted
	}
	if t.attached {
		return common.ErrAlreadyStarted
	}

	t.attached = true
	t.loop = l
	t.handler = handler

	Logger.Infof("Accepting connections on %s with loop %d", t.listener.Addr().String(), l.ID())

	t.wg.Add(1)
	go t.acceptLoop(t.listener)
	return nil
}

func (t *serverTransport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

func (t *serverTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	listener, owned, address := t.listener, t.owned, t.address
	t.mu.Unlock()

	t.cancel()

	// Stop accepting
	var err error
	if listener != nil {
		if cerr := listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = fmt.Errorf("failed to close listener: %w", cerr)
		}
	}

	// Close live connections, their goroutines exit on the read error
	t.conns.Range(func(_ uint64, conn net.Conn) bool {
		_ = conn.Close()
		return true
	})

	t.wg.Wait()

	if listener != nil && owned {
		if cerr := t.connector.Cleanup(address); cerr != nil {
			Logger.Warningf("Failed to clean up %s: %v", address, cerr)
		}
	}

	Logger.Infof("Closed %s endpoint %s", t.connector.GetName(), address)
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// acceptLoop accepts connections until the listener is closed
func (t *serverTransport) acceptLoop(listener net.Listener) {
	defer t.wg.Done()

	var delay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || t.isClosed() {
				return
			}

			// Back off on temporary failures (e.g. too many open files)
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			Logger.Errorf("Accept error: %v; retrying in %v", err, delay)
			time.Sleep(delay)
			continue
		}
		delay = 0

		if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
			Logger.Warningf("Failed to upgrade connection: %v", err)
		}

		// Register the connection unless Close is already running
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		id := t.nextConnID.Add(1)
		remote := t.remoteName(id, conn)
		t.conns.Store(id, conn)
		t.wg.Add(1)
		t.mu.Unlock()

		t.metrics.accepted.Inc()
		t.metrics.active.Inc()

		// Handle the connection in a goroutine
		go t.handleConnection(id, conn, remote)
	}
}

// handleConnection reads frames of one connection and dispatches them to the loop
func (t *serverTransport) handleConnection(id uint64, conn net.Conn, remote string) {
	defer func() {
		_ = conn.Close()
		t.conns.Delete(id)
		t.metrics.active.Dec()
		t.wg.Done()
	}()

	Logger.Debugf("Accepted connection %s", remote)

	// Timeout in seconds
	timeout := time.Duration(t.config.TimeoutSecond) * time.Second

	// Get a reader from the pool
	reader := t.readerPool.Get().(*frame.Reader)
	reader.Reset(conn)
	defer func() {
		reader.Reset(nil)
		t.readerPool.Put(reader)
	}()

	for {
		if timeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				t.fail(remote, fmt.Errorf("failed to set read deadline: %w", err))
				return
			}
		}

		env, n, err := reader.Next()

		// Case EOF: Connection closed by client
		if err == io.EOF {
			Logger.Debugf("Connection %s closed by peer", remote)
			return
		}

		// Case error: log and close connection
		if err != nil {
			if t.isClosed() {
				return
			}
			t.fail(remote, err)
			return
		}

		t.metrics.frameReceived(n)

		// Dispatch to the loop, blocks while the worker queue is full. Keyed by
		// connection so the frames of one connection stay in wire order.
		if err := t.loop.SpawnKeyed(t.ctx, id, func(ctx context.Context) {
			t.handler(ctx, env)
		}); err != nil {
			if !t.isClosed() {
				Logger.Warningf("Dropping connection %s: %v", remote, err)
			}
			return
		}
	}
}

// fail records a connection failure and notifies the error handler
func (t *serverTransport) fail(remote string, err error) {
	t.metrics.frameError(err)
	Logger.Errorf("Closing connection %s: %v", remote, err)

	if h := t.errHandler.Load(); h != nil && *h != nil {
		(*h)(remote, err)
	}
}

// isClosed reports whether Close has been called
func (t *serverTransport) isClosed() bool {
	return t.ctx.Err() != nil
}

// remoteName returns a printable name for a connection. Unix peers are usually
// unnamed, so an id is used instead.
func (t *serverTransport) remoteName(id uint64, conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil && addr.String() != "" && addr.String() != "@" {
		return fmt.Sprintf("%s#%d", addr.String(), id)
	}
	return fmt.Sprintf("%s#%d", t.connector.GetName(), id)
}
