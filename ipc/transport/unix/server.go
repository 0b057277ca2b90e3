package unix

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/serializer"
	"github.com/ValentinKolb/dIPC/ipc/transport"
	"github.com/ValentinKolb/dIPC/ipc/transport/base"
	"net"
	"os"
	"sync"
	"syscall"
	"time"
)

// staleCheckTimeout bounds the dial used to detect a stale socket file
const staleCheckTimeout = time.Second

// serverConnector implements the IServerConnector interface for Unix sockets
type serverConnector struct {
	mu    sync.Mutex
	bound os.FileInfo // socket file created by Listen, nil before Listen and after Cleanup
}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "unix"
}

func (c *serverConnector) Listen(address string, config common.ServerConfig) (net.Listener, error) {
	if err := removeStaleSocket(address); err != nil {
		return nil, err
	}

	// Create Unix socket listener
	listener, err := net.Listen("unix", address)
	if err != nil {
		return nil, fmt.Errorf("failed to create Unix socket: %w", err)
	}

	// Restrict access to the socket file, this is the only access control
	if err := os.Chmod(address, os.FileMode(config.GetSocketMode())); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to set mode of %s: %w", address, err)
	}

	// Remember which file we created, Cleanup must not remove a successor's socket
	info, err := os.Lstat(address)
	if err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", address, err)
	}
	if ul, ok := listener.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}

	c.mu.Lock()
	c.bound = info
	c.mu.Unlock()

	return listener, nil
}

func (c *serverConnector) UpgradeConnection(conn net.Conn, config common.ServerConfig) error {
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}

	// Set socket read buffer size if configured
	if config.Transport.ReadBufferSize > 0 {
		if err := unixConn.SetReadBuffer(config.Transport.ReadBufferSize); err != nil {
			return err
		}
	}
	return nil
}

func (c *serverConnector) Cleanup(address string) error {
	c.mu.Lock()
	bound := c.bound
	c.bound = nil
	c.mu.Unlock()

	if bound == nil {
		return nil
	}

	current, err := os.Lstat(address)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to stat %s: %w", address, err)
	}

	// The path now belongs to another server
	if !os.SameFile(bound, current) {
		base.Logger.Warningf("Socket file %s was replaced, leaving it in place", address)
		return nil
	}

	if err := os.Remove(address); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// removeStaleSocket removes a socket file left behind by a dead process.
// A socket with a live listener or a file that is not a socket is never removed.
func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}

	conn, err := net.DialTimeout("unix", path, staleCheckTimeout)
	if err == nil {
		_ = conn.Close()
		return fmt.Errorf("socket %s is already in use by another process", path)
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		// Socket exists but nobody listens
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale socket %s: %w", path, err)
		}
		base.Logger.Infof("Removed stale socket file %s", path)
		return nil
	case errors.Is(err, syscall.ENOENT):
		// Removed between Lstat and Dial
		return nil
	default:
		return fmt.Errorf("cannot determine if socket %s is in use: %w", path, err)
	}
}

// --------------------------------------------------------------------------
// Server Transport Factory Method
// --------------------------------------------------------------------------

// NewUnixServerTransport creates a new Unix server transport
func NewUnixServerTransport(config common.ServerConfig, s serializer.IIPCSerializer) transport.IIPCServerTransport {
	return base.NewBaseServerTransport(&serverConnector{}, config, s)
}
