package common

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// Defaults applied when a config field is left at its zero value
const (
	DefaultMaxFrameSize      = 16 * 1024 * 1024 // 16 MiB
	DefaultReadBufferSize    = 64 * 1024        // 64 KB
	DefaultSocketMode        = 0660
	DefaultLoopQueueSize     = 1024
	DefaultStopTimeoutSecond = 10
)

// --------------------------------------------------------------------------
// Shared socket configuration
// --------------------------------------------------------------------------

// SocketConf holds socket buffer settings (applied where the transport supports them)
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
}

// TCPConf holds settings that only apply to the tcp fallback transport
type TCPConf struct {
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerTransportConfig holds the transport related settings of a listening endpoint
type ServerTransportConfig struct {
	// Endpoint is the socket path (unix) or host:port (tcp) used by PreFork
	Endpoint string
	// MaxFrameSize is the largest declared frame length accepted (<= 0: DefaultMaxFrameSize)
	MaxFrameSize int
	// SocketMode is the file mode applied to a unix socket file (0: DefaultSocketMode)
	SocketMode uint32
	SocketConf
	TCPConf
}

// ServerConfig holds all configuration parameters for a listening endpoint
type ServerConfig struct {
	Transport ServerTransportConfig

	// Idle read timeout per connection, 0 disables it
	TimeoutSecond int64

	// Logging configuration
	LogLevel string
}

// GetMaxFrameSize returns the configured frame limit or the default
func (c *ServerConfig) GetMaxFrameSize() int {
	if c.Transport.MaxFrameSize <= 0 {
		return DefaultMaxFrameSize
	}
	return c.Transport.MaxFrameSize
}

// GetReadBufferSize returns the configured read buffer size or the default
func (c *ServerConfig) GetReadBufferSize() int {
	if c.Transport.ReadBufferSize <= 0 {
		return DefaultReadBufferSize
	}
	return c.Transport.ReadBufferSize
}

// GetSocketMode returns the configured socket mode or the default
func (c *ServerConfig) GetSocketMode() uint32 {
	if c.Transport.SocketMode == 0 {
		return DefaultSocketMode
	}
	return c.Transport.SocketMode
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// IPC settings
	addSection("IPC Server")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Max Frame Size", fmt.Sprintf("%d bytes", c.GetMaxFrameSize()))
	addField("Socket Mode", fmt.Sprintf("%#o", c.GetSocketMode()))
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.GetReadBufferSize()))
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientTransportConfig holds the transport related settings of a connecting endpoint
type ClientTransportConfig struct {
	// Endpoint is the socket path (unix) or host:port (tcp) to connect to
	Endpoint string
	SocketConf
	TCPConf
}

// ClientConfig holds all configuration parameters for a connecting endpoint
type ClientConfig struct {
	Transport ClientTransportConfig

	// Dial and write timeout, 0 disables it
	TimeoutSecond int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Endpoint", c.Transport.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Write Buffer", strconv.Itoa(c.Transport.WriteBufferSize))

	return sb.String()
}

// --------------------------------------------------------------------------
// Loop and prefork configuration structs
// --------------------------------------------------------------------------

// LoopConfig sizes the dispatch loop of a process
type LoopConfig struct {
	// Number of goroutines executing handlers (<= 0: runtime.NumCPU())
	Workers int
	// Capacity of the task queue (<= 0: DefaultLoopQueueSize)
	QueueSize int
}

// GetWorkers returns the configured worker count or the default
func (c LoopConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return runtime.NumCPU()
	}
	return c.Workers
}

// GetQueueSize returns the configured queue size or the default
func (c LoopConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return DefaultLoopQueueSize
	}
	return c.QueueSize
}

// PreforkConfig sizes the prefork worker pool
type PreforkConfig struct {
	// Number of worker processes to spawn
	Workers int
	// Grace period between SIGTERM and SIGKILL on Stop (<= 0: DefaultStopTimeoutSecond)
	StopTimeoutSecond int
}

// String returns a formatted string representation of the prefork configuration
func (c PreforkConfig) String() string {
	return fmt.Sprintf("\nPREFORK\n  %-22s: %d\n  %-22s: %d sec\n",
		"Workers", c.Workers, "Stop Timeout", c.StopTimeoutSecond)
}
