package base

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/frame"
	"github.com/ValentinKolb/dIPC/ipc/serializer"
	"github.com/ValentinKolb/dIPC/ipc/transport"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

// pipeConnector hands out one end of a net.Pipe per Connect
type pipeConnector struct {
	peers   chan net.Conn
	dials   atomic.Int32
	failure error
}

func newPipeConnector() *pipeConnector {
	return &pipeConnector{peers: make(chan net.Conn, 8)}
}

func (c *pipeConnector) GetName() string {
	return "pipe"
}

func (c *pipeConnector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	c.dials.Add(1)
	if c.failure != nil {
		return nil, c.failure
	}
	client, server := net.Pipe()
	c.peers <- server
	return client, nil
}

func (c *pipeConnector) UpgradeConnection(net.Conn, common.ClientConfig) error {
	return nil
}

// peer returns the server end of the last connection
func (c *pipeConnector) peer(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-c.peers:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("No connection was made")
		return nil
	}
}

// TestClientLazyConnect tests that an idle client connects on the first send
func TestClientLazyConnect(t *testing.T) {
	connector := newPipeConnector()
	s := serializer.NewMsgpackSerializer()
	client := NewBaseClientTransport(connector, common.ClientConfig{
		Transport: common.ClientTransportConfig{Endpoint: "pipe"},
	}, s)
	defer client.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Send(context.Background(), common.NewEnvelope("lazy"))
	}()

	// net.Pipe is synchronous, the write completes while the peer reads
	fr := frame.NewReader(connector.peer(t), s, 0, 1024)
	env, _, err := fr.Next()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	if env.Body != "lazy" {
		t.Errorf("Expected 'lazy', got %v", env.Body)
	}
	if err := <-errCh; err != nil {
		t.Errorf("Send failed: %v", err)
	}
	if connector.dials.Load() != 1 {
		t.Errorf("Expected 1 dial, got %d", connector.dials.Load())
	}
}

// TestClientDropOnWriteError tests the dropped state after a failed write
func TestClientDropOnWriteError(t *testing.T) {
	connector := newPipeConnector()
	client := NewBaseClientTransport(connector, common.ClientConfig{}, serializer.NewMsgpackSerializer())
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	_ = connector.peer(t).Close()

	if err := client.Send(context.Background(), common.NewEnvelope("x")); err == nil {
		t.Fatal("Expected write error")
	}
	if err := client.Send(context.Background(), common.NewEnvelope("x")); !errors.Is(err, common.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}

	// No lazy reconnect from the dropped state
	if connector.dials.Load() != 1 {
		t.Errorf("Expected 1 dial, got %d", connector.dials.Load())
	}
}

// TestClientCloseInterruptsSend tests that Close unblocks a pending write
func TestClientCloseInterruptsSend(t *testing.T) {
	connector := newPipeConnector()
	client := NewBaseClientTransport(connector, common.ClientConfig{}, serializer.NewMsgpackSerializer())

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	peer := connector.peer(t) // never read from
	defer peer.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Send(context.Background(), common.NewEnvelope("blocked"))
	}()

	time.Sleep(50 * time.Millisecond)
	if err := client.Close(); err != nil {
		t.Errorf("Failed to close: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("Expected error from interrupted send")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not interrupt the send")
	}

	if err := client.Send(context.Background(), common.NewEnvelope("x")); !errors.Is(err, common.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected after close, got %v", err)
	}
}

// gatedConnector blocks every Connect until release is closed
type gatedConnector struct {
	pipeConnector
	started chan struct{}
	release chan struct{}
}

func newGatedConnector() *gatedConnector {
	return &gatedConnector{
		pipeConnector: pipeConnector{peers: make(chan net.Conn, 8)},
		started:       make(chan struct{}, 8),
		release:       make(chan struct{}),
	}
}

func (c *gatedConnector) Connect(ctx context.Context, endpoint string) (net.Conn, error) {
	c.started <- struct{}{}
	<-c.release
	return c.pipeConnector.Connect(ctx, endpoint)
}

// TestClientCloseDuringConnect tests that a Close while dialing wins over the dial
func TestClientCloseDuringConnect(t *testing.T) {
	testCases := []struct {
		name string
		op   func(client transport.IIPCClientTransport) error
	}{
		{"LazySend", func(c transport.IIPCClientTransport) error {
			return c.Send(context.Background(), common.NewEnvelope("x"))
		}},
		{"Connect", func(c transport.IIPCClientTransport) error {
			return c.Connect(context.Background())
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			connector := newGatedConnector()
			client := NewBaseClientTransport(connector, common.ClientConfig{}, serializer.NewMsgpackSerializer())

			errCh := make(chan error, 1)
			go func() {
				errCh <- tc.op(client)
			}()

			select {
			case <-connector.started:
			case <-time.After(5 * time.Second):
				t.Fatal("Dial did not start")
			}

			if err := client.Close(); err != nil {
				t.Errorf("Failed to close: %v", err)
			}
			close(connector.release)

			select {
			case err := <-errCh:
				if !errors.Is(err, common.ErrNotConnected) {
					t.Errorf("Expected ErrNotConnected from the pending operation, got %v", err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("Pending operation did not return")
			}

			// The connection dialed after Close is not kept
			peer := connector.peer(t)
			defer peer.Close()
			_ = peer.SetReadDeadline(time.Now().Add(5 * time.Second))
			if _, err := peer.Read(make([]byte, 1)); err != io.EOF {
				t.Errorf("Expected EOF on the discarded connection, got %v", err)
			}

			// The client stays closed
			if err := client.Send(context.Background(), common.NewEnvelope("x")); !errors.Is(err, common.ErrNotConnected) {
				t.Errorf("Expected ErrNotConnected after close, got %v", err)
			}
			if connector.dials.Load() != 1 {
				t.Errorf("Expected 1 dial, got %d", connector.dials.Load())
			}
		})
	}
}

// TestClientConnectError tests the error type of a failed dial
func TestClientConnectError(t *testing.T) {
	connector := newPipeConnector()
	connector.failure = errors.New("refused")
	client := NewBaseClientTransport(connector, common.ClientConfig{
		Transport: common.ClientTransportConfig{Endpoint: "nowhere"},
	}, serializer.NewMsgpackSerializer())

	err := client.Connect(context.Background())
	var connErr *common.ConnectError
	if !errors.As(err, &connErr) {
		t.Fatalf("Expected *common.ConnectError, got %T: %v", err, err)
	}
	if connErr.Endpoint != "nowhere" || !errors.Is(err, connector.failure) {
		t.Errorf("Unexpected connect error: %v", err)
	}
}

// TestSendContextDone tests that a cancelled context is honoured before writing
func TestSendContextDone(t *testing.T) {
	connector := newPipeConnector()
	client := NewBaseClientTransport(connector, common.ClientConfig{}, serializer.NewMsgpackSerializer())
	defer client.Close()

	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer connector.peer(t).Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.Send(ctx, common.NewEnvelope("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

// TestErrorReason tests the metric labels of connection failures
func TestErrorReason(t *testing.T) {
	testCases := []struct {
		err      error
		expected string
	}{
		{&frame.FramingError{Reason: frame.ErrMalformedLength}, "malformed_length"},
		{&frame.FramingError{Reason: frame.ErrTruncatedFrame}, "truncated_frame"},
		{&frame.FramingError{Reason: frame.ErrCorruptPayload, Err: errors.New("x")}, "corrupt_payload"},
		{fmt.Errorf("wrapped: %w", &frame.FramingError{Reason: frame.ErrFrameTooLarge}), "frame_too_large"},
		{&net.OpError{Op: "read", Err: timeoutError{}}, "timeout"},
		{errors.New("connection reset"), "io"},
	}

	for _, tc := range testCases {
		if got := errorReason(tc.err); got != tc.expected {
			t.Errorf("errorReason(%v) = %s, expected %s", tc.err, got, tc.expected)
		}
	}
}

// timeoutError is a net.Error reporting a timeout
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }
