// Package base provides the foundation of the dIPC transport layer, implementing
// the listening and connecting endpoints independent of the specific socket type
// (Unix sockets, TCP loopback). It is extended with protocol-specific connectors.
//
// The package focuses on:
//   - Protocol-agnostic client and server transport implementations
//   - Frame based, fire and forget message delivery (see package frame)
//   - The prefork model: bind once, hand the descriptor to worker processes
//   - Failure isolation: a broken connection never affects other connections
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different socket types.
//
//   - clientTransport: Connecting endpoint with a single connection. States are
//     idle, connected, dropped and closed. Only an idle client connects lazily on
//     Send; a dropped or closed client returns common.ErrNotConnected until Connect
//     is called again. There are no automatic retries.
//
//   - serverTransport: Listening endpoint. One goroutine per accepted connection
//     decodes frames and spawns the handler on the worker loop, keyed by the
//     connection id so its frames are handled in wire order. A framing error
//     closes only the affected connection and is reported to the error handler.
//
// Performance Optimizations:
//
//   - Reader Pooling: The server keeps frame readers (and their buffers) in a
//     sync.Pool, reducing GC pressure for short lived connections.
//
//   - Backpressure: Spawning on a full loop queue blocks the reading goroutine, so
//     a bursty sender is slowed down by the socket buffers instead of growing memory.
//
// Metrics:
//
//	The server exports process wide VictoriaMetrics counters per transport type:
//	ipc_connections_accepted_total, ipc_connections_active, ipc_frames_received_total,
//	ipc_frames_received_bytes_total, ipc_frame_errors_total{reason} and the
//	ipc_frame_size_bytes histogram.
//
// Thread Safety:
//
//	All public methods are thread-safe. Writes of a client are serialized by a
//	mutex, Close may be called concurrently with Send and interrupts it.
package base
