// Package transport defines the interfaces of the dIPC transport layer. It provides
// a common contract for listening and connecting endpoints, so the Unix socket
// transport and its TCP loopback fallback are interchangeable.
//
// The package focuses on:
//   - Defining clear interfaces for client and server transport layers
//   - Supporting the prefork model (bind in the parent, accept in the workers)
//   - Fire and forget message delivery on a worker loop
//
// Key Components:
//
//   - IIPCClientTransport: Interface for connecting endpoints that send envelopes.
//
//   - IIPCServerTransport: Interface for listening endpoints that receive envelopes
//     and dispatch them to a handler on a loop.
//
//   - HandleFunc / ErrorHandleFunc: Callback types for decoded envelopes and
//     per connection failures.
//
// Server lifecycle:
//
//	unbound -> Start/PreFork/Inherit -> bound -> PostFork -> accepting -> Close -> closed
package transport
