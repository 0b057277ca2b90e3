// Package tcp implements the TCP loopback fallback of the dIPC transport, for
// platforms or deployments where Unix domain sockets are not available. Endpoints
// use the address form host:port; binding to a loopback address is the caller's
// responsibility, the channel is neither encrypted nor authenticated.
//
// This package builds on the base package's transport functionality. See the base
// package documentation for the framing, dispatching and error handling.
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of base.IClientConnector
//
//   - serverConnector: TCP-specific implementation of base.IServerConnector
//
// Both sides apply the TCPConf and SocketConf settings (no delay, keep-alive,
// linger, socket buffer sizes) to every connection.
package tcp
