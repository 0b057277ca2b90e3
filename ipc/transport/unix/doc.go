// Package unix implements the primary dIPC transport using Unix domain sockets.
// Access control is done through the file mode of the socket file (default 0660),
// so only the owner and the group of the daemon can connect.
//
// This package extends the base transport layer with Unix socket-specific connectors
// while inheriting all core functionality like framing, dispatching and error
// handling from the base package.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners. An existing socket file is
//     checked first: a stale socket (connection refused) is removed, a socket with
//     a live listener or a path that is not a socket is an error.
//
// Socket files are removed on Close only by the endpoint that created them, and
// only while the path still refers to the same file. A socket that was replaced
// by another server in the meantime is left alone. A worker process that
// inherited the listener never removes the path.
package unix
