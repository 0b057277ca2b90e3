// Package cmd implements the command-line interface of dIPC. It provides a
// hierarchical command structure for running a server and talking to it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Commands for starting a server, in process or as prefork workers (serve, worker)
//   - send: Command for sending messages and events to a server
//   - perf: Performance testing tool for running servers
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dipc -help for a list of all commands.
package cmd
