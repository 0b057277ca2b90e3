// Package common provides core data structures and utilities shared across
// the dIPC transport. It defines the message envelope, the configuration
// structures and the errors used by the other packages.
//
// The package focuses on:
//   - Envelope definition for all messages exchanged over a local endpoint
//   - Configuration structures for server, client, loop and prefork components
//   - Custom logging implementation integrated with Dragonboat's logger facade
//   - Errors shared by servers, clients and the connection cache
//
// Key Components:
//
//   - Envelope: The logical message unit. Carries an opaque Body (any value the
//     serializer can encode) plus optional string metadata used for routing.
//
//   - ServerConfig: Configuration of a listening endpoint, including the endpoint
//     address, the maximum accepted frame size and socket settings.
//
//   - ClientConfig: Configuration of a connecting endpoint, controlling the dial
//     and write timeout and socket settings.
//
//   - LoopConfig / PreforkConfig: Sizing of the dispatch loop and of the prefork
//     worker pool.
//
//   - Logger: Custom logging implementation that plugs into Dragonboat's logging
//     system while providing consistent formatting across the application.
package common
