// Package events connects the dIPC transport to publish/subscribe consumers.
//
// Collaborators such as a reactor or a returner do not read sockets themselves,
// they subscribe to topics. The Bridge is a server handler that republishes every
// received envelope on a watermill publisher:
//
//   - the topic is the envelope tag (DefaultTopic for untagged envelopes)
//   - the message UUID is the envelope id, or a new ULID
//   - the payload is the body encoded as JSON, the metadata is copied
//
// FireEvent is the sending counterpart: it wraps data in a tagged envelope with
// a fresh ULID and the Origin of this process and sends it through any Sender
// (a client transport or a cache handle).
//
// NewGoChannel returns watermill's in-process pub/sub, logging through the
// ipc/events logger.
package events
