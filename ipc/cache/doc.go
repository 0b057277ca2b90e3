// Package cache implements the connection cache of dIPC: clients are shared per
// (loop, endpoint) so that code running on the same worker loop reuses one
// connection instead of opening a new socket for every message.
//
// Key Components:
//
//   - Registry: Maps a Key (loop id, endpoint) to a reference counted client.
//     Creation is atomic per key (xsync.MapOf.Compute), so concurrent callers
//     never create two clients for the same key.
//
//   - Handle: A reference to a cached client. Release decrements the reference
//     count; the last release closes the client and removes the entry, a later
//     GetOrCreate creates a new instance.
//
// Loop Scope:
//
//	On the first use of a loop the registry registers an OnClose hook. When the
//	loop closes, all its clients are closed and removed, outstanding handles then
//	return common.ErrNotConnected on Send. GetOrCreate on a closed loop returns
//	loop.ErrLoopClosed.
//
// Usage:
//
//	registry := cache.NewRegistry(func(endpoint string) transport.IIPCClientTransport {
//		cfg := config
//		cfg.Transport.Endpoint = endpoint
//		return unix.NewUnixClientTransport(cfg, serializer.NewMsgpackSerializer())
//	})
//	h, err := registry.GetOrCreate(l, "/var/run/dipc/master.sock")
//	defer h.Release()
//	err = h.Send(ctx, common.NewEnvelope(payload))
package cache
