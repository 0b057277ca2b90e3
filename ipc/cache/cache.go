package cache

import (
	"context"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/loop"
	"github.com/ValentinKolb/dIPC/ipc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
)

var Logger = logger.GetLogger("ipc/cache")

// ClientFactory creates an idle client for endpoint
type ClientFactory func(endpoint string) transport.IIPCClientTransport

// Key identifies a cached client: one per loop and endpoint
type Key struct {
	LoopID   uint64
	Endpoint string
}

// entry is a cached client with its reference count
type entry struct {
	client transport.IIPCClientTransport
	refs   int
}

// Registry caches clients per (loop, endpoint). Callers share one client
// while they hold a Handle; the client is closed when the last Handle is
// released or the loop closes.
type Registry struct {
	factory ClientFactory
	entries *xsync.MapOf[Key, *entry]
	loops   *xsync.MapOf[uint64, *loop.Loop] // loops with a registered close hook
}

// NewRegistry creates an empty registry using factory to create clients
func NewRegistry(factory ClientFactory) *Registry {
	return &Registry{
		factory: factory,
		entries: xsync.NewMapOf[Key, *entry](),
		loops:   xsync.NewMapOf[uint64, *loop.Loop](),
	}
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// GetOrCreate returns a handle to the client for endpoint scoped to l. Concurrent
// callers with the same key get the same client; it is created exactly once.
func (r *Registry) GetOrCreate(l *loop.Loop, endpoint string) (*Handle, error) {
	if l.Closed() {
		return nil, loop.ErrLoopClosed
	}

	// Drop the loop's entries when it closes, registered once per loop
	if _, loaded := r.loops.LoadOrStore(l.ID(), l); !loaded {
		id := l.ID()
		l.OnClose(func() { r.DropLoop(id) })
	}

	key := Key{LoopID: l.ID(), Endpoint: endpoint}

	// Compute runs atomically per key, so the client is created once
	e, _ := r.entries.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		if loaded {
			old.refs++
			return old, false
		}
		Logger.Debugf("Creating client for %s on loop %d", endpoint, key.LoopID)
		return &entry{client: r.factory(endpoint), refs: 1}, false
	})

	// The loop may have closed (and dropped its entries) in the meantime
	if l.Closed() {
		h := &Handle{registry: r, key: key, entry: e}
		h.Release()
		return nil, loop.ErrLoopClosed
	}

	return &Handle{registry: r, key: key, entry: e}, nil
}

// DropLoop closes and removes all clients scoped to the loop with the given id.
// The close hook of an open loop stays registered, so it is not added twice
// when the loop is used again.
func (r *Registry) DropLoop(loopID uint64) {
	r.entries.Range(func(key Key, e *entry) bool {
		if key.LoopID != loopID {
			return true
		}

		// Remove only the entry we saw, a concurrent release may have replaced it
		r.entries.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
			if loaded && old == e {
				r.closeClient(key, old)
				return nil, true
			}
			return old, !loaded
		})
		return true
	})

	r.loops.Compute(loopID, func(l *loop.Loop, loaded bool) (*loop.Loop, bool) {
		if loaded && !l.Closed() {
			return l, false
		}
		return nil, true
	})
}

// Len returns the number of cached clients
func (r *Registry) Len() int {
	return r.entries.Size()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// release decrements the reference count of e and closes it at zero
func (r *Registry) release(key Key, e *entry) {
	r.entries.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded || old != e {
			// Already dropped (loop closed) or replaced by a new instance
			return old, !loaded
		}
		old.refs--
		if old.refs > 0 {
			return old, false
		}
		r.closeClient(key, old)
		return nil, true
	})
}

// closeClient closes the client of an entry that is removed from the registry
func (r *Registry) closeClient(key Key, e *entry) {
	if err := e.client.Close(); err != nil {
		Logger.Warningf("Failed to close client for %s on loop %d: %v", key.Endpoint, key.LoopID, err)
	}
}

// --------------------------------------------------------------------------
// Handle
// --------------------------------------------------------------------------

// Handle is a reference to a cached client. It must be released exactly once;
// further calls to Release are no-ops.
type Handle struct {
	registry *Registry
	key      Key
	entry    *entry
	once     sync.Once
}

// Send sends env through the shared client, see transport.IIPCClientTransport
func (h *Handle) Send(ctx context.Context, env common.Envelope) error {
	return h.entry.client.Send(ctx, env)
}

// Connect connects the shared client, see transport.IIPCClientTransport
func (h *Handle) Connect(ctx context.Context) error {
	return h.entry.client.Connect(ctx)
}

// Endpoint returns the endpoint of the shared client
func (h *Handle) Endpoint() string {
	return h.key.Endpoint
}

// Client returns the shared client
func (h *Handle) Client() transport.IIPCClientTransport {
	return h.entry.client
}

// Release gives up this reference
func (h *Handle) Release() {
	h.once.Do(func() {
		h.registry.release(h.key, h.entry)
	})
}
