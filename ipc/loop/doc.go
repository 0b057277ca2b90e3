// Package loop provides the dispatch loop of a dIPC process.
//
// A Loop is the execution context that handlers of a listening endpoint run on.
// Every worker process of a prefork setup owns exactly one Loop; client
// connections cached through the cache package are scoped to it.
//
// Key Components:
//
//   - Loop: A fixed number of goroutines, each with its own bounded task queue.
//     SpawnKeyed picks the worker by key, Spawn round robin. Spawning blocks while
//     the queue is full, which applies backpressure to the producing connection
//     instead of buffering without limit. Panics of a task are recovered and counted.
//
//   - OnClose: Teardown hooks, executed in reverse registration order when the
//     loop is closed. The connection cache uses them to drop its entries.
//
//   - Stats: Per-loop statistics (handler timer, panic counter, queue depth)
//     kept in a go-metrics registry.
//
// Ordering:
//
//	Tasks spawned with the same key run on one worker, one after another, in
//	spawn order. Listening endpoints use the connection id as key, so the frames
//	of a connection reach the handler in wire order while different connections
//	are handled in parallel. Tasks with different keys have no defined order.
package loop
