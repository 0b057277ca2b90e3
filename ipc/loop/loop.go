package loop

import (
	"context"
	"errors"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/rcrowley/go-metrics"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("ipc/loop")

// ErrLoopClosed is returned when a task is spawned on (or a resource is bound to) a closed loop
var ErrLoopClosed = errors.New("ipc: loop closed")

// lastID is the source of loop ids, 0 is never handed out
var lastID atomic.Uint64

// Task is a unit of work executed on the loop. The context is cancelled when the loop closes.
type Task func(ctx context.Context)

// Loop is a set of worker goroutines, each consuming its own bounded queue.
// Tasks spawned with the same key always land on the same worker.
type Loop struct {
	id     uint64
	ctx    context.Context
	cancel context.CancelFunc
	queues []chan Task
	next   atomic.Uint64 // round robin key of Spawn
	wg     sync.WaitGroup

	hooksMu sync.Mutex
	hooks   []func()
	closed  bool

	closeOnce sync.Once

	// Statistics
	registry metrics.Registry
	timer    metrics.Timer
	panics   metrics.Counter
}

// Stats is a snapshot of the loop statistics
type Stats struct {
	// Handled is the number of tasks that ran to completion or panicked
	Handled int64
	// Panics is the number of recovered task panics
	Panics int64
	// QueueDepth is the number of tasks waiting for a worker
	QueueDepth int
	// MeanHandlerTime is the mean task duration
	MeanHandlerTime time.Duration
}

// New creates and starts a loop
func New(config common.LoopConfig) *Loop {
	ctx, cancel := context.WithCancel(context.Background())

	workers := config.GetWorkers()

	// The queue size is split between the workers
	perWorker := (config.GetQueueSize() + workers - 1) / workers

	l := &Loop{
		id:       lastID.Add(1),
		ctx:      ctx,
		cancel:   cancel,
		queues:   make([]chan Task, workers),
		registry: metrics.NewRegistry(),
		timer:    metrics.NewTimer(),
		panics:   metrics.NewCounter(),
	}
	for i := range l.queues {
		l.queues[i] = make(chan Task, perWorker)
	}

	_ = l.registry.Register("handler", l.timer)
	_ = l.registry.Register("panics", l.panics)
	_ = l.registry.Register("queue.depth", metrics.NewFunctionalGauge(func() int64 {
		return int64(l.queueDepth())
	}))

	l.wg.Add(workers)
	for _, q := range l.queues {
		go l.work(q)
	}

	Logger.Debugf("Loop %d started with %d workers and a queue of %d per worker", l.id, workers, perWorker)
	return l
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// ID returns the process unique id of the loop
func (l *Loop) ID() uint64 {
	return l.id
}

// Context returns a context that is cancelled when the loop closes
func (l *Loop) Context() context.Context {
	return l.ctx
}

// Closed reports whether Close has been called
func (l *Loop) Closed() bool {
	return l.ctx.Err() != nil
}

// Spawn enqueues a task on the next worker (round robin), see SpawnKeyed
func (l *Loop) Spawn(ctx context.Context, task Task) error {
	return l.SpawnKeyed(ctx, l.next.Add(1), task)
}

// SpawnKeyed enqueues a task on the worker selected by key. Tasks with the
// same key run one after another in spawn order. It blocks while the queue of
// that worker is full and returns ErrLoopClosed if the loop is (or gets) closed
// before the task was queued, or ctx.Err() if ctx is done first.
func (l *Loop) SpawnKeyed(ctx context.Context, key uint64, task Task) error {
	if l.ctx.Err() != nil {
		return ErrLoopClosed
	}

	select {
	case l.queues[key%uint64(len(l.queues))] <- task:
		return nil
	case <-l.ctx.Done():
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnClose registers fn to run when the loop closes. Hooks run in reverse
// registration order. If the loop is already closed fn runs immediately.
func (l *Loop) OnClose(fn func()) {
	l.hooksMu.Lock()
	if l.closed {
		l.hooksMu.Unlock()
		fn()
		return
	}
	l.hooks = append(l.hooks, fn)
	l.hooksMu.Unlock()
}

// Close stops the loop: the context is cancelled, queued tasks that did not
// start are discarded, the hooks run and Close waits for running tasks.
// Calling Close more than once is a no-op.
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		l.cancel()

		l.hooksMu.Lock()
		l.closed = true
		hooks := l.hooks
		l.hooks = nil
		l.hooksMu.Unlock()

		for i := len(hooks) - 1; i >= 0; i-- {
			l.runHook(hooks[i])
		}

		l.wg.Wait()
		Logger.Debugf("Loop %d closed", l.id)
	})
}

// Stats returns a snapshot of the loop statistics
func (l *Loop) Stats() Stats {
	snapshot := l.timer.Snapshot()
	return Stats{
		Handled:         snapshot.Count(),
		Panics:          l.panics.Snapshot().Count(),
		QueueDepth:      l.queueDepth(),
		MeanHandlerTime: time.Duration(snapshot.Mean()),
	}
}

// Registry returns the go-metrics registry holding the loop statistics
func (l *Loop) Registry() metrics.Registry {
	return l.registry
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// queueDepth sums the lengths of all worker queues
func (l *Loop) queueDepth() int {
	depth := 0
	for _, q := range l.queues {
		depth += len(q)
	}
	return depth
}

// work executes the tasks of queue q until the loop closes
func (l *Loop) work(q chan Task) {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		case task := <-q:
			l.run(task)
		}
	}
}

// run executes one task and recovers a panic
func (l *Loop) run(task Task) {
	start := time.Now()
	defer func() {
		l.timer.UpdateSince(start)
		if r := recover(); r != nil {
			l.panics.Inc(1)
			Logger.Errorf("Loop %d: recovered panic in task: %v\n%s", l.id, r, debug.Stack())
		}
	}()

	task(l.ctx)
}

// runHook executes a teardown hook, a panicking hook does not stop the others
func (l *Loop) runHook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("Loop %d: recovered panic in close hook: %v", l.id, r)
		}
	}()
	fn()
}
