package prefork

import (
	"context"
	"errors"
	"fmt"
	"github.com/ValentinKolb/dIPC/ipc/common"
	"github.com/ValentinKolb/dIPC/ipc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

var Logger = logger.GetLogger("ipc/prefork")

// Environment variables passed to worker processes
const (
	// EnvListenerFD holds the descriptor number of the inherited listener
	EnvListenerFD = "DIPC_LISTENER_FD"
	// EnvWorkerID holds the index of the worker (0 based), the loggers print it
	EnvWorkerID = common.EnvWorkerID
)

// listenerFD is the descriptor of ExtraFiles[0] in the child (after stdin, stdout, stderr)
const listenerFD = 3

// worker is one spawned process
type worker struct {
	id   int
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// Manager binds a listening endpoint once and spawns worker processes sharing it.
// The kernel distributes incoming connections between the workers, every
// connection is served by exactly one of them.
type Manager struct {
	server transport.IIPCServerTransport
	config common.PreforkConfig

	mu      sync.Mutex
	workers []*worker
	started bool
	stopped bool
	stopCh  chan struct{}
}

// NewManager creates a prefork manager for server
func NewManager(server transport.IIPCServerTransport, config common.PreforkConfig) *Manager {
	return &Manager{
		server: server,
		config: config,
		stopCh: make(chan struct{}),
	}
}

// --------------------------------------------------------------------------
// Parent Side
// --------------------------------------------------------------------------

// Start binds the server (PreFork) and spawns config.Workers copies of argv.
// Each worker gets the listener as fd 3 and EnvListenerFD/EnvWorkerID in its
// environment. When ctx is done the workers are stopped.
func (m *Manager) Start(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("no worker command given")
	}
	if m.config.Workers <= 0 {
		return fmt.Errorf("invalid number of workers: %d", m.config.Workers)
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return common.ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	// Bind before spawning, so no connection is refused while workers start
	if err := m.server.PreFork(); err != nil {
		return fmt.Errorf("failed to bind endpoint: %w", err)
	}

	listenerFile, err := m.server.ListenerFile()
	if err != nil {
		_ = m.server.Close()
		return fmt.Errorf("failed to get listener descriptor: %w", err)
	}
	// The children hold their own copies after Start
	defer listenerFile.Close()

	for i := 0; i < m.config.Workers; i++ {
		cmd := exec.Command(argv[0], argv[1:]...)
		cmd.ExtraFiles = []*os.File{listenerFile}
		cmd.Env = append(os.Environ(),
			fmt.Sprintf("%s=%d", EnvListenerFD, listenerFD),
			fmt.Sprintf("%s=%d", EnvWorkerID, i),
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Start(); err != nil {
			Logger.Errorf("Failed to start worker %d: %v", i, err)
			_ = m.Stop()
			return fmt.Errorf("failed to start worker %d: %w", i, err)
		}

		w := &worker{id: i, cmd: cmd, done: make(chan struct{})}
		m.mu.Lock()
		m.workers = append(m.workers, w)
		m.mu.Unlock()
		go m.wait(w)

		Logger.Infof("Started worker %d (pid %d)", i, cmd.Process.Pid)
	}

	// Stop the workers when the context ends
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				_ = m.Stop()
			case <-m.stopCh:
			}
		}()
	}

	return nil
}

// Wait blocks until all workers exited and returns their exit errors
func (m *Manager) Wait() error {
	m.mu.Lock()
	workers := append([]*worker(nil), m.workers...)
	m.mu.Unlock()

	var errs []error
	for _, w := range workers {
		<-w.done
		if w.err != nil {
			errs = append(errs, fmt.Errorf("worker %d: %w", w.id, w.err))
		}
	}
	return errors.Join(errs...)
}

// Stop sends SIGTERM to all workers, kills those still running after the stop
// timeout and closes the server of the parent. Calling Stop more than once is a no-op.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.stopCh)
	workers := append([]*worker(nil), m.workers...)
	m.mu.Unlock()

	for _, w := range workers {
		if err := w.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			Logger.Warningf("Failed to signal worker %d: %v", w.id, err)
		}
	}

	timeout := time.Duration(m.config.StopTimeoutSecond) * time.Second
	if timeout <= 0 {
		timeout = common.DefaultStopTimeoutSecond * time.Second
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for _, w := range workers {
		select {
		case <-w.done:
		case <-deadline.C:
			// Timer fired, kill everything that is left
			for _, left := range workers {
				select {
				case <-left.done:
				default:
					Logger.Warningf("Worker %d did not stop in time, killing it", left.id)
					_ = left.cmd.Process.Kill()
				}
			}
			for _, left := range workers {
				<-left.done
			}
			return m.server.Close()
		}
	}

	Logger.Infof("All %d workers stopped", len(workers))
	return m.server.Close()
}

// Pids returns the process ids of the started workers
func (m *Manager) Pids() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	pids := make([]int, 0, len(m.workers))
	for _, w := range m.workers {
		pids = append(pids, w.cmd.Process.Pid)
	}
	return pids
}

// wait reaps a worker
func (m *Manager) wait(w *worker) {
	w.err = w.cmd.Wait()
	if w.err != nil {
		Logger.Warningf("Worker %d (pid %d) exited: %v", w.id, w.cmd.Process.Pid, w.err)
	} else {
		Logger.Infof("Worker %d (pid %d) exited", w.id, w.cmd.Process.Pid)
	}
	close(w.done)
}

// --------------------------------------------------------------------------
// Worker Side
// --------------------------------------------------------------------------

// InheritedListener returns the listener descriptor passed by the parent.
// The second value is false if this process was not started by a Manager.
func InheritedListener() (*os.File, bool) {
	v := os.Getenv(EnvListenerFD)
	if v == "" {
		return nil, false
	}

	fd, err := strconv.Atoi(v)
	if err != nil || fd < listenerFD {
		return nil, false
	}
	return os.NewFile(uintptr(fd), "dipc-listener"), true
}

// WorkerID returns the index of this worker or -1 outside of a worker process
func WorkerID() int {
	id, err := strconv.Atoi(os.Getenv(EnvWorkerID))
	if err != nil {
		return -1
	}
	return id
}
