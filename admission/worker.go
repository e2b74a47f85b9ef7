package admission

import (
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Worker is a handle to a running unit of execution whose termination the
// controller can observe. Implementations must close the Done channel
// exactly once when the worker terminates, for any reason.
type Worker interface {
	// ID returns a stable identity for the worker. A worker holds at most
	// one lease at a time, keyed by this id.
	ID() string
	// Done returns a channel that is closed when the worker terminates.
	Done() <-chan struct{}
}

// TaskHandle is an in-process worker backed by an explicit exit channel.
// Hosts that run work on goroutines mark the handle finished themselves.
type TaskHandle struct {
	id   string
	done chan struct{}
	once sync.Once
}

// NewTaskHandle creates a live task handle. An empty id is replaced with a
// generated one.
func NewTaskHandle(id string) *TaskHandle {
	if id == "" {
		id = uuid.New().String()
	}
	return &TaskHandle{id: id, done: make(chan struct{})}
}

func (t *TaskHandle) ID() string { return t.id }

func (t *TaskHandle) Done() <-chan struct{} { return t.done }

// Finish marks the handle terminated. Safe to call more than once.
func (t *TaskHandle) Finish() {
	t.once.Do(func() { close(t.done) })
}

// ProcessWorker ties a worker identity to a child OS process, so a crashed
// process releases its lease without any cooperation from the child.
type ProcessWorker struct {
	id   string
	done chan struct{}

	mu  sync.Mutex
	err error
}

// WatchProcess wraps an already-started command. The returned worker's
// Done channel closes when the process exits.
func WatchProcess(cmd *exec.Cmd) (*ProcessWorker, error) {
	if cmd.Process == nil {
		return nil, fmt.Errorf("watch process: command not started")
	}

	w := &ProcessWorker{
		id:   fmt.Sprintf("pid-%d", cmd.Process.Pid),
		done: make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		close(w.done)
	}()
	return w, nil
}

func (w *ProcessWorker) ID() string { return w.id }

func (w *ProcessWorker) Done() <-chan struct{} { return w.done }

// Err returns the process exit error. Only meaningful once Done is closed.
func (w *ProcessWorker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// HeartbeatWorker is a deadline-based worker: it counts as terminated if
// Beat is not called within its timeout. Useful when the unit of execution
// is remote enough that only periodic liveness signals are available.
type HeartbeatWorker struct {
	id      string
	timeout time.Duration
	done    chan struct{}
	once    sync.Once

	mu    sync.Mutex
	timer *time.Timer
}

// NewHeartbeatWorker creates a worker whose liveness deadline starts now.
func NewHeartbeatWorker(id string, timeout time.Duration) *HeartbeatWorker {
	if id == "" {
		id = uuid.New().String()
	}
	w := &HeartbeatWorker{
		id:      id,
		timeout: timeout,
		done:    make(chan struct{}),
	}
	w.timer = time.AfterFunc(timeout, w.expire)
	return w
}

func (w *HeartbeatWorker) expire() {
	w.once.Do(func() { close(w.done) })
}

func (w *HeartbeatWorker) ID() string { return w.id }

func (w *HeartbeatWorker) Done() <-chan struct{} { return w.done }

// Beat extends the liveness deadline by the worker's timeout. Returns
// false if the worker already expired; a late heartbeat cannot revive it.
func (w *HeartbeatWorker) Beat() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.done:
		return false
	default:
	}
	w.timer.Reset(w.timeout)
	return true
}

// Finish terminates the worker immediately instead of waiting for the
// deadline to lapse. Safe to call more than once.
func (w *HeartbeatWorker) Finish() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.timer.Stop()
	w.expire()
}
