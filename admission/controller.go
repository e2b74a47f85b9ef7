package admission

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskgate/log"
)

var (
	ErrInvalidCapacity = errors.New("invalid capacity")
	ErrLimitReached    = errors.New("admission limit reached")
	ErrStopped         = errors.New("controller stopped")
)

// rejectLogInterval throttles the at-capacity warning so a hot retry loop
// does not flood the log. Rejections are still counted individually.
const rejectLogInterval = 5 * time.Second

// LeaseID identifies an admitted task. A lease stays open while at least
// one worker is bound to it and ceases to exist when its last worker is
// removed, whether by an explicit Release or by worker death.
type LeaseID string

// binding ties a worker to the lease it holds and to the cancel channel of
// the liveness watch installed for it. The cancel channel doubles as the
// watch's identity: a notification whose channel no longer matches the
// current binding is stale and must be ignored.
type binding struct {
	lease  LeaseID
	cancel chan struct{}
}

// Stats counts controller activity since Start. Peak is the highest lease
// count observed.
type Stats struct {
	Admitted  int64
	Rejected  int64
	Released  int64
	Reclaimed int64
	Peak      int
}

// Controller caps the number of concurrently open leases. It is the sole
// owner of all admission state; every operation runs atomically under one
// exclusive lock, so callers observe a strict linearization of admissions,
// releases, resizes and worker-death notifications.
type Controller struct {
	mu        sync.Mutex
	capacity  int
	count     int
	leases    map[LeaseID]map[string]struct{}
	workers   map[string]*binding
	stopped   bool
	stats     Stats
	rejectLog *log.Every
}

// Start creates a controller with the given positive capacity and no open
// leases.
func Start(capacity int) (*Controller, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Controller{
		capacity:  capacity,
		leases:    make(map[LeaseID]map[string]struct{}),
		workers:   make(map[string]*binding),
		rejectLog: log.NewEvery(rejectLogInterval),
	}, nil
}

// Admit requests a new lease for worker w. When the controller is at
// capacity it returns ErrLimitReached immediately without mutating any
// state; the controller never queues rejected requesters. On success it
// mints a fresh lease id, binds w to it, installs a liveness watch on w
// and returns the lease.
func (c *Controller) Admit(w Worker) (LeaseID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return "", ErrStopped
	}
	// >= rather than ==: Resize may have lowered the capacity below the
	// current usage, and admissions must stay blocked until usage drops
	// back under the bound.
	if c.count >= c.capacity {
		c.stats.Rejected++
		if c.rejectLog.ShouldLog() {
			log.WarningLog.Printf("rejecting admissions: %d leases open at capacity %d", c.count, c.capacity)
		}
		log.DebugLog.Printf("admission rejected for worker %s: at capacity %d", w.ID(), c.capacity)
		return "", ErrLimitReached
	}

	lease := LeaseID(uuid.New().String())
	c.bindLocked(lease, w)
	c.count++
	c.stats.Admitted++
	if c.count > c.stats.Peak {
		c.stats.Peak = c.count
	}

	log.DebugLog.Printf("admitted worker %s on lease %s (%d/%d)", w.ID(), lease, c.count, c.capacity)
	return lease, nil
}

// BindWorker associates an additional worker with an existing lease and
// installs a liveness watch on it. It deliberately performs no existence
// check on the lease: binding to an unknown lease creates entries that the
// lease count never tracked, and re-binding a worker already bound to a
// different lease overwrites its reverse entry while leaving the old
// lease's forward association stale. Both behaviors are intentional; see
// the package design notes before changing them.
func (c *Controller) BindWorker(lease LeaseID, w Worker) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}
	c.bindLocked(lease, w)
	return nil
}

// bindLocked records the (lease, worker) pair and spawns the worker's
// liveness watch. Callers must hold c.mu.
func (c *Controller) bindLocked(lease LeaseID, w Worker) {
	set := c.leases[lease]
	if set == nil {
		set = make(map[string]struct{})
		c.leases[lease] = set
	}
	set[w.ID()] = struct{}{}

	// Overwrites any previous binding for this worker. The superseded
	// watch is left armed; its eventual firing fails the staleness check
	// in workerExited and is dropped there.
	b := &binding{lease: lease, cancel: make(chan struct{})}
	c.workers[w.ID()] = b
	go c.watch(w, b.cancel)
}

// watch waits for the worker to terminate or for the binding to be
// canceled, whichever comes first. Fires at most once.
func (c *Controller) watch(w Worker, cancel chan struct{}) {
	select {
	case <-w.Done():
		c.workerExited(w.ID(), cancel)
	case <-cancel:
	}
}

// workerExited handles an asynchronous worker-death notification. A
// notification for an unknown worker, or one whose cancel channel does not
// match the current binding, is stale (the association was already removed
// or replaced) and is ignored.
func (c *Controller) workerExited(id string, cancel chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.workers[id]
	if !ok || b.cancel != cancel {
		return
	}
	delete(c.workers, id)

	set := c.leases[b.lease]
	delete(set, id)
	if len(set) > 0 {
		log.DebugLog.Printf("worker %s died, lease %s stays open with %d workers", id, b.lease, len(set))
		return
	}

	delete(c.leases, b.lease)
	if c.count > 0 {
		c.count--
	}
	c.stats.Reclaimed++
	log.InfoLog.Printf("reclaimed lease %s after worker %s died (%d/%d)", b.lease, id, c.count, c.capacity)
}

// Release closes a lease: every worker bound to it has its liveness watch
// canceled and its entry removed, the lease is deleted and the count is
// decremented, clamped at zero. Releasing an unknown lease is a no-op, so
// redundant releases are safe.
func (c *Controller) Release(lease LeaseID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}
	set, ok := c.leases[lease]
	if !ok {
		return nil
	}

	for id := range set {
		// A worker that was re-bound to another lease since joining this
		// one belongs to that lease now; leave its watch alone.
		if b, ok := c.workers[id]; ok && b.lease == lease {
			close(b.cancel)
			delete(c.workers, id)
		}
	}
	delete(c.leases, lease)
	if c.count > 0 {
		c.count--
	}
	c.stats.Released++

	log.DebugLog.Printf("released lease %s (%d/%d)", lease, c.count, c.capacity)
	return nil
}

// Resize replaces the capacity immediately. Existing leases are never
// evicted: if the count now exceeds the new capacity, admissions simply
// stay blocked until releases or worker deaths bring usage back under the
// bound.
func (c *Controller) Resize(newCapacity int) error {
	if newCapacity <= 0 {
		return ErrInvalidCapacity
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}
	c.capacity = newCapacity
	return nil
}

// CurrentCount returns the number of currently open leases.
func (c *Controller) CurrentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Stats returns a snapshot of the controller's activity counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Stop terminates the controller. All outstanding liveness watches are
// canceled, all state is dropped and further mutating calls fail with
// ErrStopped. Stop is idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true

	for _, b := range c.workers {
		close(b.cancel)
	}
	c.workers = make(map[string]*binding)
	c.leases = make(map[LeaseID]map[string]struct{})
	c.count = 0
}
