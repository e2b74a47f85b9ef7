// Package admission implements a bounded concurrency admission controller.
//
// A Controller grants a limited number of concurrent task leases to
// requesting workers, tracks which workers hold which lease, and reclaims
// a lease automatically once every worker holding it has terminated. It is
// used to cap parallelism without requiring workers to cooperate on
// cleanup: the controller watches each worker's liveness itself and
// releases capacity when the last holder of a lease dies.
//
// All state is in-memory and owned by a single mutex-guarded struct; every
// operation and every asynchronous worker-death notification is processed
// atomically under the same lock. Rejected admissions are answered
// immediately with ErrLimitReached; the controller never queues waiters,
// so retry and backoff are the caller's responsibility.
package admission
