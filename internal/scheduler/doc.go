// Package scheduler drives relationship synchronization.
//
// A run loop scans every 100ms. Every PeriodicCheckInterval it asks the
// SyncManager which registered relationships are due and queues them at
// periodic priority; ScheduleSyncNow queues at manual priority. The queue
// is ordered by (execute time, priority) and holds at most one task per
// relationship. Dispatch hands ready tasks to workers, never more than
// MaxConcurrentTasks at once and never two for the same relationship.
//
// A failed attempt with a transient error kind is re-queued after
// RetryBackoff.Calculate(attempt) until MaxRetryAttempts retries have run.
// Other kinds are reported and dropped.
//
// Stop drains in-flight work; Pause only freezes dispatch.
package scheduler
