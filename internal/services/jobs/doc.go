// Package jobs provides backbone's background job scheduler.
//
// # Overview
//
// Jobs are submitted with a kind, an opaque payload and a retry bound, and
// are executed asynchronously by a single worker loop. Handlers are
// registered per kind; submitting a kind with no registered handler fails
// that job terminally when it is picked up.
//
// # Retry semantics
//
// A handler error returns the job to pending while retries remain, so the
// worker retries it on a later scan. Once the retry count reaches the job's
// bound, the job fails terminally and the last error text is retained for
// inspection via Get/List.
//
// # Cancellation
//
// Cancel is cooperative. The worker re-checks the status immediately before
// executing, so a cancelled pending job never runs. A job whose handler is
// already executing is not preempted; its own terminal result stands.
//
// # Lifecycle
//
// The Service can be started/stopped at runtime (e.g. via config hot
// reload). Terminal jobs stay queryable until an explicit retention Sweep
// evicts them.
package jobs
