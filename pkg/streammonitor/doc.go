/*
Package streammonitor implements the stream reachability monitor
(spec.md §4.9).

Every Interval (default 60s), Monitor lists the streams referenced by
at least one running task — store.ListStreamsReferencedByRunningTasks
already restricts the set, so a stream with no running task against it
is simply never returned and never probed — and fans them out across
a worker pool bounded at WorkerPool (default 5) goroutines. Each
stream is checked with probe.ForURL, which picks an HTTP or TCP
checker based on the URL scheme; a transition in the probe's Online
result is persisted via store.UpdateStreamOnline, otherwise nothing is
written.

The bounded fan-out is a semaphore channel sized to workerPool rather
than a fixed goroutine pool draining a shared queue: each cycle's
stream list is known up front and small, so there is no need for
pkg/router's persistent worker-pool-plus-queue shape. The Start/Stop/
run ticker lifecycle itself is grounded on pkg/health.Tracker and
pkg/taskstate.Manager's identical idiom.

Grounded on cuemby-warren/pkg/health's liveness-probe ticker loop
(probe.go supplies the Checker abstraction itself) for the lifecycle
shape, with the "only probe what's in use" restriction and the
size-5 worker pool taken from spec.md §4.9 directly.
*/
package streammonitor
