/*
Package retryqueue implements the task priority/retry queue (spec.md
§4.8).

A subtask lands here whenever pkg/dispatch's Dispatch returns an error:
no online node had spare capacity, the node explicitly rejected the
subtask, or no acceptance arrived within the blocking-wait budget.
Push enqueues it for an immediate attempt on the next tick (one
per second); a failed attempt is requeued with its priority demoted by
one and its next-retry-time pushed out by baseDelay*backoffFactor^n,
until maxRetries is exceeded, at which point the subtask is handed to
pkg/taskstate as errored with an "exceeded retry limit" message.

The heap orders entries by next-retry-time first, priority descending
second, and insertion order third — entryHeap.Less implements this
ordering directly; next-retry-time ascending already matches
container/heap's "smallest first" convention, so only the priority and
insertion-order tiebreaks need explicit handling.

Every mirrorEvery interval (default 30s) and once more on Stop, the
queue snapshots itself to the cache so a controller restart can recover
in-flight retries via loadSnapshot; a Queue built with a nil cache
simply has no restart recovery, matching pkg/taskstate and
pkg/registry's own nil-cache tolerance.

Grounded structurally on cuemby-warren/pkg/events.Broker's
mutex-guarded background-loop idiom (Start/Stop/run), with the pop
ordering and retry bookkeeping ported from
original_source/task_retry_queue.py's RetryTask/TaskRetryQueue
(heapq-ordered by next-retry-time, priority, then insertion order). The
priority scale itself follows spec.md §4.8's own 0 (lowest) .. 3
(highest), not the python original's 1-10 scale.
*/
package retryqueue
