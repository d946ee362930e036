/*
Package taskstate implements the task state manager (spec.md §4.6):
the only writer of task/subtask status fields and active-subtask
count.

Transition is the single entry point. It locks, synthesizes the
task's `{status: count}` aggregate from the cache or SQL on first
touch, decrements the old slot, increments the new one, mutates the
subtask's fields in place, and enqueues both the subtask and its
parent task id for the next flush — mirroring the touched counters and
subtask status to the cache immediately so readers get O(1) status
without waiting for the batch writer.

A ticker (default 100ms, config.TaskStateConfig.BatchInterval) drains
the pending sets and, per touched task, writes every touched subtask
row then recomputes and writes the parent's derived status
(deriveTaskStatus, spec.md §3 invariant 2) and active-subtask count.
A task whose write fails is put back on the pending set; because every
write carries the subtask's absolute new status rather than a delta,
re-flushing is safe.
*/
package taskstate
