/*
Package queue implements the in-memory multi-level priority queue from
spec.md §4.2.

Ten priority levels are recognized, level 1 highest. Pop always returns
the lowest-numbered non-empty level's oldest-arrived envelope. When
capacity is reached, Push evicts one envelope from the lowest-priority
non-empty level that is strictly lower-priority than the incoming
envelope; if none exists, the incoming envelope itself is dropped and
Dropped is incremented.

A per-topic "latest value" shadow map (Latest) always reflects the
most recently pushed envelope for a topic, independent of whatever
happened to it afterward in the level buckets — callers that only care
about current state (e.g. a node's last heartbeat) can read this
instead of draining the queue.

DefaultTopicPriority encodes the spec's default topic -> priority
table. The router does not call it: cmd/meekctl assigns priorities
with its own topicPriority, and there is no operator override.
*/
package queue
