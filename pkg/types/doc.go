/*
Package types defines the core data structures used throughout meek.

This package contains the domain model shared by every other package:
tasks, subtasks, nodes, streams and models. These types are plain Go
structs with integer ids — related entities are looked up on demand
through pkg/store rather than held as an in-memory object graph.

# Core Types

Task: a user-defined analysis job (image / video-file / live-stream
against one or more models) that fans out into one or more SubTasks.

SubTask: the atomic unit of dispatch — one (model, source) pair
executed on one Node. Its Status field is the single source of truth
for whether it currently occupies a node slot.

Node: a registered analysis worker, keyed by MAC address. Resource
gauges and per-kind task counters are refreshed by heartbeats and
read by the dispatcher's scoring function.

Stream: a registered video-stream URL, probed by the stream monitor
only while referenced by at least one running task.

Model: a detection/segmentation model synced from the external
marketplace.

# State Machine

SubTask.Status follows:

	pending → running → completed
	            ↓    ↘
	         stopped   error

Pending → Running: the dispatcher selects a node and the node accepts.
Running → Completed/Error: the result ingester reports a terminal status.
Running → Stopped: the user calls the stop lifecycle verb.
Running → Pending: node health tracker migration with no target node.

Task.Status is *derived* from the count of its subtasks in each state
(pkg/taskstate owns the derivation and its cache-backed fast path); it
is never set directly by callers.

# Design Patterns

Enumeration pattern: small integer or string-backed types with a
String() method, matching the rest of the corpus's preference for
typed constants over bare ints/strings at call sites.

Sum-type source: Source unifies the "list of URLs" vs "single stream
id" fields that live side by side in the relational schema — Kind
selects which field is meaningful, so callers never need to guess
from zero values.

# Thread Safety

Types in this package carry no synchronization themselves: they are
read-safe when shared read-only, but mutation must be synchronized by
the owning subsystem (pkg/taskstate for Task/SubTask status and
counts, pkg/registry for Node resource gauges).
*/
package types
