/*
Package registry is the node registry (spec.md §4.3): it writes node
rows for connection and heartbeat messages and serves Get/List from an
in-memory snapshot refreshed on a TTL (CacheTTL, ~30s) and on every
mutation it makes, so those reads never block on SQL. ListOnline reads
the store directly, and pkg/health marks stale nodes offline through
the store rather than through the registry.

# Message handling

HandleConnection processes the retained `<prefix>/connection` topic's
online/offline transitions; HandleHeartbeat processes
`<prefix>/<MAC>/status`. Both are meant to be registered with
pkg/router as handlers — pure store+cache writes, no bus or queue
access, following the periodic-tasks/worker-pool separation in
spec.md §5.

Disconnect never touches subtask rows; that is pkg/health's job on its
own cycle, per spec.md §4.3 item 2.

Grounded on `cuemby-warren/pkg/storage` + `pkg/manager`'s node CRUD
(single authoritative writer, cache in front for readers), generalized
from the teacher's Raft-replicated in-memory store to a SQL-backed one
with an explicit refresh interval.
*/
package registry
