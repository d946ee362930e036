/*
Package health is the node health tracker (spec.md §4.4). It runs on
a fixed interval (default 20s) as one of the three periodic-tasks
surfaces alongside the stream monitor and the retry-queue persister:

 1. detectOffline flips any node whose last heartbeat is older than
    Interval*OfflineMultiple (default 2.0) from online to offline.
 2. migrateOfflineNodes resets every running subtask still assigned to
    an offline node back to pending and, if a replacement node with
    spare capacity exists, redispatches it there immediately with
    PreferredNodeID set — the preferred node wins scoring outright, per
    pkg/dispatch. A sync.Map keyed by node id dedups concurrent cycles
    so the same node's subtasks are never migrated twice at once.
 3. dispatchPending sweeps every non-stopped task's subtasks and
    retries dispatch for anything still pending, so subtasks that
    failed to find capacity on a previous cycle (or were parked by
    step 2) keep getting retried without a dedicated retry path of
    their own.

Grounded on cuemby-warren/pkg/reconciler's periodic
detect-then-reconcile loop, generalized from container/service
reconciliation to node-offline detection and subtask migration.

This package previously held cuemby-warren's container-level
HTTP/TCP/Exec liveness checkers (Checker, HTTPChecker, TCPChecker,
ExecChecker). The HTTP/TCP probe shape was adapted into pkg/probe for
stream-reachability checks (spec.md §4.9); ExecChecker had no home —
this domain has no container runtime to exec into — and was dropped.
*/
package health
