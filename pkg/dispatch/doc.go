/*
Package dispatch is the subtask dispatcher (spec.md §4.5).

Given a subtask needing a node, Dispatch:

 1. Scores every online, eligible node: resourceScore·Wr +
    balanceScore·Wb + weightScore·Ww (defaults 0.4/0.4/0.2). A
    non-zero, eligible PreferredNodeID in Options wins outright,
    bypassing scoring — used by pkg/health's migration path to target
    a specific replacement node.
 2. Bumps the chosen node's per-kind counter (best-effort; corrected
    by the next heartbeat).
 3. Builds the start-subtask payload and publishes it to
    `<prefix>/<MAC>/request_setting`.
 4. In blocking mode, waits for an explicit reply on
    `<prefix>/device_config_reply` (HandleReply, registered with
    pkg/router) matching the message_uuid, retrying the publish up to
    AcceptRetries times; any result message for the subtask is also
    treated as implicit acceptance, via NotifyAcceptedForSubtask
    (looked up by subtask id rather than message_uuid, since that's
    all pkg/ingest has from a result payload) called from pkg/ingest.

Acceptance itself — explicit or implicit, blocking or not — always
runs through resolve(), which is the one place that persists the
subtask as running with its assigned node and worker-side id set
(spec.md §3 invariant 4), via the task state manager when one is
configured. This applies uniformly regardless of Options.Blocking:
pkg/health's dispatchPending sweep and pkg/retryqueue both dispatch
non-blocking, and the running transition for those subtasks only
happens later, when HandleReply or pkg/ingest's first result message
confirms the node actually picked the work up.

Grounded on `cuemby-warren/pkg/scheduler`'s `selectNode` (node
filtering + "pick the best candidate" shape), generalized from
round-robin container-count balancing to the spec's three-term
weighted score.
*/
package dispatch
