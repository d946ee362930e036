/*
Package ingest implements the result ingester (spec.md §4.7).

HandleResult is registered with pkg/router against the wildcard
pattern `<prefix>/+/result`. For each message it:

 1. Parses task_id/subtask_id, both carried as strings because the
    worker simply echoes back the values from its start-command
    payload — which is itself the controller's own numeric subtask
    id rendered as a string. This resolves an apparent tension between
    §4.7's prose ("finds the subtask by the worker-side id") and §6's
    result-payload table (a literal subtask_id field): there is only
    one id in play, the controller's, and "worker-side" describes
    where it travels through, not a second identifier space. Looking
    it up is a plain store.GetSubTask(subtask_id).
 2. Treats the mere arrival of any result — even a "processing"
    progress report — as implicit dispatch acceptance
    (dispatcher.NotifyAcceptedForSubtask), per spec.md §4.5 item 5.
 3. On a terminal status (completed/failed), persists the results
    blob if the parent task requested it, hands the transition to
    pkg/taskstate, and releases the reporting node's per-kind capacity
    slot.

The node released is the one named in the topic (`<prefix>/<MAC>/result`),
not the subtask's AssignedNodeID column, so a result racing a
migration always frees the node that actually ran the work.

Grounded on pkg/router's handler-dispatch shape: Ingester exposes a
plain `func(topic string, payload []byte)` method rather than owning
its own subscription, the same pattern pkg/dispatch's HandleReply uses
for `<prefix>/device_config_reply`.
*/
package ingest
