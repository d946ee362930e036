/*
Package router dispatches envelopes drained from pkg/queue to
registered handlers (spec.md §4.2): a fixed-size worker pool pops
envelopes and, for each, runs every exact-topic handler followed by
every matching wildcard handler ("+" single-level, "#" multi-level,
MQTT-style).

# Deduplication

Each dispatched envelope's JSON payload is probed for a "message_id"
field. A (topic, message_id) pair already dispatched within the
configured TTL (default 5 minutes per spec.md §4.2) is discarded before
any handler runs. Payloads without a message_id (e.g. heartbeats) are
never deduplicated.

# Panic isolation

A handler invocation is wrapped in a recover; a panicking handler is
logged and does not affect other handlers or the worker pool.
*/
package router
