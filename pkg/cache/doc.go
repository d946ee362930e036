/*
Package cache wraps github.com/redis/go-redis/v9 behind a narrow
get/set/delete surface and centralizes the key layout from
SPEC_FULL.md §3.2 as named constants and helper functions, so no two
packages invent a slightly different key format for the same entity.

Callers own serialization (typically JSON via encoding/json) and TTL
policy; this package only owns the connection and the key names.
*/
package cache
