// Package cache wraps the Redis client used as the fast-path layer in
// front of pkg/store (spec.md §3.2): node snapshots, task counters,
// derived task status, a retry-queue mirror, and router-level message
// dedup all live under the key layout this package centralizes.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is a thin wrapper over *redis.Client exposing only the
// get/set/delete primitives the rest of the codebase needs, keeping
// go-redis itself out of every caller's import list.
type Client struct {
	rdb *redis.Client
}

// New creates a Client connected to addr (host:port), selecting db and
// authenticating with password if non-empty. The connection is lazy;
// go-redis dials on first use.
func New(addr, password string, db int) *Client {
	return &Client{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

// Get returns the raw string value at key, and false if it does not
// exist.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set writes value at key with an optional TTL (zero means no
// expiry).
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Delete removes key if present.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// SetNX sets key to value only if it does not already exist, returning
// whether the set happened. Used for dedup presence keys.
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Key layout constants, spec.md §3.2.
const (
	KeyPrefixTaskCounters = "task:"     // task:{id}:counters
	KeyPrefixTaskStatus   = "task:"     // task:{id}:status
	KeyPrefixSubtask      = "subtask:"  // subtask:{id}:status
	KeyPrefixNode         = "node:"     // node:{mac}
	KeyRetryQueueSnapshot = "retryqueue:snapshot"
	KeyPrefixDedup        = "dedup:" // dedup:{topic}:{message_id}
)

// TaskCountersKey returns the cache key for a task's status-count
// aggregate.
func TaskCountersKey(taskID int64) string {
	return KeyPrefixTaskCounters + strconv.FormatInt(taskID, 10) + ":counters"
}

// TaskStatusKey returns the cache key for a task's cached derived
// status.
func TaskStatusKey(taskID int64) string {
	return KeyPrefixTaskStatus + strconv.FormatInt(taskID, 10) + ":status"
}

// SubtaskStatusKey returns the cache key for a subtask's immediately
// written status, ahead of the batch writer's next SQL flush.
func SubtaskStatusKey(subtaskID int64) string {
	return KeyPrefixSubtask + strconv.FormatInt(subtaskID, 10) + ":status"
}

// NodeKey returns the cache key for a node snapshot keyed by MAC.
func NodeKey(mac string) string {
	return KeyPrefixNode + mac
}

// DedupKey returns the cache key for a router dedup presence marker.
func DedupKey(topic, messageID string) string {
	return KeyPrefixDedup + topic + ":" + messageID
}
