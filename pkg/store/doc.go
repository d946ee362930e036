/*
Package store is the persistence layer for the control plane: tasks,
subtasks, nodes, streams and models, backed by SQLite through sqlx.

# Schema

Migrations live under migrations/*.sql and are applied in order by
Migrate, tracked in a schema_migrations table — the same shape as the
teacher corpus's embedded-migration runners. The SQL store is
authoritative for identity and lifecycle: callers needing a fast read
path (node snapshots, task counters) layer pkg's cache packages in
front of it rather than bypassing it.

# Sum types over relational columns

SubTask.Source (image/video URL batch vs. stream reference) is stored
as source_kind/source_urls/source_stream_id, with source_kind selecting
which of the other two columns is meaningful — the same pattern
types.Source uses in memory.

# Concurrency

SQLite only supports one writer at a time; NewSQLiteStore sets
MaxOpenConns(1) so concurrent callers serialize on the driver rather
than racing into "database is locked" errors.
*/
package store
