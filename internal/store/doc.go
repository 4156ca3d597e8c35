// Package store provides SQLite-backed durable storage for project records.
//
// The store holds two entities:
//   - Project: one row per project file, keyed by filename
//   - ProjectHistory: append-only status transitions, keyed by an autoincrement id
//
// Entity operations (Find, FindAll, Create, Update, Destroy) take a
// JSON-serializable Params value so a failed write can be persisted and
// replayed against a later connection. Create is an upsert on the entity key:
// replaying a create that already landed leaves the row unchanged.
//
// # Database Configuration
//
//   - journal_mode=DELETE: the main file is self-contained between commits,
//     so copying it yields a complete backup
//   - synchronous=FULL
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// The schema is embedded from schema.sql and versioned with PRAGMA user_version.
package store
