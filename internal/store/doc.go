// Package store persists jobs, media items and transcript segments in SQLite
// and exposes the transitions the pipeline orchestrator needs.
//
// The Store manages the database connection, schema initialization and busy
// retries. Job updates are guarded in SQL: a job in a terminal status is never
// rewritten and its current stage never moves backwards. Segment replacement
// for a media item runs as one delete-then-insert transaction so readers never
// observe a partially replaced set.
//
// The same database also hosts the durable queue table and the shared gateway
// budget ledger; those packages borrow the connection through DB.
//
// Schema changes bump schemaVersion in schema.go; users clear the database to
// adopt the new schema.
package store
