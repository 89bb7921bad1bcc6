// Package stores provides the SQLite persistence layer for the quality
// runner. It keeps the backup manifest catalog, the run history with its
// event timeline, and an audit trail of baseline and backup maintenance.
//
// The schema is applied with embedded golang-migrate migrations. File
// databases run in WAL mode; ":memory:" databases are limited to a single
// connection so every query sees the same data.
package stores
