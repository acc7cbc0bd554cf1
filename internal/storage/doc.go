// Package storage persists job run history and job parameters.
//
// Drivers:
//   - memory: process-local, lost on exit
//   - file: JSON Lines journal plus snapshot, no external dependencies
//   - sqlite: SQLite database file (modernc.org/sqlite, pure Go)
package storage
