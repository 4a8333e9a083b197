// Package storage persists task fires and scheduler snapshots.
//
// Drivers:
//   - "file": <prefix>.fires.jsonl (append-only) and <prefix>.snapshot.json
//   - "sqlite", "postgres", "mysql": tables fires and snapshots via sqlx
package storage
