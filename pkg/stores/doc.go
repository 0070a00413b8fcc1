// Package stores provides the persistence layer for ynhctl. It includes a
// SQLite-based store with WAL mode, embedded schema migrations, run and
// operation recording, the timeline event log, and the advisory per-host
// lock that keeps concurrent runs off the same host.
//
// Operation payloads are stored as JSON, which redacts Secret fields and
// credential-bearing app args on the way in: passwords never reach the
// database.
package stores
