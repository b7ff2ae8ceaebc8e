// Package storage provides the sqlite persistence layer.
//
// One database file holds every durable table:
//   - triggers: automation job definitions
//   - executions: append-only execution history
//   - dedup: bounded processed-item ledger (idempotency)
//   - system_metrics, notifications: handler-owned auxiliary tables
package storage
