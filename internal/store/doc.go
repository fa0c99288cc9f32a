// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying storage mechanism from the
// application's core logic: the task state machine, quota ledger, and key
// registry are written against them, not against any concrete database.
package store
