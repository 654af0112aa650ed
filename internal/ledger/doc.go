// Package ledger persists transcoding jobs in SQLite. Job rows move through
// a monotone lifecycle (pending, processing, then completed or failed) and
// every transition is a guarded UPDATE, so concurrent workers race safely
// and terminal side effects fire exactly once.
package ledger
