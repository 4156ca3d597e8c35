// Package resilience keeps the project store usable through lock
// contention, crashes and file corruption.
//
// Components:
//   - Executor: single entry point for store reads and writes, with bounded
//     exponential-backoff retries
//   - PendingQueue: one persisted failed write, kept outside the store
//   - BackupManager: timestamped file-copy backups with retention
//   - IntegrityChecker: read-only structural probe of the store file
//   - Recovery: check, restore, re-check, then replay the pending write
//
// Runtime wires them together for one store file. There is no package-level
// state besides metrics and the tracer.
//
// # Error classes
//
// Failures are classified by Classify:
//   - transient (busy, locked, timeout) and unknown: retried
//   - permanent (constraint, bad params, not found): returned at once
//   - corruption (malformed, not a database, I/O): recovery runs
//
// Writes that exhaust their retries are queued; reads are not.
package resilience
