// Package store provides SQL-backed durable storage for molecular
// configurations and their many-body energy decompositions.
//
// The store holds three tables:
//   - configurations: append-only geometries with derived counts and a tag
//   - energies: one row per (configuration_id, method, basis, cp) with the
//     record status, the derived non-additive term and a log reference
//   - subset_energies: one row per fragment subset of an energies row
//
// # Invariants
//
// Idempotent registration
//   - UNIQUE(configuration_id, method, basis, cp) with ON CONFLICT DO NOTHING
//   - Registering twice leaves exactly one record, whatever its status
//
// Atomic derivation
//   - A subset write, the E_nb derivation and the pending → computed
//     transition commit in one transaction
//   - E_nb is never written by callers
//
// Status transitions
//   - pending → computed (last subset lands) or pending → failed
//   - failed → pending (ResetFailed), any → pending (Recompute)
//   - Anything else returns *StateError
//
// Deterministic, restartable reads
//   - List, Missing and Query are keyset-paginated on seq, so each batch is a
//     short query and no cursor is held while the caller works. Re-running a
//     sequence reflects current state.
//
// # Database Configuration
//
// SQLite (default, any path or file: DSN):
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - _txlock=immediate: Writers take the lock at BEGIN
//
// Postgres (postgres:// or postgresql:// DSN) via pgx; record rows are
// locked with SELECT ... FOR UPDATE inside write transactions.
package store
