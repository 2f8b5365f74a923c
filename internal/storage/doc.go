// Package storage provides the key-value persistence used for controller
// state and the event journal.
//
// # Overview
//
// The failover controller needs a small amount of durable state: which node
// it last promoted to primary and a history of failover and alert events.
// Store is the abstraction over that state, with two implementations:
//
//	┌─────────────────────────────────────┐
//	│      journal.Journal (events,       │
//	│      persisted primary)             │
//	└─────────────────────────────────────┘
//	                 │
//	                 ▼
//	┌─────────────────────────────────────┐
//	│          Store interface            │
//	└─────────────────────────────────────┘
//	          │                │
//	          ▼                ▼
//	     ┌────────┐      ┌──────────┐
//	     │ Memory │      │  Badger  │
//	     │ Store  │      │  Store   │
//	     └────────┘      └──────────┘
//
// # Implementations
//
// MemoryStore: map-backed, lost on restart. Used in tests and when the
// operator opts out of persistence.
//
// BadgerStore: BadgerDB on local disk. Survives restarts so a controller that
// performed a failover comes back with the promoted node as primary. An empty
// data directory opens an in-memory Badger instance, which tests use to
// exercise the Badger code path without touching disk.
//
// # Semantics
//
//   - Get returns ErrKeyNotFound for missing keys
//   - Put copies the value; callers may reuse their buffer
//   - Delete of a missing key is not an error
//   - List(prefix) returns keys in ascending order, which the journal relies
//     on for chronological event listing
//
// # Thread Safety
//
// All implementations are safe for concurrent use.
package storage
