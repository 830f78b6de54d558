// Package storage is the checkpoint store for auto-run state.
//
// A checkpoint is keyed by user id and holds up to two sub-records, one per
// task kind (standard, event). Drivers:
//   - "file": one JSON document, every write replaces the whole file
//   - "sqlite": one row per (user, kind), merges run in a single transaction
//   - "memory": in-process map (tests, dry runs)
//
// Reads fail open: a missing or corrupt checkpoint loads as empty, and a
// malformed sub-record is dropped instead of failing the whole load.
package storage
