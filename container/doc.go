// Package container implements the persistent memory unit of the store: a
// header, the append-only receipt and state snapshot logs, the coordinate
// dictionary and a derived in-memory index.
//
// Contract:
//   - Records are append-only; only retention pruning removes snapshots and
//     receipts are never removed
//   - The header's content hash is recomputed before any mutating method
//     returns, so a container is always ready to save or verify
//   - The index is derived state: never serialized, always rebuilt from the
//     logs, and rebuilt rather than trusted whenever provenance is uncertain
//   - All methods are safe for concurrent use; reads return defensive copies
//
// One logical writer at a time is still the intended discipline: the internal
// lock makes interleaved calls safe, it does not merge the intents of two
// independent writers.
package container
