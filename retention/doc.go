// Package retention bounds the state snapshot log of a container. Receipts
// are the durable proof-of-work ledger and are never pruned; snapshots are
// comparatively large and only the recent ones matter for context recovery.
package retention
