// Package core provides the foundational domain types and contracts of the
// qmem memory store. It defines:
//
//   - Receipt / StateSnapshot / CoordinateEntry (the persisted record kinds)
//   - Header (container metadata with the folded content hash)
//   - The error taxonomy (validation, integrity, write failures)
//   - WorkFunc / WorkResult (the external work executor contract)
//   - RemoteSync (push/pull of serialized container bytes)
//
// The package intentionally keeps implementation concerns (the container and
// its index, persistence, the coordination protocol) out of scope, exposing
// value types and small interfaces so backends remain pluggable.
package core
