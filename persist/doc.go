// Package persist serializes containers to durable storage and verifies
// their integrity on the way back in.
//
// Wire layout: a fixed preamble ("QMEM" magic, format version, flags)
// followed by length-prefixed canonical-msgpack records: header, receipt log,
// state snapshot log, coordinate dictionary. Length prefixes make a truncated
// trailing record detectable instead of fatal to parsing; the flags byte
// selects optional snappy compression of everything after the preamble.
//
// The derived index is never serialized. It is rebuilt on every load, which
// makes log/index divergence impossible in a persisted container.
//
// Saves are atomic: bytes land in a temp file in the destination directory,
// are fsynced, then renamed over the destination, so a crash mid-write never
// exposes a corrupt file at the destination path. Loads are all-or-nothing:
// the container digest is recomputed and compared against the stored header
// hash, and a mismatch fails with an integrity violation naming the container
// and path.
package persist
