// Package hashing provides the content digests used for per-record and
// whole-container integrity. Digests are SHA-256 rendered as
// "sha256:<hex>" so persisted containers stay verifiable by tooling in any
// runtime. Fold combines record digests in log order, making truncation and
// reordering of a persisted container detectable.
package hashing
