// Package protocol implements the query-before-act discipline on top of a
// container: check for an existing receipt before performing work, so
// idempotent operations execute at most once per container instance.
//
// The guarantee is scoped: sequential or lock-disciplined use of one loaded
// container. Two independent processes each holding a copy of the same
// persisted container can still race; serializing them (file lock,
// single-owner-per-trace convention) is the caller's responsibility.
package protocol
