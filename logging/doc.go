// Package logging provides a minimal logging interface and adapters for the
// qmem store.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the container, persistence engine and coordination
// protocol use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - StoreLogger with container/trace context and domain helpers
//
// The design intentionally keeps the interface minimal to avoid vendor
// lock-in while supporting structured logging where available.
package logging
