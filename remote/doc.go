// Package remote contains RemoteSync implementations. The interface lives in
// core; depend on core.RemoteSync in your code and select an implementation
// at wiring time. The in-memory sync below is suitable for tests and
// single-process aggregation; a production implementation would speak to a
// shared aggregation service.
package remote
