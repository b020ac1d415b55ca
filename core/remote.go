package core

import "context"

// RemoteSync pushes and pulls serialized container bytes to a shared
// aggregation point. The store exposes and accepts bytes only; transport,
// authentication and conflict handling live with the implementation.
// Persistence is last-writer-wins: a later Push overwrites.
type RemoteSync interface {
	Push(ctx context.Context, containerID string, data []byte) error
	Pull(ctx context.Context, containerID string) ([]byte, error)
}
