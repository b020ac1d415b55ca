package retention

import (
	"github.com/qprotocol/qmem/container"
	"github.com/qprotocol/qmem/logging"
)

// DefaultRetainCount is the snapshot count kept by the default policy.
const DefaultRetainCount = 100

// Policy prunes the snapshot log down to a fixed count of most recent
// entries, preserving order. The container rebuilds its index and refreshes
// its header as part of the prune.
type Policy struct {
	// RetainCount is the number of snapshots to keep. Zero or negative means
	// DefaultRetainCount.
	RetainCount int
	// Logger defaults to a no-op logger.
	Logger logging.Logger
}

// Default returns the standard policy retaining DefaultRetainCount snapshots.
func Default() Policy {
	return Policy{RetainCount: DefaultRetainCount}
}

// Compact applies the policy to the container, returning the number of
// snapshots pruned. Receipts are never touched.
func (p Policy) Compact(c *container.Container) int {
	retain := p.RetainCount
	if retain <= 0 {
		retain = DefaultRetainCount
	}
	pruned := c.PruneSnapshots(retain)
	if pruned > 0 && p.Logger != nil {
		p.Logger.Info("snapshot log compacted", "container_id", c.ID(), "pruned", pruned, "retained", retain)
	}
	return pruned
}
