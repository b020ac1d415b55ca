package container

import "time"

// Stats summarizes a container for inspection tooling. It is a point-in-time
// copy; fields do not track later mutations.
type Stats struct {
	ReceiptCount    int       `json:"receipt_count"`
	StateCount      int       `json:"state_count"`
	CoordinateCount int       `json:"coordinate_count"`
	TotalByteSize   int64     `json:"total_byte_size"`
	OldestReceipt   time.Time `json:"oldest_receipt,omitzero"`
	NewestReceipt   time.Time `json:"newest_receipt,omitzero"`
	MeanTokenCost   float64   `json:"mean_token_cost"`
}

// Stats computes summary statistics over the current logs.
func (c *Container) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Stats{
		ReceiptCount:    len(c.receipts),
		StateCount:      len(c.snapshots),
		CoordinateCount: len(c.coords),
		TotalByteSize:   c.header.TotalByteSize,
	}
	if len(c.receipts) > 0 {
		oldest := c.receipts[c.idx.byTime[0]]
		newest := c.receipts[c.idx.byTime[len(c.idx.byTime)-1]]
		st.OldestReceipt = oldest.CreatedAt
		st.NewestReceipt = newest.CreatedAt
		var total int64
		for _, r := range c.receipts {
			total += r.TokenCost
		}
		st.MeanTokenCost = float64(total) / float64(len(c.receipts))
	}
	return st
}
