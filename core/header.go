package core

import (
	"time"

	"github.com/qprotocol/qmem/hashing"
)

// FormatVersion is the persisted container format revision.
const FormatVersion = 1

// Header carries container identity and the integrity summary. ContentHash is
// always the ordered fold of every receipt and snapshot record hash (receipts
// first, then snapshots, each in log order); the container recomputes it on
// every mutation and persistence re-verifies it on every load.
type Header struct {
	FormatVersion  int            `codec:"format_version" json:"format_version"`
	ContainerID    string         `codec:"container_id" json:"container_id"`
	OwningAgentID  string         `codec:"owning_agent_id" json:"owning_agent_id"`
	TraceID        string         `codec:"trace_id" json:"trace_id"`
	CreatedAt      time.Time      `codec:"created_at" json:"created_at"`
	LastModifiedAt time.Time      `codec:"last_modified_at" json:"last_modified_at"`
	EntryCount     int64          `codec:"entry_count" json:"entry_count"`
	TotalByteSize  int64          `codec:"total_byte_size" json:"total_byte_size"`
	ContentHash    hashing.Digest `codec:"content_hash" json:"content_hash"`
}
