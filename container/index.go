package container

import (
	"sort"

	"github.com/qprotocol/qmem/core"
)

// index is the derived lookup structure over the record logs. Positions refer
// into the receipt log, which is append-only, so they stay stable for the
// life of the container. The index is never the source of truth and never
// serialized.
type index struct {
	byKey   map[string][]int // operation key -> receipt positions, append order
	byAgent map[string][]int // owning agent -> receipt positions, append order
	byTime  []int            // receipt positions sorted by (CreatedAt, ReceiptID)
	byID    map[string]int   // receipt id -> position
	snapIDs map[string]struct{}
}

func newIndex() *index {
	return &index{
		byKey:   make(map[string][]int),
		byAgent: make(map[string][]int),
		byID:    make(map[string]int),
		snapIDs: make(map[string]struct{}),
	}
}

// rebuild reconstructs the index deterministically from the logs.
func (ix *index) rebuild(receipts []core.Receipt, snapshots []core.StateSnapshot) {
	*ix = *newIndex()
	for pos := range receipts {
		ix.insertReceipt(receipts, pos)
	}
	for _, s := range snapshots {
		ix.snapIDs[s.StateID] = struct{}{}
	}
}

// insertReceipt registers the receipt at position pos of the log.
func (ix *index) insertReceipt(receipts []core.Receipt, pos int) {
	r := receipts[pos]
	ix.byKey[r.OperationKey] = append(ix.byKey[r.OperationKey], pos)
	ix.byAgent[r.OwningAgentID] = append(ix.byAgent[r.OwningAgentID], pos)
	ix.byID[r.ReceiptID] = pos
	i := sort.Search(len(ix.byTime), func(i int) bool {
		return !timeLess(receipts[ix.byTime[i]], r)
	})
	ix.byTime = append(ix.byTime, 0)
	copy(ix.byTime[i+1:], ix.byTime[i:])
	ix.byTime[i] = pos
}

// timeLess orders receipts by (CreatedAt, ReceiptID); the lexical id
// tie-break keeps query results deterministic.
func timeLess(a, b core.Receipt) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ReceiptID < b.ReceiptID
}
