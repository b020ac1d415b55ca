package container

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qprotocol/qmem/core"
	"github.com/qprotocol/qmem/hashing"
)

// Container is the persisted memory unit for one agent/trace: header,
// append-only receipt and snapshot logs, coordinate dictionary and the
// derived index. Safe for concurrent access; see the package doc for the
// single-writer discipline.
type Container struct {
	mu        sync.RWMutex
	header    core.Header
	receipts  []core.Receipt
	snapshots []core.StateSnapshot
	coords    map[string]*core.CoordinateEntry
	idx       *index
}

// New creates an empty container owned by the given agent for the given
// trace. The content hash is valid immediately (fold over zero records).
func New(owningAgentID, traceID string) *Container {
	now := time.Now().UTC()
	c := &Container{
		header: core.Header{
			FormatVersion: core.FormatVersion,
			ContainerID:   uuid.NewString(),
			OwningAgentID: owningAgentID,
			TraceID:       traceID,
			CreatedAt:     now,
		},
		coords: make(map[string]*core.CoordinateEntry),
		idx:    newIndex(),
	}
	c.touchLocked(now)
	return c
}

// Restore reconstructs a container from deserialized parts and rebuilds the
// index from the logs. The stored header is kept verbatim, including its
// content hash; callers must follow up with VerifyIntegrity before trusting
// any record.
func Restore(header core.Header, receipts []core.Receipt, snapshots []core.StateSnapshot, coords []core.CoordinateEntry) (*Container, error) {
	c := &Container{
		header:    header,
		receipts:  make([]core.Receipt, 0, len(receipts)),
		snapshots: make([]core.StateSnapshot, 0, len(snapshots)),
		coords:    make(map[string]*core.CoordinateEntry, len(coords)),
		idx:       newIndex(),
	}
	for _, r := range receipts {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.idx.byID[r.ReceiptID]; dup {
			return nil, &core.ValidationError{Field: "receipt_id", Reason: r.ReceiptID, Sentinel: core.ErrDuplicateReceipt}
		}
		c.receipts = append(c.receipts, r.Clone())
		c.idx.insertReceipt(c.receipts, len(c.receipts)-1)
	}
	for _, s := range snapshots {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.idx.snapIDs[s.StateID]; dup {
			return nil, &core.ValidationError{Field: "state_id", Reason: s.StateID, Sentinel: core.ErrDuplicateSnapshot}
		}
		c.snapshots = append(c.snapshots, s.Clone())
		c.idx.snapIDs[s.StateID] = struct{}{}
	}
	for _, e := range coords {
		entry := e
		c.coords[e.OperationPrefix] = &entry
	}
	return c, nil
}

// Header returns a copy of the container header.
func (c *Container) Header() core.Header {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.header
}

// ID returns the container id.
func (c *Container) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.header.ContainerID
}

// TraceID returns the trace this container belongs to.
func (c *Container) TraceID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.header.TraceID
}

// OwningAgentID returns the agent that owns this container.
func (c *Container) OwningAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.header.OwningAgentID
}

// AddReceipt validates and appends a sealed receipt, updating the index and
// header before returning. Duplicate receipt ids are rejected with a
// ValidationError wrapping core.ErrDuplicateReceipt.
func (c *Container) AddReceipt(r core.Receipt) error {
	if err := r.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.idx.byID[r.ReceiptID]; dup {
		return &core.ValidationError{Field: "receipt_id", Reason: r.ReceiptID, Sentinel: core.ErrDuplicateReceipt}
	}
	c.receipts = append(c.receipts, r.Clone())
	c.idx.insertReceipt(c.receipts, len(c.receipts)-1)
	c.touchLocked(time.Now().UTC())
	return nil
}

// AddStateSnapshot validates and appends a sealed snapshot.
func (c *Container) AddStateSnapshot(s core.StateSnapshot) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, dup := c.idx.snapIDs[s.StateID]; dup {
		return &core.ValidationError{Field: "state_id", Reason: s.StateID, Sentinel: core.ErrDuplicateSnapshot}
	}
	c.snapshots = append(c.snapshots, s.Clone())
	c.idx.snapIDs[s.StateID] = struct{}{}
	c.touchLocked(time.Now().UTC())
	return nil
}

// HasReceipt reports whether any receipt exists for the operation key.
func (c *Container) HasReceipt(operationKey string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.idx.byKey[operationKey]) > 0
}

// LatestReceipt returns the receipt with the maximal CreatedAt for the key,
// ties broken by lexical receipt id so the answer is deterministic. The
// second return is false when no receipt exists; a miss is not an error.
func (c *Container) LatestReceipt(operationKey string) (core.Receipt, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	positions := c.idx.byKey[operationKey]
	if len(positions) == 0 {
		return core.Receipt{}, false
	}
	best := c.receipts[positions[0]]
	for _, pos := range positions[1:] {
		if timeLess(best, c.receipts[pos]) {
			best = c.receipts[pos]
		}
	}
	return best.Clone(), true
}

// QueryReceipts returns all receipts for the key in append order. A missing
// key yields an empty slice, never an error.
func (c *Container) QueryReceipts(operationKey string) []core.Receipt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collectLocked(c.idx.byKey[operationKey])
}

// ReceiptsByAgent returns all receipts owned by the agent in append order.
func (c *Container) ReceiptsByAgent(agentID string) []core.Receipt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.collectLocked(c.idx.byAgent[agentID])
}

// ReceiptsInRange returns receipts with from <= CreatedAt <= to ordered by
// (CreatedAt, ReceiptID).
func (c *Container) ReceiptsInRange(from, to time.Time) []core.Receipt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	start := sort.Search(len(c.idx.byTime), func(i int) bool {
		return !c.receipts[c.idx.byTime[i]].CreatedAt.Before(from)
	})
	out := make([]core.Receipt, 0)
	for _, pos := range c.idx.byTime[start:] {
		if c.receipts[pos].CreatedAt.After(to) {
			break
		}
		out = append(out, c.receipts[pos].Clone())
	}
	return out
}

// Receipts returns the full receipt log in append order.
func (c *Container) Receipts() []core.Receipt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.Receipt, 0, len(c.receipts))
	for _, r := range c.receipts {
		out = append(out, r.Clone())
	}
	return out
}

// Snapshots returns the state snapshot log in append order.
func (c *Container) Snapshots() []core.StateSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.StateSnapshot, 0, len(c.snapshots))
	for _, s := range c.snapshots {
		out = append(out, s.Clone())
	}
	return out
}

// RecordCoordinateUsage upserts the dictionary entry for the key's prefix.
// Dictionary entries are aggregates, not part of the folded content hash.
func (c *Container) RecordCoordinateUsage(operationKey string, tokenCost int64, executor string, at time.Time) error {
	if err := core.ValidateOperationKey(operationKey); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := core.OperationPrefix(operationKey)
	entry, ok := c.coords[prefix]
	if !ok {
		e := core.NewCoordinateEntry(operationKey)
		entry = &e
		c.coords[prefix] = entry
	}
	entry.Observe(tokenCost, executor, at.UTC())
	c.header.LastModifiedAt = time.Now().UTC()
	return nil
}

// CoordinateEntry returns the dictionary entry for a prefix.
func (c *Container) CoordinateEntry(prefix string) (core.CoordinateEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.coords[prefix]
	if !ok {
		return core.CoordinateEntry{}, false
	}
	return *entry, true
}

// CoordinateEntries returns the dictionary sorted by prefix so serialization
// stays deterministic.
func (c *Container) CoordinateEntries() []core.CoordinateEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.CoordinateEntry, 0, len(c.coords))
	for _, entry := range c.coords {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OperationPrefix < out[j].OperationPrefix })
	return out
}

// PruneSnapshots keeps only the retain most recent snapshots, preserving log
// order, then rebuilds the index and refreshes the header. Receipts are never
// pruned. Returns the number of snapshots removed.
func (c *Container) PruneSnapshots(retain int) int {
	if retain < 0 {
		retain = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.snapshots) <= retain {
		return 0
	}
	pruned := len(c.snapshots) - retain
	kept := make([]core.StateSnapshot, retain)
	copy(kept, c.snapshots[pruned:])
	c.snapshots = kept
	c.idx.rebuild(c.receipts, c.snapshots)
	c.touchLocked(time.Now().UTC())
	return pruned
}

// VerifyIntegrity recomputes every record hash from logical content, folds
// them and compares against the header. Recomputing (rather than folding the
// stored record hashes) means a tampered payload cannot hide behind a stale
// stored hash. On mismatch the returned IntegrityError names this container;
// none of the records may be trusted in that case.
func (c *Container) VerifyIntegrity() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	digests := make([]hashing.Digest, 0, len(c.receipts)+len(c.snapshots))
	for _, r := range c.receipts {
		digests = append(digests, r.ComputeHash())
	}
	for _, s := range c.snapshots {
		digests = append(digests, s.ComputeHash())
	}
	got := hashing.Fold(digests)
	if got != c.header.ContentHash {
		return &core.IntegrityError{
			ContainerID: c.header.ContainerID,
			Want:        c.header.ContentHash,
			Got:         got,
		}
	}
	return nil
}

// RebuildIndex discards and reconstructs the derived index from the logs.
// Use whenever index provenance is uncertain.
func (c *Container) RebuildIndex() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idx.rebuild(c.receipts, c.snapshots)
}

// collectLocked resolves index positions to receipt copies.
func (c *Container) collectLocked(positions []int) []core.Receipt {
	out := make([]core.Receipt, 0, len(positions))
	for _, pos := range positions {
		out = append(out, c.receipts[pos].Clone())
	}
	return out
}

// touchLocked refreshes the derived header fields. Caller holds the write
// lock. The content hash must be correct before any save or verify returns.
func (c *Container) touchLocked(now time.Time) {
	c.header.EntryCount = int64(len(c.receipts) + len(c.snapshots))
	var size int64
	for _, r := range c.receipts {
		size += int64(len(r.ResultPayload))
	}
	for _, s := range c.snapshots {
		size += int64(len(s.CompressedContext))
	}
	c.header.TotalByteSize = size
	c.header.ContentHash = c.contentHashLocked()
	c.header.LastModifiedAt = now
}

// contentHashLocked folds all record hashes in log order, receipts first.
func (c *Container) contentHashLocked() hashing.Digest {
	digests := make([]hashing.Digest, 0, len(c.receipts)+len(c.snapshots))
	for _, r := range c.receipts {
		digests = append(digests, r.RecordHash)
	}
	for _, s := range c.snapshots {
		digests = append(digests, s.RecordHash)
	}
	return hashing.Fold(digests)
}
