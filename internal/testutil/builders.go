package testutil

import (
	"fmt"
	"time"

	"github.com/qprotocol/qmem/core"
)

// ReceiptBuilder provides a fluent helper for constructing sealed receipts in
// tests. Example:
//
//	r := NewReceiptBuilder().Key("git:clone:repo").Success([]byte("ok")).Build()
//
// Chain only the parts you need; sensible defaults are applied and the
// record hash is sealed by Build.
type ReceiptBuilder struct {
	r   core.Receipt
	seq int
}

var receiptSeq int

// NewReceiptBuilder creates a builder with deterministic defaults.
func NewReceiptBuilder() *ReceiptBuilder {
	receiptSeq++
	return &ReceiptBuilder{
		seq: receiptSeq,
		r: core.Receipt{
			ReceiptID:     fmt.Sprintf("receipt-%04d", receiptSeq),
			OperationKey:  "test:op",
			OwningAgentID: "agent-1",
			TraceID:       "trace-1",
			CreatedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(receiptSeq) * time.Second),
			Success:       true,
			ResultPayload: []byte("ok"),
		},
	}
}

// ID overrides the auto-generated receipt id (chainable).
func (b *ReceiptBuilder) ID(id string) *ReceiptBuilder { b.r.ReceiptID = id; return b }

// Key sets the operation key (chainable).
func (b *ReceiptBuilder) Key(k string) *ReceiptBuilder { b.r.OperationKey = k; return b }

// Agent sets the owning agent id (chainable).
func (b *ReceiptBuilder) Agent(a string) *ReceiptBuilder { b.r.OwningAgentID = a; return b }

// Trace sets the trace id (chainable).
func (b *ReceiptBuilder) Trace(t string) *ReceiptBuilder { b.r.TraceID = t; return b }

// At sets the creation timestamp (chainable).
func (b *ReceiptBuilder) At(t time.Time) *ReceiptBuilder { b.r.CreatedAt = t; return b }

// Success marks the receipt successful with the given payload (chainable).
func (b *ReceiptBuilder) Success(payload []byte) *ReceiptBuilder {
	b.r.Success = true
	b.r.ResultPayload = payload
	b.r.ErrorMessage = ""
	return b
}

// Failure marks the receipt failed with the given message (chainable).
func (b *ReceiptBuilder) Failure(msg string) *ReceiptBuilder {
	b.r.Success = false
	b.r.ResultPayload = nil
	b.r.ErrorMessage = msg
	return b
}

// Cost sets the token cost (chainable).
func (b *ReceiptBuilder) Cost(n int64) *ReceiptBuilder { b.r.TokenCost = n; return b }

// Latency sets the recorded latency (chainable).
func (b *ReceiptBuilder) Latency(d time.Duration) *ReceiptBuilder { b.r.Latency = d; return b }

// Build seals and returns the receipt.
func (b *ReceiptBuilder) Build() core.Receipt { return b.r.Seal() }

// SnapshotBuilder constructs sealed state snapshots for tests.
type SnapshotBuilder struct {
	s core.StateSnapshot
}

var snapshotSeq int

// NewSnapshotBuilder creates a builder with deterministic defaults.
func NewSnapshotBuilder() *SnapshotBuilder {
	snapshotSeq++
	return &SnapshotBuilder{s: core.StateSnapshot{
		StateID:           fmt.Sprintf("state-%04d", snapshotSeq),
		CreatedAt:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(snapshotSeq) * time.Second),
		CompressedContext: []byte("ctx"),
		TokenCount:        10,
		MessageCount:      2,
	}}
}

// ID overrides the auto-generated state id (chainable).
func (b *SnapshotBuilder) ID(id string) *SnapshotBuilder { b.s.StateID = id; return b }

// At sets the creation timestamp (chainable).
func (b *SnapshotBuilder) At(t time.Time) *SnapshotBuilder { b.s.CreatedAt = t; return b }

// Context sets the compressed context bytes (chainable).
func (b *SnapshotBuilder) Context(data []byte) *SnapshotBuilder {
	b.s.CompressedContext = data
	return b
}

// Tokens sets the token count (chainable).
func (b *SnapshotBuilder) Tokens(n int64) *SnapshotBuilder { b.s.TokenCount = n; return b }

// Messages sets the message count (chainable).
func (b *SnapshotBuilder) Messages(n int64) *SnapshotBuilder { b.s.MessageCount = n; return b }

// Build seals and returns the snapshot.
func (b *SnapshotBuilder) Build() core.StateSnapshot { return b.s.Seal() }
