package core

import (
	"encoding/binary"
	"time"

	"github.com/qprotocol/qmem/hashing"
)

// Receipt is the immutable proof that an operation was attempted and how it
// went. Once appended to a container a receipt is never mutated; a retry
// produces a new receipt with a fresh id and the same operation key.
//
// Field tags are stable: the persisted form is self-describing and must stay
// readable by tooling in other runtimes across format versions.
type Receipt struct {
	ReceiptID     string         `codec:"receipt_id" json:"receipt_id"`
	OperationKey  string         `codec:"operation_key" json:"operation_key"`
	OwningAgentID string         `codec:"owning_agent_id" json:"owning_agent_id"`
	TraceID       string         `codec:"trace_id" json:"trace_id"`
	CreatedAt     time.Time      `codec:"created_at" json:"created_at"`
	Success       bool           `codec:"success" json:"success"`
	ResultPayload []byte         `codec:"result_payload" json:"result_payload,omitempty"`
	ErrorMessage  string         `codec:"error_message" json:"error_message,omitempty"`
	TokenCost     int64          `codec:"token_cost" json:"token_cost"`
	Latency       time.Duration  `codec:"latency" json:"latency"`
	RecordHash    hashing.Digest `codec:"record_hash" json:"record_hash"`
}

// ComputeHash digests the receipt's logical fields. The encoding is
// independent of the wire format so record hashes survive format options
// (compression, future codec changes).
func (r Receipt) ComputeHash() hashing.Digest {
	buf := appendString(nil, "receipt")
	buf = appendString(buf, r.ReceiptID)
	buf = appendString(buf, r.OperationKey)
	buf = appendString(buf, r.OwningAgentID)
	buf = appendString(buf, r.TraceID)
	buf = appendInt64(buf, r.CreatedAt.UTC().UnixNano())
	buf = appendBool(buf, r.Success)
	buf = appendBytes(buf, r.ResultPayload)
	buf = appendString(buf, r.ErrorMessage)
	buf = appendInt64(buf, r.TokenCost)
	buf = appendInt64(buf, int64(r.Latency))
	return hashing.Sum(buf)
}

// Seal returns a copy of the receipt with RecordHash populated.
func (r Receipt) Seal() Receipt {
	r.RecordHash = r.ComputeHash()
	return r
}

// Validate checks structural invariants. It does not check uniqueness, which
// is a container-level property.
func (r Receipt) Validate() error {
	if r.ReceiptID == "" {
		return NewValidationError("receipt_id", "must not be empty")
	}
	if err := ValidateOperationKey(r.OperationKey); err != nil {
		return err
	}
	if r.Success && r.ErrorMessage != "" {
		return NewValidationError("error_message", "must be empty on success")
	}
	if !r.Success && r.ErrorMessage == "" {
		return NewValidationError("error_message", "required on failure")
	}
	if r.TokenCost < 0 {
		return NewValidationError("token_cost", "must be non-negative")
	}
	if r.Latency < 0 {
		return NewValidationError("latency", "must be non-negative")
	}
	if r.RecordHash.IsZero() {
		return NewValidationError("record_hash", "must be set; call Seal")
	}
	if r.RecordHash != r.ComputeHash() {
		return NewValidationError("record_hash", "does not match record content")
	}
	return nil
}

// Clone returns a deep copy safe for independent mutation of the payload.
func (r Receipt) Clone() Receipt {
	if r.ResultPayload != nil {
		cp := make([]byte, len(r.ResultPayload))
		copy(cp, r.ResultPayload)
		r.ResultPayload = cp
	}
	return r
}

// StateSnapshot is a compressed context checkpoint. Snapshots are immutable
// once written but, unlike receipts, subject to retention pruning.
type StateSnapshot struct {
	StateID           string         `codec:"state_id" json:"state_id"`
	CreatedAt         time.Time      `codec:"created_at" json:"created_at"`
	CompressedContext []byte         `codec:"compressed_context" json:"compressed_context,omitempty"`
	TokenCount        int64          `codec:"token_count" json:"token_count"`
	MessageCount      int64          `codec:"message_count" json:"message_count"`
	RecordHash        hashing.Digest `codec:"record_hash" json:"record_hash"`
}

// ComputeHash digests the snapshot's logical fields.
func (s StateSnapshot) ComputeHash() hashing.Digest {
	buf := appendString(nil, "state")
	buf = appendString(buf, s.StateID)
	buf = appendInt64(buf, s.CreatedAt.UTC().UnixNano())
	buf = appendBytes(buf, s.CompressedContext)
	buf = appendInt64(buf, s.TokenCount)
	buf = appendInt64(buf, s.MessageCount)
	return hashing.Sum(buf)
}

// Seal returns a copy of the snapshot with RecordHash populated.
func (s StateSnapshot) Seal() StateSnapshot {
	s.RecordHash = s.ComputeHash()
	return s
}

// Validate checks structural invariants.
func (s StateSnapshot) Validate() error {
	if s.StateID == "" {
		return NewValidationError("state_id", "must not be empty")
	}
	if s.TokenCount < 0 {
		return NewValidationError("token_count", "must be non-negative")
	}
	if s.MessageCount < 0 {
		return NewValidationError("message_count", "must be non-negative")
	}
	if s.RecordHash.IsZero() {
		return NewValidationError("record_hash", "must be set; call Seal")
	}
	if s.RecordHash != s.ComputeHash() {
		return NewValidationError("record_hash", "does not match record content")
	}
	return nil
}

// Clone returns a deep copy safe for independent mutation of the context.
func (s StateSnapshot) Clone() StateSnapshot {
	if s.CompressedContext != nil {
		cp := make([]byte, len(s.CompressedContext))
		copy(cp, s.CompressedContext)
		s.CompressedContext = cp
	}
	return s
}

// Length-prefixed field encoding shared by the record hash computations.
// Prefixing prevents ambiguity between adjacent variable-length fields.

func appendBytes(buf, field []byte) []byte {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(field)))
	buf = append(buf, n[:]...)
	return append(buf, field...)
}

func appendString(buf []byte, field string) []byte {
	return appendBytes(buf, []byte(field))
}

func appendInt64(buf []byte, v int64) []byte {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(v))
	return append(buf, n[:]...)
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}
