package persist

import (
	"encoding/binary"
	"fmt"

	"github.com/algorand/go-codec/codec"

	"github.com/qprotocol/qmem/container"
	"github.com/qprotocol/qmem/core"
)

// Magic identifies a persisted qmem container.
var magic = [4]byte{'Q', 'M', 'E', 'M'}

const (
	preambleSize = 6 // magic + version + flags

	flagSnappy byte = 1 << 0
)

// msgpackHandle is canonical so identical logical content always produces
// identical bytes, keeping digests and tests deterministic.
var msgpackHandle = func() *codec.MsgpackHandle {
	h := new(codec.MsgpackHandle)
	h.Canonical = true
	// native bin/timestamp encodings, not legacy string compatibility
	h.WriteExt = true
	return h
}()

func encodeRecord(v interface{}) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, msgpackHandle).Encode(v); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeRecord(data []byte, v interface{}) error {
	return codec.NewDecoderBytes(data, msgpackHandle).Decode(v)
}

// body assembles the uncompressed section stream: header, receipts,
// snapshots, dictionary, each record length-prefixed.
func encodeBody(c *container.Container) ([]byte, error) {
	header := c.Header()
	receipts := c.Receipts()
	snapshots := c.Snapshots()
	coords := c.CoordinateEntries()

	var buf []byte
	var err error
	if buf, err = appendRecord(buf, header); err != nil {
		return nil, err
	}
	buf = appendCount(buf, len(receipts))
	for _, r := range receipts {
		if buf, err = appendRecord(buf, r); err != nil {
			return nil, err
		}
	}
	buf = appendCount(buf, len(snapshots))
	for _, s := range snapshots {
		if buf, err = appendRecord(buf, s); err != nil {
			return nil, err
		}
	}
	buf = appendCount(buf, len(coords))
	for _, e := range coords {
		if buf, err = appendRecord(buf, e); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func appendRecord(buf []byte, v interface{}) ([]byte, error) {
	enc, err := encodeRecord(v)
	if err != nil {
		return nil, err
	}
	buf = appendCount(buf, len(enc))
	return append(buf, enc...), nil
}

func appendCount(buf []byte, n int) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(n))
	return append(buf, b[:]...)
}

// bodyReader walks the length-prefixed record stream with bounds checking so
// truncation surfaces as a clean error instead of a panic.
type bodyReader struct {
	data []byte
	off  int
}

func (r *bodyReader) count() (int, error) {
	if r.off+4 > len(r.data) {
		return 0, fmt.Errorf("truncated at byte %d: missing length prefix", r.off)
	}
	n := int(binary.BigEndian.Uint32(r.data[r.off:]))
	r.off += 4
	return n, nil
}

// recordCount reads a section count and sanity-checks it against the bytes
// remaining before anything is allocated for it. Every record consumes at
// least its 4-byte length prefix, so a count exceeding remaining/4 can only
// come from a corrupted or tampered prefix.
func (r *bodyReader) recordCount() (int, error) {
	at := r.off
	n, err := r.count()
	if err != nil {
		return 0, err
	}
	if max := (len(r.data) - r.off) / 4; n > max {
		return 0, fmt.Errorf("corrupt count at byte %d: %d records cannot fit in %d remaining bytes", at, n, len(r.data)-r.off)
	}
	return n, nil
}

func (r *bodyReader) record(v interface{}) error {
	n, err := r.count()
	if err != nil {
		return err
	}
	if r.off+n > len(r.data) {
		return fmt.Errorf("truncated at byte %d: record needs %d bytes, %d remain", r.off, n, len(r.data)-r.off)
	}
	if err := decodeRecord(r.data[r.off:r.off+n], v); err != nil {
		return fmt.Errorf("record at byte %d undecodable: %w", r.off, err)
	}
	r.off += n
	return nil
}

func decodeBody(data []byte) (*container.Container, error) {
	r := &bodyReader{data: data}

	var header core.Header
	if err := r.record(&header); err != nil {
		return nil, err
	}

	n, err := r.recordCount()
	if err != nil {
		return nil, err
	}
	receipts := make([]core.Receipt, 0, n)
	for i := 0; i < n; i++ {
		var rec core.Receipt
		if err := r.record(&rec); err != nil {
			return nil, err
		}
		receipts = append(receipts, rec)
	}

	if n, err = r.recordCount(); err != nil {
		return nil, err
	}
	snapshots := make([]core.StateSnapshot, 0, n)
	for i := 0; i < n; i++ {
		var s core.StateSnapshot
		if err := r.record(&s); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}

	if n, err = r.recordCount(); err != nil {
		return nil, err
	}
	coords := make([]core.CoordinateEntry, 0, n)
	for i := 0; i < n; i++ {
		var e core.CoordinateEntry
		if err := r.record(&e); err != nil {
			return nil, err
		}
		coords = append(coords, e)
	}

	if r.off != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after dictionary", len(data)-r.off)
	}
	return container.Restore(header, receipts, snapshots, coords)
}
