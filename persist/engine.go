package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/golang/snappy"

	"github.com/qprotocol/qmem/container"
	"github.com/qprotocol/qmem/core"
	"github.com/qprotocol/qmem/logging"
)

// Ext is the conventional container file extension; containers are named
// "<trace_id>.qmem" by convention, not enforcement.
const Ext = ".qmem"

// ContainerPath returns the conventional path for a trace's container.
func ContainerPath(dir, traceID string) string {
	return filepath.Join(dir, traceID+Ext)
}

// Options configures an Engine.
type Options struct {
	// Compression snappy-compresses the body after the preamble. Record
	// hashes cover logical fields, so integrity verification is unaffected.
	Compression bool
	// FileLock serializes cooperating writers on "<path>.lock" around saves.
	// Cross-process coordination is otherwise the caller's responsibility.
	FileLock bool
	// Logger defaults to a no-op logger.
	Logger logging.Logger
}

// Engine serializes and deserializes containers. The zero-option engine
// writes uncompressed, unlocked containers.
type Engine struct {
	opts Options
}

// New constructs an Engine with optional overrides.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Engine{opts: opts}
}

// WithCompression toggles snappy compression of saved containers.
func WithCompression(enabled bool) func(o *Options) {
	return func(o *Options) { o.Compression = enabled }
}

// WithFileLock toggles flock-based writer locking around saves.
func WithFileLock(enabled bool) func(o *Options) {
	return func(o *Options) { o.FileLock = enabled }
}

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// Marshal serializes the container to the wire format. The derived index is
// not serialized.
func (e *Engine) Marshal(c *container.Container) ([]byte, error) {
	body, err := encodeBody(c)
	if err != nil {
		return nil, fmt.Errorf("encode container %s: %w", c.ID(), err)
	}
	flags := byte(0)
	if e.opts.Compression {
		flags |= flagSnappy
		body = snappy.Encode(nil, body)
	}
	out := make([]byte, 0, preambleSize+len(body))
	out = append(out, magic[:]...)
	out = append(out, byte(core.FormatVersion), flags)
	return append(out, body...), nil
}

// Unmarshal deserializes container bytes, rebuilds the index and verifies the
// content hash. Verification is all-or-nothing: a container that fails it has
// none of its records exposed as trusted.
func (e *Engine) Unmarshal(data []byte) (*container.Container, error) {
	if len(data) < preambleSize || [4]byte(data[:4]) != magic {
		return nil, &core.IntegrityError{Reason: "not a qmem container (bad magic)"}
	}
	if v := data[4]; int(v) != core.FormatVersion {
		return nil, &core.IntegrityError{Reason: fmt.Sprintf("unsupported format version %d", v)}
	}
	flags := data[5]
	body := data[preambleSize:]
	if flags&flagSnappy != 0 {
		var err error
		if body, err = snappy.Decode(nil, body); err != nil {
			return nil, &core.IntegrityError{Reason: fmt.Sprintf("compressed body undecodable: %v", err)}
		}
	}
	// Any decode or restore failure on persisted bytes is an integrity
	// violation: the file is truncated, corrupted or tampered, and none of
	// its records may be trusted.
	c, err := decodeBody(body)
	if err != nil {
		return nil, &core.IntegrityError{Reason: err.Error()}
	}
	if err := c.VerifyIntegrity(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save atomically persists the container at the destination path: bytes land
// in a temp file in the destination directory, get fsynced, then renamed over
// the destination. On failure the in-memory container stays valid for retry.
func (e *Engine) Save(c *container.Container, path string) error {
	data, err := e.Marshal(c)
	if err != nil {
		return &core.WriteError{Path: path, Err: err}
	}
	if e.opts.FileLock {
		lk := flock.New(path + ".lock")
		if err := lk.Lock(); err != nil {
			return &core.WriteError{Path: path, Err: err}
		}
		defer lk.Unlock() //nolint:errcheck
	}
	if err := writeAtomic(path, data); err != nil {
		return &core.WriteError{Path: path, Err: err}
	}
	e.opts.Logger.Debug("container saved", "container_id", c.ID(), "path", path, "bytes", len(data))
	return nil
}

// Load reads, deserializes and verifies a persisted container. Integrity
// failures name the container id and path and surface the whole load as
// failed; there is no partial or best-effort load.
func (e *Engine) Load(path string) (*container.Container, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read container %s: %w", path, err)
	}
	c, err := e.Unmarshal(data)
	if err != nil {
		var ie *core.IntegrityError
		if errors.As(err, &ie) {
			ie.Path = path
		}
		return nil, err
	}
	e.opts.Logger.Debug("container loaded", "container_id", c.ID(), "path", path, "bytes", len(data))
	return c, nil
}

// writeAtomic is write-temp-then-replace: a crash mid-write never exposes a
// corrupt file at the destination.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".qmem-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			os.Remove(tmpName) //nolint:errcheck
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	tmpName = ""
	return nil
}
