// Package qmem provides a high-level façade over the container, persistence
// and coordination packages enabling agents to record and query proof of
// completed work. Most applications interact with this package by:
//  1. Creating a Store via New() at trace start, or Open() to resume one
//  2. Running operations through Do(), which applies query-before-act
//  3. Flushing at session end (Close)
//
// The façade delegates bookkeeping to container.Container, durability to
// persist.Engine and replay semantics to protocol.Coordinator while keeping
// setup ergonomics concise. Defaults are safe for local development; a
// production deployment typically supplies a structured logger, a shared
// directory and a RemoteSync implementation.
//
// A Store wraps exactly one container and inherits its concurrency contract:
// one logical writer at a time, reads freely concurrent. Pass the Store (or
// its container) explicitly; there is no hidden process-wide instance.
package qmem

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/qprotocol/qmem/config"
	"github.com/qprotocol/qmem/container"
	"github.com/qprotocol/qmem/core"
	"github.com/qprotocol/qmem/logging"
	"github.com/qprotocol/qmem/persist"
	"github.com/qprotocol/qmem/protocol"
	"github.com/qprotocol/qmem/remote"
	"github.com/qprotocol/qmem/retention"
)

// Options configures a Store instance.
type Options struct {
	// Directory holds the container file, named "<trace_id>.qmem". Empty
	// disables durable writes (in-memory-only store).
	Directory string
	// RetainCount bounds the snapshot log on Compact; zero means the
	// default policy.
	RetainCount int
	// Compression snappy-compresses persisted containers.
	Compression bool
	// FileLock serializes cooperating writers via flock.
	FileLock bool
	// RespectFailures treats a prior failure receipt as cached instead of
	// retryable.
	RespectFailures bool
	// AutoFlush persists the container after every recorded receipt.
	// Enabled by default when Directory is set.
	AutoFlush bool
	// Remote is the optional aggregation point for Push/Pull.
	Remote core.RemoteSync
	// Observers fire after each receipt append.
	Observers []core.ReceiptObserver
	// Logger defaults to a no-op logger.
	Logger logging.Logger
}

// WithDirectory sets the container directory and enables durable writes.
func WithDirectory(dir string) func(o *Options) {
	return func(o *Options) { o.Directory = dir }
}

// WithRetention sets the snapshot retain count used by Compact.
func WithRetention(n int) func(o *Options) {
	return func(o *Options) { o.RetainCount = n }
}

// WithCompression toggles snappy compression of persisted containers.
func WithCompression(enabled bool) func(o *Options) {
	return func(o *Options) { o.Compression = enabled }
}

// WithFileLock toggles flock-based writer locking around saves.
func WithFileLock(enabled bool) func(o *Options) {
	return func(o *Options) { o.FileLock = enabled }
}

// WithRespectFailures opts into short-circuiting on prior failure receipts.
func WithRespectFailures(enabled bool) func(o *Options) {
	return func(o *Options) { o.RespectFailures = enabled }
}

// WithRemote sets the RemoteSync used by Push and Pull.
func WithRemote(r core.RemoteSync) func(o *Options) {
	return func(o *Options) { o.Remote = r }
}

// WithObserver registers a receipt observer.
func WithObserver(obs core.ReceiptObserver) func(o *Options) {
	return func(o *Options) { o.Observers = append(o.Observers, obs) }
}

// WithLogger sets the store logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// WithConfig applies a loaded configuration file to the options.
func WithConfig(cfg config.Config) func(o *Options) {
	return func(o *Options) {
		o.Directory = cfg.Directory
		o.RetainCount = cfg.RetainCount
		o.Compression = cfg.Compression
		o.FileLock = cfg.FileLock
		o.RespectFailures = cfg.RespectFailures
		o.Logger = logging.NewLogger(&logging.LoggerConfig{
			Level:  logging.ParseLevel(cfg.LogLevel),
			Format: cfg.LogFormat,
		})
	}
}

// Store aggregates one container with its persistence engine, retention
// policy and coordinator.
type Store struct {
	opts      Options
	container *container.Container
	engine    *persist.Engine
	policy    retention.Policy
	coord     *protocol.Coordinator
	path      string
}

func buildOptions(optFns []func(o *Options)) Options {
	opts := Options{AutoFlush: true, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return opts
}

func assemble(c *container.Container, opts Options) *Store {
	s := &Store{
		opts:      opts,
		container: c,
		engine: persist.New(
			persist.WithCompression(opts.Compression),
			persist.WithFileLock(opts.FileLock),
			persist.WithLogger(opts.Logger),
		),
		policy: retention.Policy{RetainCount: opts.RetainCount, Logger: opts.Logger},
	}
	if opts.Directory != "" {
		s.path = persist.ContainerPath(opts.Directory, c.TraceID())
	}
	coordOpts := []func(o *protocol.Options){
		protocol.WithRespectFailures(opts.RespectFailures),
		protocol.WithLogger(opts.Logger),
	}
	for _, obs := range opts.Observers {
		coordOpts = append(coordOpts, protocol.WithObserver(obs))
	}
	if s.path != "" && opts.AutoFlush {
		coordOpts = append(coordOpts, protocol.WithPersister(protocol.PersisterFunc(func(c *container.Container) error {
			return s.engine.Save(c, s.path)
		})))
	}
	s.coord = protocol.New(coordOpts...)
	return s
}

// New creates a Store around a fresh empty container for the agent/trace.
func New(owningAgentID, traceID string, optFns ...func(o *Options)) *Store {
	return assemble(container.New(owningAgentID, traceID), buildOptions(optFns))
}

// Open loads and verifies a persisted container and wraps it in a Store.
// The store keeps writing to the same path.
func Open(path string, optFns ...func(o *Options)) (*Store, error) {
	opts := buildOptions(optFns)
	engine := persist.New(
		persist.WithCompression(opts.Compression),
		persist.WithFileLock(opts.FileLock),
		persist.WithLogger(opts.Logger),
	)
	c, err := engine.Load(path)
	if err != nil {
		return nil, err
	}
	s := assemble(c, opts)
	s.path = path
	// assemble derived the path from Directory; an explicit Open path wins,
	// so rebuild the coordinator's persister against it.
	if opts.AutoFlush {
		coordOpts := []func(o *protocol.Options){
			protocol.WithRespectFailures(opts.RespectFailures),
			protocol.WithLogger(opts.Logger),
			protocol.WithPersister(protocol.PersisterFunc(func(c *container.Container) error {
				return s.engine.Save(c, s.path)
			})),
		}
		for _, obs := range opts.Observers {
			coordOpts = append(coordOpts, protocol.WithObserver(obs))
		}
		s.coord = protocol.New(coordOpts...)
	}
	return s, nil
}

// Container exposes the underlying container for direct queries.
func (s *Store) Container() *container.Container { return s.container }

// Do runs the operation under query-before-act: an existing success receipt
// is replayed without re-execution, otherwise the work function runs exactly
// once and its outcome is recorded and (when durable) persisted.
func (s *Store) Do(ctx context.Context, operationKey string, work core.WorkFunc) (*protocol.Outcome, error) {
	return s.coord.Coordinate(ctx, s.container, operationKey, work)
}

// HasReceipt reports whether any receipt exists for the operation key.
func (s *Store) HasReceipt(operationKey string) bool {
	return s.container.HasReceipt(operationKey)
}

// Receipts returns all receipts for the key in append order.
func (s *Store) Receipts(operationKey string) []core.Receipt {
	return s.container.QueryReceipts(operationKey)
}

// Stats returns container summary statistics.
func (s *Store) Stats() container.Stats { return s.container.Stats() }

// Snapshot seals and appends a state snapshot built from the compressed
// context.
func (s *Store) Snapshot(compressedContext []byte, tokenCount, messageCount int64) (core.StateSnapshot, error) {
	snap := core.StateSnapshot{
		StateID:           uuid.NewString(),
		CreatedAt:         time.Now().UTC(),
		CompressedContext: compressedContext,
		TokenCount:        tokenCount,
		MessageCount:      messageCount,
	}.Seal()
	if err := s.container.AddStateSnapshot(snap); err != nil {
		return core.StateSnapshot{}, err
	}
	return snap, nil
}

// Compact applies the retention policy to the snapshot log and flushes when
// durable. Receipts are never pruned.
func (s *Store) Compact() (int, error) {
	pruned := s.policy.Compact(s.container)
	if pruned > 0 && s.path != "" {
		if err := s.Flush(); err != nil {
			return pruned, err
		}
	}
	return pruned, nil
}

// Flush durably writes the container. A no-op for in-memory-only stores.
func (s *Store) Flush() error {
	if s.path == "" {
		return nil
	}
	return s.engine.Save(s.container, s.path)
}

// Push serializes the container and sends it to the remote aggregation
// point.
func (s *Store) Push(ctx context.Context) error {
	if s.opts.Remote == nil {
		return fmt.Errorf("no remote sync configured")
	}
	data, err := s.engine.Marshal(s.container)
	if err != nil {
		return err
	}
	return s.opts.Remote.Push(ctx, s.container.ID(), data)
}

// Pull fetches the container bytes for the given id from the remote
// aggregation point, verifies them and replaces the store's container.
// Last-writer-wins: local unpersisted state is discarded.
func (s *Store) Pull(ctx context.Context, containerID string) error {
	if s.opts.Remote == nil {
		return fmt.Errorf("no remote sync configured")
	}
	data, err := s.opts.Remote.Pull(ctx, containerID)
	if err != nil {
		return err
	}
	c, err := s.engine.Unmarshal(data)
	if err != nil {
		return err
	}
	s.container = c
	return nil
}

// Close flushes the container. Call at session end.
func (s *Store) Close() error { return s.Flush() }

// NewInMemoryRemote returns a process-local RemoteSync, re-exported for
// convenience in tests and examples.
func NewInMemoryRemote() core.RemoteSync { return remote.NewInMemorySync() }
