package protocol

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/qprotocol/qmem/container"
	"github.com/qprotocol/qmem/core"
	"github.com/qprotocol/qmem/logging"
)

// Persister durably writes a container after a receipt append. The
// coordination protocol never touches storage directly; the persistence
// engine (or a test double) is injected behind this interface.
type Persister interface {
	Persist(c *container.Container) error
}

// PersisterFunc adapts a function to the Persister interface.
type PersisterFunc func(c *container.Container) error

// Persist calls the wrapped function.
func (f PersisterFunc) Persist(c *container.Container) error { return f(c) }

// Options configures a Coordinator.
type Options struct {
	// Persister is invoked after every receipt append. Nil skips durable
	// writes (in-memory-only operation, mostly tests).
	Persister Persister
	// RespectFailures short-circuits on a prior failure receipt instead of
	// allowing a retry. Default false: failure is not cached.
	RespectFailures bool
	// Observers fire after each receipt append. Observability only; errors
	// and panics in observers are not the protocol's concern.
	Observers []core.ReceiptObserver
	// Logger defaults to a no-op logger.
	Logger logging.Logger
}

// Coordinator runs operations under the query-before-act protocol.
type Coordinator struct {
	opts Options
}

// New constructs a Coordinator with optional overrides.
func New(optFns ...func(o *Options)) *Coordinator {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Coordinator{opts: opts}
}

// WithPersister sets the durable write hook.
func WithPersister(p Persister) func(o *Options) {
	return func(o *Options) { o.Persister = p }
}

// WithRespectFailures opts into treating a prior failure receipt as cached.
func WithRespectFailures(enabled bool) func(o *Options) {
	return func(o *Options) { o.RespectFailures = enabled }
}

// WithObserver registers a receipt observer.
func WithObserver(obs core.ReceiptObserver) func(o *Options) {
	return func(o *Options) { o.Observers = append(o.Observers, obs) }
}

// WithLogger sets the coordinator logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// Outcome is the result of a Coordinate call: either a replayed prior
// receipt or the receipt of freshly executed work. A recorded failure is a
// normal Outcome, not a Go error.
type Outcome struct {
	Receipt  core.Receipt
	Payload  []byte
	Replayed bool
}

// Failed reports whether the outcome records a failed attempt.
func (o *Outcome) Failed() bool { return !o.Receipt.Success }

// Err returns the recorded failure message, empty on success.
func (o *Outcome) Err() string { return o.Receipt.ErrorMessage }

// Coordinate applies query-before-act for the operation key:
//
//  1. An existing success receipt is replayed unchanged; the work function is
//     not invoked.
//  2. An existing failure receipt is replayed only when RespectFailures is
//     set; otherwise the operation is retried.
//  3. On a miss the work function runs exactly once. A Go error from it
//     (cancellation included) propagates and no receipt is written: partial
//     work must never be recorded. Any reported result, failed or not, is
//     sealed into a fresh receipt, appended, counted in the coordinate
//     dictionary, announced to observers and persisted.
//
// The protocol performs no implicit retries; a retry is a fresh call.
func (co *Coordinator) Coordinate(ctx context.Context, c *container.Container, operationKey string, work core.WorkFunc) (*Outcome, error) {
	if err := core.ValidateOperationKey(operationKey); err != nil {
		return nil, err
	}

	if prior, ok := c.LatestReceipt(operationKey); ok {
		if prior.Success {
			co.opts.Logger.Debug("prior work found, replaying receipt",
				"operation_key", operationKey, "receipt_id", prior.ReceiptID)
			return &Outcome{Receipt: prior, Payload: prior.ResultPayload, Replayed: true}, nil
		}
		if co.opts.RespectFailures {
			co.opts.Logger.Debug("prior failure respected, not retrying",
				"operation_key", operationKey, "receipt_id", prior.ReceiptID)
			return &Outcome{Receipt: prior, Payload: prior.ResultPayload, Replayed: true}, nil
		}
		// Failure is not cached by default; fall through to retry.
	}

	start := time.Now()
	result, err := work(ctx, operationKey)
	if err != nil {
		// Work did not run to completion (cancelled, panic-adjacent failure
		// surfaced as error). Nothing is recorded.
		return nil, err
	}
	if result == nil {
		return nil, core.NewValidationError("work_result", "work function returned neither result nor error")
	}
	latency := time.Since(start)

	r := core.Receipt{
		ReceiptID:     uuid.NewString(),
		OperationKey:  operationKey,
		OwningAgentID: c.OwningAgentID(),
		TraceID:       c.TraceID(),
		CreatedAt:     time.Now().UTC(),
		Success:       result.Success,
		ResultPayload: result.Payload,
		ErrorMessage:  result.ErrorMessage,
		TokenCost:     result.TokenCost,
		Latency:       latency,
	}.Seal()

	if err := c.AddReceipt(r); err != nil {
		return nil, err
	}
	if err := c.RecordCoordinateUsage(operationKey, r.TokenCost, r.OwningAgentID, r.CreatedAt); err != nil {
		return nil, err
	}
	for _, obs := range co.opts.Observers {
		obs(r.Clone())
	}
	co.opts.Logger.Info("operation recorded",
		"operation_key", operationKey, "receipt_id", r.ReceiptID,
		"success", r.Success, "token_cost", r.TokenCost, "latency", latency)

	if co.opts.Persister != nil {
		if err := co.opts.Persister.Persist(c); err != nil {
			// The receipt is in memory and the container stays valid; the
			// caller may retry the save.
			return nil, err
		}
	}
	return &Outcome{Receipt: r, Payload: r.ResultPayload}, nil
}
