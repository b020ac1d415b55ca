package protocol

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qprotocol/qmem/container"
	"github.com/qprotocol/qmem/core"
)

func succeedingWork(payload string, cost int64) core.WorkFunc {
	return func(ctx context.Context, operationKey string) (*core.WorkResult, error) {
		return &core.WorkResult{Success: true, Payload: []byte(payload), TokenCost: cost}, nil
	}
}

func failingWork(msg string) core.WorkFunc {
	return func(ctx context.Context, operationKey string) (*core.WorkResult, error) {
		return &core.WorkResult{Success: false, ErrorMessage: msg}, nil
	}
}

func countingWork(counter *int, inner core.WorkFunc) core.WorkFunc {
	return func(ctx context.Context, operationKey string) (*core.WorkResult, error) {
		*counter++
		return inner(ctx, operationKey)
	}
}

func TestCoordinate_Idempotence(t *testing.T) {
	co := New()
	c := container.New("agent-1", "t1")
	executions := 0
	work := countingWork(&executions, succeedingWork("payload", 10))

	var first []byte
	for i := 0; i < 5; i++ {
		out, err := co.Coordinate(context.Background(), c, "git:clone:repo", work)
		require.NoError(t, err)
		if i == 0 {
			require.False(t, out.Replayed)
			first = out.Payload
		} else {
			assert.True(t, out.Replayed)
		}
		assert.Equal(t, first, out.Payload)
	}
	assert.Equal(t, 1, executions, "work must run exactly once")
	assert.Equal(t, 1, c.Stats().ReceiptCount, "exactly one success receipt")
}

func TestCoordinate_Scenario(t *testing.T) {
	// The end-to-end contract: empty container, first call executes and
	// records, a second call with failing work still replays the original
	// payload and appends nothing.
	co := New()
	c := container.New("agent-1", "t1")
	require.False(t, c.HasReceipt("git:clone:repo"))

	out, err := co.Coordinate(context.Background(), c, "git:clone:repo", succeedingWork("rev-1", 5))
	require.NoError(t, err)
	require.False(t, out.Failed())
	assert.Equal(t, []byte("rev-1"), out.Payload)
	assert.Equal(t, 1, c.Stats().ReceiptCount)

	out, err = co.Coordinate(context.Background(), c, "git:clone:repo", failingWork("must not run"))
	require.NoError(t, err)
	assert.True(t, out.Replayed)
	assert.Equal(t, []byte("rev-1"), out.Payload)
	assert.Equal(t, 1, c.Stats().ReceiptCount)
}

func TestCoordinate_FailureNotCachedByDefault(t *testing.T) {
	co := New()
	c := container.New("agent-1", "t1")

	out, err := co.Coordinate(context.Background(), c, "deploy:service", failingWork("network down"))
	require.NoError(t, err, "recorded failure is an outcome, not an error")
	assert.True(t, out.Failed())
	assert.Equal(t, "network down", out.Err())
	assert.Equal(t, 1, c.Stats().ReceiptCount)

	// retry allowed: a fresh receipt with a new id, same key
	out2, err := co.Coordinate(context.Background(), c, "deploy:service", succeedingWork("deployed", 3))
	require.NoError(t, err)
	require.False(t, out2.Replayed)
	assert.False(t, out2.Failed())
	assert.NotEqual(t, out.Receipt.ReceiptID, out2.Receipt.ReceiptID)
	assert.Equal(t, 2, c.Stats().ReceiptCount)

	// success is now cached
	out3, err := co.Coordinate(context.Background(), c, "deploy:service", failingWork("must not run"))
	require.NoError(t, err)
	assert.True(t, out3.Replayed)
	assert.Equal(t, []byte("deployed"), out3.Payload)
}

func TestCoordinate_RespectFailures(t *testing.T) {
	co := New(WithRespectFailures(true))
	c := container.New("agent-1", "t1")

	_, err := co.Coordinate(context.Background(), c, "deploy:service", failingWork("broken"))
	require.NoError(t, err)

	executions := 0
	out, err := co.Coordinate(context.Background(), c, "deploy:service", countingWork(&executions, succeedingWork("x", 1)))
	require.NoError(t, err)
	assert.True(t, out.Replayed)
	assert.True(t, out.Failed())
	assert.Equal(t, 0, executions, "prior failure must short-circuit")
	assert.Equal(t, 1, c.Stats().ReceiptCount)
}

func TestCoordinate_CancelledWorkWritesNoReceipt(t *testing.T) {
	co := New()
	c := container.New("agent-1", "t1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := co.Coordinate(ctx, c, "slow:op", func(ctx context.Context, operationKey string) (*core.WorkResult, error) {
		return nil, ctx.Err()
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, c.Stats().ReceiptCount, "partial work must never be recorded")
	assert.False(t, c.HasReceipt("slow:op"))
}

func TestCoordinate_MalformedKey(t *testing.T) {
	co := New()
	c := container.New("agent-1", "t1")
	for _, key := range []string{"", "has space", "tab\tkey", "ctl\x01"} {
		executions := 0
		_, err := co.Coordinate(context.Background(), c, key, countingWork(&executions, succeedingWork("x", 1)))
		require.Error(t, err, "key %q", key)
		var ve *core.ValidationError
		assert.ErrorAs(t, err, &ve)
		assert.Equal(t, 0, executions)
	}
}

func TestCoordinate_UpdatesDictionaryAndObservers(t *testing.T) {
	var observed []core.Receipt
	co := New(WithObserver(func(r core.Receipt) { observed = append(observed, r) }))
	c := container.New("agent-1", "t1")

	_, err := co.Coordinate(context.Background(), c, "git:clone:repo-a", succeedingWork("a", 10))
	require.NoError(t, err)
	_, err = co.Coordinate(context.Background(), c, "git:clone:repo-b", succeedingWork("b", 20))
	require.NoError(t, err)
	// replay fires no observer and counts no usage
	_, err = co.Coordinate(context.Background(), c, "git:clone:repo-a", succeedingWork("c", 30))
	require.NoError(t, err)

	require.Len(t, observed, 2)
	entry, ok := c.CoordinateEntry("git:clone")
	require.True(t, ok)
	assert.Equal(t, int64(2), entry.UsageCount)
	assert.Equal(t, float64(15), entry.AverageTokenCost)
}

func TestCoordinate_PersisterFailureSurfacesButKeepsReceipt(t *testing.T) {
	persistErr := errors.New("disk full")
	co := New(WithPersister(PersisterFunc(func(c *container.Container) error { return persistErr })))
	c := container.New("agent-1", "t1")

	_, err := co.Coordinate(context.Background(), c, "op:run", succeedingWork("x", 1))
	require.ErrorIs(t, err, persistErr)
	// the receipt is in memory; the container stays valid for a retried save
	assert.Equal(t, 1, c.Stats().ReceiptCount)
	require.NoError(t, c.VerifyIntegrity())
}

func TestCoordinate_PersisterInvokedOnRecord(t *testing.T) {
	saves := 0
	co := New(WithPersister(PersisterFunc(func(c *container.Container) error { saves++; return nil })))
	c := container.New("agent-1", "t1")

	_, err := co.Coordinate(context.Background(), c, "op:run", succeedingWork("x", 1))
	require.NoError(t, err)
	_, err = co.Coordinate(context.Background(), c, "op:run", succeedingWork("x", 1))
	require.NoError(t, err)
	assert.Equal(t, 1, saves, "replay must not trigger a save")
}
