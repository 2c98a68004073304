package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/capgraph/api/schemas"
	"github.com/xkilldash9x/capgraph/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func event(source string, seq uint64) schemas.Event {
	return schemas.Event{
		Seq:        seq,
		Timestamp:  time.Now(),
		Source:     source,
		Target:     "sink",
		Capability: "topic",
		Weight:     1,
	}
}

func TestNewQueue_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewQueue(0, config.PolicyBlock, nil)
	assert.Error(t, err, "non-positive capacity must be rejected")

	_, err = NewQueue(4, "reject-newest", nil)
	assert.Error(t, err, "unknown policies must be rejected")
}

func TestQueue_EnqueueDequeue_FIFO(t *testing.T) {
	t.Parallel()
	q, err := NewQueue(8, config.PolicyBlock, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer q.Close()

	ctx := context.Background()
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, q.Enqueue(ctx, event("a", i)))
	}
	assert.Equal(t, 3, q.Depth())

	batch, err := q.DequeueBatch(ctx, 10, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	for i, ev := range batch {
		assert.Equal(t, uint64(i+1), ev.Seq, "arrival order must be preserved")
	}
}

func TestQueue_BlockPolicy_SuspendsProducer(t *testing.T) {
	t.Parallel()
	q, err := NewQueue(2, config.PolicyBlock, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer q.Close()

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, event("a", 1)))
	require.NoError(t, q.Enqueue(ctx, event("a", 2)))

	// The third enqueue must block until the consumer makes room.
	unblocked := make(chan error, 1)
	go func() {
		unblocked <- q.Enqueue(ctx, event("a", 3))
	}()

	select {
	case err := <-unblocked:
		t.Fatalf("enqueue on a full queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	batch, err := q.DequeueBatch(ctx, 1, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	select {
	case err := <-unblocked:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("producer was not released after the consumer freed a slot")
	}
	assert.Equal(t, uint64(0), q.Drops(), "the blocking policy never drops")
}

func TestQueue_BlockPolicy_ContextCancel(t *testing.T) {
	t.Parallel()
	q, err := NewQueue(1, config.PolicyBlock, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), event("a", 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = q.Enqueue(ctx, event("a", 2))
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrQueueSaturated)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueue_DropOldestPolicy(t *testing.T) {
	t.Parallel()
	q, err := NewQueue(2, config.PolicyDropOldest, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer q.Close()

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, event("a", 1)))
	require.NoError(t, q.Enqueue(ctx, event("a", 2)))
	require.NoError(t, q.Enqueue(ctx, event("a", 3)), "drop-oldest must admit immediately")

	assert.Equal(t, uint64(1), q.Drops())
	assert.Equal(t, 2, q.Depth())

	batch, err := q.DequeueBatch(ctx, 10, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, uint64(2), batch[0].Seq, "the oldest event must be the one evicted")
	assert.Equal(t, uint64(3), batch[1].Seq)
}

func TestQueue_DequeueBatch_WaitsForFirstEvent(t *testing.T) {
	t.Parallel()
	q, err := NewQueue(4, config.PolicyBlock, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer q.Close()

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = q.Enqueue(context.Background(), event("a", 1))
	}()

	// maxWait bounds the batch window after the first arrival, not the
	// initial wait.
	batch, err := q.DequeueBatch(context.Background(), 4, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, batch, 1)
}

func TestQueue_Close(t *testing.T) {
	t.Parallel()
	q, err := NewQueue(4, config.PolicyBlock, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, event("a", 1)))
	require.NoError(t, q.Enqueue(ctx, event("a", 2)))
	q.Close()
	q.Close() // idempotent

	assert.ErrorIs(t, q.Enqueue(ctx, event("a", 3)), schemas.ErrQueueClosed)

	// Buffered events remain dequeueable after close.
	batch, err := q.DequeueBatch(ctx, 10, time.Millisecond)
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	// Once drained, an empty batch signals shutdown.
	batch, err = q.DequeueBatch(ctx, 10, time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, batch)
}
