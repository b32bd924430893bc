package submit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelmesh/core/pkg/store"
)

func openTestQueue(t *testing.T, opts ...Option) *Queue {
	t.Helper()
	db, err := store.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	q, err := New(db, opts...)
	require.NoError(t, err)
	return q
}

type payload struct {
	Hash string `json:"hash"`
}

func TestEnqueueAndConfirm(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)

	id, err := q.Enqueue(ctx, "detection", payload{Hash: "0xabc"})
	require.NoError(t, err)

	var got payload
	n, err := q.DrainOnce(ctx, func(_ context.Context, kind string, raw []byte) error {
		assert.Equal(t, "detection", kind)
		return json.Unmarshal(raw, &got)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "0xabc", got.Hash)

	it, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, it.Status)
	assert.Equal(t, 1, it.Attempts)
	assert.Empty(t, it.LastError)
}

func TestFailureSchedulesRetryThenParksFailed(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	q := openTestQueue(t,
		WithMaxRetries(2),
		WithBaseDelay(time.Second),
		WithClock(func() time.Time { return now }),
	)

	id, err := q.Enqueue(ctx, "detection", payload{Hash: "0xabc"})
	require.NoError(t, err)

	boom := errors.New("rpc unavailable")
	fail := func(context.Context, string, []byte) error { return boom }

	// Attempt 1 fails: item becomes retrying and is not due yet.
	_, err = q.DrainOnce(ctx, fail)
	require.NoError(t, err)
	it, _ := q.Get(ctx, id)
	assert.Equal(t, StatusRetrying, it.Status)
	assert.Equal(t, 1, it.Attempts)
	assert.Equal(t, boom.Error(), it.LastError)

	n, err := q.DrainOnce(ctx, fail)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "backoff holds the item back")

	// Attempt 2 after the backoff window.
	now = now.Add(time.Minute)
	_, err = q.DrainOnce(ctx, fail)
	require.NoError(t, err)
	it, _ = q.Get(ctx, id)
	assert.Equal(t, StatusRetrying, it.Status)
	assert.Equal(t, 2, it.Attempts)

	// Attempt 3 exceeds maxRetries=2: parked as failed.
	now = now.Add(time.Minute)
	_, err = q.DrainOnce(ctx, fail)
	require.NoError(t, err)
	it, _ = q.Get(ctx, id)
	assert.Equal(t, StatusFailed, it.Status)

	// Failed items stay out of the drain loop.
	now = now.Add(time.Hour)
	n, err = q.DrainOnce(ctx, fail)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRetryFailedRequeues(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	q := openTestQueue(t, WithMaxRetries(0), WithClock(func() time.Time { return now }))

	id, err := q.Enqueue(ctx, "detection", payload{Hash: "0xabc"})
	require.NoError(t, err)

	_, err = q.DrainOnce(ctx, func(context.Context, string, []byte) error { return errors.New("boom") })
	require.NoError(t, err)
	it, _ := q.Get(ctx, id)
	require.Equal(t, StatusFailed, it.Status)

	requeued, err := q.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued)

	_, err = q.DrainOnce(ctx, func(context.Context, string, []byte) error { return nil })
	require.NoError(t, err)
	it, _ = q.Get(ctx, id)
	assert.Equal(t, StatusConfirmed, it.Status)
}

func TestDrainRespectsBatchSize(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t, WithBatchSize(3))

	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(ctx, "detection", payload{Hash: "0xabc"})
		require.NoError(t, err)
	}

	ok := func(context.Context, string, []byte) error { return nil }
	n, err := q.DrainOnce(ctx, ok)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = q.DrainOnce(ctx, ok)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), stats[StatusConfirmed])
}

func TestGetUnknownID(t *testing.T) {
	q := openTestQueue(t)
	_, err := q.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWorkerStartStop(t *testing.T) {
	ctx := context.Background()
	q := openTestQueue(t)

	_, err := q.Enqueue(ctx, "detection", payload{Hash: "0xabc"})
	require.NoError(t, err)

	drained := make(chan struct{}, 1)
	q.Start(ctx, func(context.Context, string, []byte) error {
		select {
		case drained <- struct{}{}:
		default:
		}
		return nil
	}, 10*time.Millisecond)

	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never drained the queue")
	}
	q.Stop()
}
