package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelmesh/core/pkg/contracts"
)

func hash(b byte) contracts.Hash {
	var h contracts.Hash
	h[0] = b
	return h
}

func record(b byte) contracts.VideoRecord {
	return contracts.VideoRecord{
		ContentHash:  hash(b),
		IsDeepfake:   true,
		ConfidenceBp: 9000,
	}
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)

	_, err := c.GetVerdict(ctx, hash(1))
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.PutVerdict(ctx, record(1)))
	rec, err := c.GetVerdict(ctx, hash(1))
	require.NoError(t, err)
	assert.True(t, rec.IsDeepfake)
	assert.Equal(t, uint32(9000), rec.ConfidenceBp)
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := start
	c := NewMemoryCache(time.Minute).WithClock(func() time.Time { return now })

	require.NoError(t, c.PutVerdict(ctx, record(1)))

	now = start.Add(59 * time.Second)
	_, err := c.GetVerdict(ctx, hash(1))
	assert.NoError(t, err)

	now = start.Add(61 * time.Second)
	_, err = c.GetVerdict(ctx, hash(1))
	assert.ErrorIs(t, err, ErrMiss)
	assert.Zero(t, c.Len(), "expired entry is swept on read")
}

func TestMemoryCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute)

	require.NoError(t, c.PutVerdict(ctx, record(1)))
	require.NoError(t, c.Invalidate(ctx, hash(1)))
	_, err := c.GetVerdict(ctx, hash(1))
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryCacheIsVerdictCache(t *testing.T) {
	var _ VerdictCache = NewMemoryCache(0)
	var _ VerdictCache = (*RedisCache)(nil)
}
