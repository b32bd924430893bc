package videoledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelmesh/core/pkg/contracts"
)

var (
	nodeA = contracts.Address("0x1111111111111111111111111111111111111111")
	nodeB = contracts.Address("0x2222222222222222222222222222222222222222")
)

func hash(b byte) contracts.Hash {
	var h contracts.Hash
	h[0] = b
	return h
}

func reg(h contracts.Hash) Registration {
	return Registration{
		ContentHash:    h,
		PerceptualHash: "phash-1",
		IsDeepfake:     true,
		ConfidenceBp:   8500,
		IPHash:         hash(0xee),
		Country:        "US",
		City:           "Austin",
	}
}

func TestRegisterNew(t *testing.T) {
	l := New()
	res, err := l.Register(nodeA, reg(hash(1)))
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Equal(t, uint64(1), res.DetectionCount)

	stats := l.Stats()
	assert.Equal(t, uint64(1), stats.Total)
	assert.Equal(t, uint64(1), stats.DeepfakeCount)
	assert.Equal(t, uint64(0), stats.AuthenticCount)
}

func TestRegisterZeroHashRejected(t *testing.T) {
	l := New()
	_, err := l.Register(nodeA, reg(contracts.ZeroHash))
	assert.ErrorIs(t, err, contracts.ErrZeroHash)
	assert.Equal(t, uint64(0), l.Stats().Total)
}

func TestRegisterScoreOutOfRange(t *testing.T) {
	l := New()
	r := reg(hash(1))
	r.ConfidenceBp = 10001
	_, err := l.Register(nodeA, r)
	assert.ErrorIs(t, err, contracts.ErrScoreOutOfRange)
}

// Re-detection must never rewrite the first verdict: the original
// isDeepfake/score/submitter/firstSeen survive arbitrarily different later
// calls, while counters and lastSeen move.
func TestIdempotentProvenance(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New().WithClock(func() time.Time { return now })

	first := reg(hash(1))
	res, err := l.Register(nodeA, first)
	require.NoError(t, err)
	require.True(t, res.IsNew)

	// A sloppier node re-detects with a contradictory verdict.
	now = now.Add(time.Hour)
	second := reg(hash(1))
	second.IsDeepfake = false
	second.ConfidenceBp = 100
	res, err = l.Register(nodeB, second)
	require.NoError(t, err)
	assert.False(t, res.IsNew)
	assert.Equal(t, uint64(2), res.DetectionCount)

	rec, err := l.Get(hash(1))
	require.NoError(t, err)
	assert.True(t, rec.IsDeepfake, "first verdict is authoritative")
	assert.Equal(t, uint32(8500), rec.ConfidenceBp)
	assert.Equal(t, nodeA, rec.FirstSubmitter)
	assert.Equal(t, now.Add(-time.Hour), rec.FirstSeen)
	assert.Equal(t, now, rec.LastSeen)
	assert.Equal(t, uint64(2), rec.DetectionCount)

	// Global counters count distinct videos, not detections.
	stats := l.Stats()
	assert.Equal(t, uint64(1), stats.Total)
	assert.Equal(t, uint64(1), stats.DeepfakeCount)
	assert.Equal(t, uint64(0), stats.AuthenticCount)
}

func TestBatchRegisterSkipsZeroHash(t *testing.T) {
	l := New()
	b := Batch{
		ContentHashes:    []contracts.Hash{hash(1), contracts.ZeroHash, hash(2)},
		PerceptualHashes: []string{"p1", "p2", "p3"},
		IsDeepfake:       []bool{true, true, false},
		ConfidenceBp:     []uint32{9000, 9000, 2000},
		IPHashes:         []contracts.Hash{hash(0xe1), hash(0xe2), hash(0xe3)},
		Countries:        []string{"US", "US", "DE"},
		Cities:           []string{"", "", ""},
	}
	results, err := l.BatchRegister(nodeA, b)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].IsNew)
	assert.True(t, results[1].Skipped)
	assert.True(t, results[2].IsNew)

	stats := l.Stats()
	assert.Equal(t, uint64(2), stats.Total)
	assert.Equal(t, uint64(1), stats.DeepfakeCount)
	assert.Equal(t, uint64(1), stats.AuthenticCount)
}

func TestBatchRegisterLengthMismatch(t *testing.T) {
	l := New()
	b := Batch{
		ContentHashes:    []contracts.Hash{hash(1)},
		PerceptualHashes: []string{"p1", "p2"},
		IsDeepfake:       []bool{true},
		ConfidenceBp:     []uint32{9000},
		IPHashes:         []contracts.Hash{hash(0xe1)},
		Countries:        []string{"US"},
		Cities:           []string{""},
	}
	_, err := l.BatchRegister(nodeA, b)
	assert.ErrorIs(t, err, contracts.ErrLengthMismatch)
	assert.Equal(t, uint64(0), l.Stats().Total)
}

func TestBatchRegisterTooLarge(t *testing.T) {
	l := New()
	n := MaxBatchSize + 1
	b := Batch{
		ContentHashes:    make([]contracts.Hash, n),
		PerceptualHashes: make([]string, n),
		IsDeepfake:       make([]bool, n),
		ConfidenceBp:     make([]uint32, n),
		IPHashes:         make([]contracts.Hash, n),
		Countries:        make([]string, n),
		Cities:           make([]string, n),
	}
	_, err := l.BatchRegister(nodeA, b)
	assert.ErrorIs(t, err, contracts.ErrBatchTooLarge)
}

func TestFindSimilar(t *testing.T) {
	l := New()
	r1 := reg(hash(1))
	r2 := reg(hash(2))
	r2.PerceptualHash = r1.PerceptualHash
	r3 := reg(hash(3))
	r3.PerceptualHash = "phash-other"

	for _, r := range []Registration{r1, r2, r3} {
		_, err := l.Register(nodeA, r)
		require.NoError(t, err)
	}

	bucket := l.FindSimilar("phash-1")
	assert.Equal(t, []contracts.Hash{hash(1), hash(2)}, bucket)
	assert.Empty(t, l.FindSimilar("phash-unknown"))
}

func TestGetNotFound(t *testing.T) {
	l := New()
	_, err := l.Get(hash(9))
	assert.ErrorIs(t, err, contracts.ErrNotFound)
}

func TestHashesPaginated(t *testing.T) {
	l := New()
	for i := byte(1); i <= 5; i++ {
		r := reg(hash(i))
		r.PerceptualHash = string(rune('a' + i))
		_, err := l.Register(nodeA, r)
		require.NoError(t, err)
	}

	page := l.Hashes(1, 2)
	assert.Equal(t, []contracts.Hash{hash(2), hash(3)}, page)
	// Out-of-range pages are empty, not errors.
	assert.Empty(t, l.Hashes(10, 2))
	assert.Len(t, l.Hashes(3, 100), 2)
}

func TestDeepfakeHashes(t *testing.T) {
	l := New()
	r1 := reg(hash(1))
	r2 := reg(hash(2))
	r2.IsDeepfake = false
	_, _ = l.Register(nodeA, r1)
	_, _ = l.Register(nodeA, r2)

	assert.Equal(t, []contracts.Hash{hash(1)}, l.DeepfakeHashes())
}
