package tracking

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelmesh/core/pkg/contracts"
)

var reporter = contracts.Address("0x3333333333333333333333333333333333333333")

func hash(b byte) contracts.Hash {
	var h contracts.Hash
	h[0] = b
	return h
}

func sighting(h contracts.Hash, ip byte, country string) Sighting {
	return Sighting{
		ContentHash: h,
		IPHash:      hash(ip),
		Country:     country,
		Platform:    "Direct Upload",
	}
}

func TestRecordSpreadZeroHash(t *testing.T) {
	tr := New()
	_, err := tr.RecordSpread(reporter, sighting(contracts.ZeroHash, 1, "US"))
	assert.ErrorIs(t, err, contracts.ErrZeroHash)
}

func TestCountrySpreadDetection(t *testing.T) {
	tr := New()
	h := hash(1)

	countries := []string{"US", "US", "UK", "US", "Germany"}
	wantNew := []bool{false, false, true, false, true}

	for i, c := range countries {
		out, err := tr.RecordSpread(reporter, sighting(h, byte(10+i), c))
		require.NoError(t, err)
		assert.Equalf(t, wantNew[i], out.NewCountry, "event %d (%s)", i, c)
		if out.NewCountry {
			assert.Equal(t, countries[i-1], out.PreviousCountry)
		}
	}

	assert.Equal(t, uint64(3), tr.UniqueCountryCount(h))
	assert.Equal(t, uint64(5), tr.SpreadCount(h))
}

func TestSameIPReupload(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := start
	tr := New().WithClock(func() time.Time { return now })
	h := hash(1)

	out, err := tr.RecordSpread(reporter, sighting(h, 7, "US"))
	require.NoError(t, err)
	assert.False(t, out.SameIPReupload)
	assert.Equal(t, uint64(1), out.IPUploadCount)

	now = start.Add(42 * time.Minute)
	out, err = tr.RecordSpread(reporter, sighting(h, 7, "US"))
	require.NoError(t, err)
	assert.True(t, out.SameIPReupload)
	assert.Equal(t, uint64(2), out.IPUploadCount)
	assert.Equal(t, 42*time.Minute, out.TimeSinceFirst)

	// A different IP is not a re-upload.
	out, err = tr.RecordSpread(reporter, sighting(h, 8, "US"))
	require.NoError(t, err)
	assert.False(t, out.SameIPReupload)

	assert.Equal(t, uint64(2), tr.IPUploadCount(h, hash(7)))
	assert.Equal(t, uint64(1), tr.IPUploadCount(h, hash(8)))
}

func TestViralMilestones(t *testing.T) {
	tr := New()
	h := hash(1)

	milestones := map[uint64]bool{10: true, 50: true, 100: true, 500: true, 1000: true}
	for i := uint64(1); i <= 120; i++ {
		out, err := tr.RecordSpread(reporter, sighting(h, byte(i%200), "US"))
		require.NoError(t, err)
		assert.Equalf(t, milestones[i], out.ViralMilestone, "count %d", i)
	}
}

func TestEventsOrderAndPagination(t *testing.T) {
	tr := New()
	h := hash(1)
	for i := 0; i < 5; i++ {
		s := sighting(h, byte(i), "US")
		s.SourceURL = fmt.Sprintf("https://example.com/%d", i)
		_, err := tr.RecordSpread(reporter, s)
		require.NoError(t, err)
	}

	evts := tr.Events(h)
	require.Len(t, evts, 5)
	for i, e := range evts {
		assert.Equal(t, fmt.Sprintf("https://example.com/%d", i), e.SourceURL)
	}

	page := tr.EventsPaginated(h, 2, 2)
	require.Len(t, page, 2)
	assert.Equal(t, "https://example.com/2", page[0].SourceURL)
	assert.Empty(t, tr.EventsPaginated(h, 9, 2))
}

func TestLineageImmutable(t *testing.T) {
	tr := New()
	child, parentA, parentB := hash(1), hash(2), hash(3)

	require.NoError(t, tr.RegisterLineage(child, parentA, 1, []string{"crop", "recompress"}))
	err := tr.RegisterLineage(child, parentB, 1, nil)
	assert.ErrorIs(t, err, contracts.ErrAlreadyRegistered)

	rec, err := tr.GetLineage(child)
	require.NoError(t, err)
	assert.Equal(t, parentA, rec.ParentHash)
	assert.Equal(t, []string{"crop", "recompress"}, rec.Mutations)
}

func TestLineageSelfReference(t *testing.T) {
	tr := New()
	err := tr.RegisterLineage(hash(1), hash(1), 1, nil)
	assert.ErrorIs(t, err, contracts.ErrSelfReference)
}

func TestLineageChildrenBackLink(t *testing.T) {
	tr := New()
	root, childA, childB := hash(1), hash(2), hash(3)

	require.NoError(t, tr.RegisterLineage(root, contracts.ZeroHash, 0, nil))
	require.NoError(t, tr.RegisterLineage(childA, root, 1, nil))
	require.NoError(t, tr.RegisterLineage(childB, root, 1, nil))

	rec, err := tr.GetLineage(root)
	require.NoError(t, err)
	assert.Equal(t, []contracts.Hash{childA, childB}, rec.Children)
}

func TestTraceToRoot(t *testing.T) {
	tr := New()
	// gen0 ← gen1 ← gen2 ← gen3 (gen0 is the root)
	chain := []contracts.Hash{hash(1), hash(2), hash(3), hash(4)}
	require.NoError(t, tr.RegisterLineage(chain[0], contracts.ZeroHash, 0, nil))
	for i := 1; i < len(chain); i++ {
		require.NoError(t, tr.RegisterLineage(chain[i], chain[i-1], uint64(i), nil))
	}

	// Three ancestors above gen3; budget of 5 is not exhausted.
	got := tr.TraceToRoot(chain[3], 5)
	assert.Equal(t, []contracts.Hash{chain[2], chain[1], chain[0]}, got)

	// Depth bound truncates long chains.
	long := make([]contracts.Hash, 11)
	for i := range long {
		long[i] = hash(byte(100 + i))
	}
	require.NoError(t, tr.RegisterLineage(long[0], contracts.ZeroHash, 0, nil))
	for i := 1; i < len(long); i++ {
		require.NoError(t, tr.RegisterLineage(long[i], long[i-1], uint64(i), nil))
	}
	assert.Len(t, tr.TraceToRoot(long[10], 5), 5)

	// Unregistered hash traces to nothing.
	assert.Empty(t, tr.TraceToRoot(hash(99), 5))
}
