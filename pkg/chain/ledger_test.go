package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelmesh/core/pkg/contracts"
	"github.com/sentinelmesh/core/pkg/tracking"
	"github.com/sentinelmesh/core/pkg/videoledger"
)

var (
	owner    = contracts.Address("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	nodeA    = contracts.Address("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	stranger = contracts.Address("0xcccccccccccccccccccccccccccccccccccccccc")
)

func hash(b byte) contracts.Hash {
	var h contracts.Hash
	h[0] = b
	return h
}

func newTestChain(t *testing.T) *Chain {
	t.Helper()
	c := New(owner)
	require.NoError(t, c.AuthorizeNode(owner, nodeA, "edge-1", contracts.NodeClassEdge))
	return c
}

func detection(h contracts.Hash) videoledger.Registration {
	return videoledger.Registration{
		ContentHash:    h,
		PerceptualHash: "phash-1",
		IsDeepfake:     true,
		ConfidenceBp:   9000,
		IPHash:         hash(0xee),
		Country:        "US",
	}
}

func eventTypes(entries []Entry) []EventType {
	out := make([]EventType, len(entries))
	for i, e := range entries {
		out[i] = e.Type
	}
	return out
}

func TestUnauthorizedCallerRejected(t *testing.T) {
	c := newTestChain(t)

	_, err := c.SubmitDetection(stranger, detection(hash(1)))
	assert.ErrorIs(t, err, contracts.ErrNotAuthorized)

	_, err = c.ReportSighting(stranger, tracking.Sighting{ContentHash: hash(1)})
	assert.ErrorIs(t, err, contracts.ErrNotAuthorized)

	assert.ErrorIs(t, c.AcknowledgeAlert(stranger, 1), contracts.ErrNotAuthorized)
	assert.Equal(t, uint64(0), c.Stats().Total, "no state change on rejection")
}

func TestAdminOpsAreOwnerOnly(t *testing.T) {
	c := newTestChain(t)

	err := c.AuthorizeNode(nodeA, stranger, "x", contracts.NodeClassEdge)
	assert.ErrorIs(t, err, contracts.ErrNotOwner)

	err = c.SetGlobalRules(nodeA, contracts.DefaultAlertRule())
	assert.ErrorIs(t, err, contracts.ErrNotOwner)

	err = c.SetAlertCooldown(nodeA, time.Minute)
	assert.ErrorIs(t, err, contracts.ErrNotOwner)
}

func TestSubmitDetectionEmitsAndAlerts(t *testing.T) {
	c := newTestChain(t)

	out, err := c.SubmitDetection(nodeA, detection(hash(1)))
	require.NoError(t, err)
	assert.True(t, out.Register.IsNew)
	require.Len(t, out.AlertIDs, 1)

	alert, err := c.Alert(out.AlertIDs[0])
	require.NoError(t, err)
	assert.Equal(t, contracts.AlertFirstDetection, alert.Type)
	assert.Equal(t, contracts.SeverityCritical, alert.Severity)

	// NodeAuthorized (from setup), DeepfakeDetected, AlertCreated.
	got := eventTypes(c.Log().Range(0, 0))
	assert.Equal(t, []EventType{EventNodeAuthorized, EventDeepfakeDetected, EventAlertCreated}, got)
}

func TestAuthenticVideoJournaledWithoutAlerts(t *testing.T) {
	c := newTestChain(t)
	reg := detection(hash(1))
	reg.IsDeepfake = false

	out, err := c.SubmitDetection(nodeA, reg)
	require.NoError(t, err)
	assert.True(t, out.Register.IsNew)
	assert.Empty(t, out.AlertIDs)

	// NodeAuthorized (from setup), then the registration itself.
	got := eventTypes(c.Log().Range(0, 0))
	assert.Equal(t, []EventType{EventNodeAuthorized, EventVideoRegistered}, got)
}

func TestRedetectionEmitsVideoRedetected(t *testing.T) {
	c := newTestChain(t)
	_, err := c.SubmitDetection(nodeA, detection(hash(1)))
	require.NoError(t, err)

	out, err := c.SubmitDetection(nodeA, detection(hash(1)))
	require.NoError(t, err)
	assert.False(t, out.Register.IsNew)
	assert.Equal(t, uint64(2), out.Register.DetectionCount)

	entries := c.Log().Range(0, 0)
	assert.Equal(t, EventVideoRedetected, entries[len(entries)-1].Type)
}

func TestSightingBeforeRegistrationAccepted(t *testing.T) {
	c := newTestChain(t)
	h := hash(9)

	// Nodes report independently; a sighting can race ahead of the
	// registration and must still land.
	out, err := c.ReportSighting(nodeA, tracking.Sighting{ContentHash: h, IPHash: hash(1), Country: "US"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), out.Spread.SpreadCount)
	assert.Equal(t, uint64(1), c.SpreadCount(h))

	// The registration arrives afterwards and both survive.
	_, err = c.SubmitDetection(nodeA, detection(h))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), c.SpreadCount(h))

	video, err := c.Video(h)
	require.NoError(t, err)
	assert.True(t, video.IsDeepfake)
}

func TestSightingDerivesReuploadAndGeoEvents(t *testing.T) {
	c := newTestChain(t)
	h := hash(1)
	_, err := c.SubmitDetection(nodeA, detection(h))
	require.NoError(t, err)

	// First sighting from IP 7 in the US.
	out, err := c.ReportSighting(nodeA, tracking.Sighting{ContentHash: h, IPHash: hash(7), Country: "US"})
	require.NoError(t, err)
	assert.False(t, out.Spread.SameIPReupload)

	// Same IP again: SameIPReupload event, no alert yet (threshold 3).
	out, err = c.ReportSighting(nodeA, tracking.Sighting{ContentHash: h, IPHash: hash(7), Country: "US"})
	require.NoError(t, err)
	assert.True(t, out.Spread.SameIPReupload)
	assert.Empty(t, out.AlertIDs)

	// Third upload crosses the default re-upload threshold.
	out, err = c.ReportSighting(nodeA, tracking.Sighting{ContentHash: h, IPHash: hash(7), Country: "US"})
	require.NoError(t, err)
	require.Len(t, out.AlertIDs, 1)
	alert, _ := c.Alert(out.AlertIDs[0])
	assert.Equal(t, contracts.AlertReupload, alert.Type)

	// A new country emits NewLocationSpread (below geo alert threshold of 5).
	out, err = c.ReportSighting(nodeA, tracking.Sighting{ContentHash: h, IPHash: hash(8), Country: "UK"})
	require.NoError(t, err)
	assert.True(t, out.Spread.NewCountry)
	assert.Empty(t, out.AlertIDs)

	entries := c.Log().Range(0, 0)
	types := eventTypes(entries)
	assert.Contains(t, types, EventSameIPReupload)
	assert.Contains(t, types, EventNewLocationSpread)
	assert.Contains(t, types, EventSpreadRecorded)
}

func TestGeoSpreadAlertAtCountryThreshold(t *testing.T) {
	c := newTestChain(t)
	h := hash(1)
	_, err := c.SubmitDetection(nodeA, detection(h))
	require.NoError(t, err)

	countries := []string{"US", "UK", "Germany", "France", "Japan"}
	var last SightingOutcome
	for i, country := range countries {
		last, err = c.ReportSighting(nodeA, tracking.Sighting{ContentHash: h, IPHash: hash(byte(10 + i)), Country: country})
		require.NoError(t, err)
	}

	require.Len(t, last.AlertIDs, 1, "fifth country triggers the geo-spread alert")
	alert, _ := c.Alert(last.AlertIDs[0])
	assert.Equal(t, contracts.AlertGeoSpread, alert.Type)
	assert.Equal(t, contracts.SeverityHigh, alert.Severity)
}

func TestViralMilestoneEmitsWarning(t *testing.T) {
	c := newTestChain(t)
	h := hash(1)
	_, err := c.SubmitDetection(nodeA, detection(h))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err = c.ReportSighting(nodeA, tracking.Sighting{ContentHash: h, IPHash: hash(byte(50 + i)), Country: "US"})
		require.NoError(t, err)
	}

	types := eventTypes(c.Log().Range(0, 0))
	assert.Contains(t, types, EventViralSpreadWarning)
}

func TestLineageOpGated(t *testing.T) {
	c := newTestChain(t)

	err := c.RegisterLineage(stranger, hash(2), hash(1), 1, nil)
	assert.ErrorIs(t, err, contracts.ErrNotAuthorized)

	require.NoError(t, c.RegisterLineage(nodeA, hash(2), hash(1), 1, []string{"crop"}))
	rec, err := c.Lineage(hash(2))
	require.NoError(t, err)
	assert.Equal(t, hash(1), rec.ParentHash)

	entries := c.Log().Range(0, 0)
	assert.Equal(t, EventLineageRegistered, entries[len(entries)-1].Type)
}

func TestAcknowledgeEmitsOncePerAlert(t *testing.T) {
	c := newTestChain(t)
	out, err := c.SubmitDetection(nodeA, detection(hash(1)))
	require.NoError(t, err)
	require.Len(t, out.AlertIDs, 1)
	id := out.AlertIDs[0]

	before := c.Log().Length()
	require.NoError(t, c.AcknowledgeAlert(owner, id))
	assert.Equal(t, before+1, c.Log().Length())

	assert.ErrorIs(t, c.AcknowledgeAlert(owner, id), contracts.ErrAlreadyAcknowledged)
	assert.Equal(t, before+1, c.Log().Length(), "failed ack emits nothing")
}

func TestSubscriberSeesCommitOrder(t *testing.T) {
	c := newTestChain(t)
	var seen []EventType
	c.Subscribe(func(e Entry) { seen = append(seen, e.Type) })

	_, err := c.SubmitDetection(nodeA, detection(hash(1)))
	require.NoError(t, err)

	assert.Equal(t, []EventType{EventDeepfakeDetected, EventAlertCreated}, seen)
}

func TestChainVerifiesAndRestores(t *testing.T) {
	c := newTestChain(t)
	_, err := c.SubmitDetection(nodeA, detection(hash(1)))
	require.NoError(t, err)
	_, err = c.ReportSighting(nodeA, tracking.Sighting{ContentHash: hash(1), IPHash: hash(7), Country: "US"})
	require.NoError(t, err)

	log := c.Log()
	require.NoError(t, log.Verify())

	entries := log.Range(0, 0)
	fresh := NewLog()
	require.NoError(t, fresh.Restore(entries))
	assert.Equal(t, log.Head(), fresh.Head())

	// Tampering breaks the restore.
	entries[1].Payload = []byte(`{"forged":true}`)
	assert.Error(t, NewLog().Restore(entries))
}

// Two chains fed identical operations converge on the same head hash even
// with different wall clocks: timestamps are excluded from entry hashes.
func TestChainHeadIsClockIndependent(t *testing.T) {
	run := func(start time.Time) string {
		now := start
		c := New(owner).WithClock(func() time.Time { return now })
		require.NoError(t, c.AuthorizeNode(owner, nodeA, "edge-1", contracts.NodeClassEdge))
		_, err := c.SubmitDetection(nodeA, detection(hash(1)))
		require.NoError(t, err)
		now = now.Add(time.Hour)
		_, err = c.ReportSighting(nodeA, tracking.Sighting{ContentHash: hash(1), IPHash: hash(7), Country: "UK"})
		require.NoError(t, err)
		return c.Log().Head()
	}

	a := run(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	b := run(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, a, b)
}

func TestBatchSubmitDerivesPerEntry(t *testing.T) {
	c := newTestChain(t)
	b := videoledger.Batch{
		ContentHashes:    []contracts.Hash{hash(1), contracts.ZeroHash, hash(2)},
		PerceptualHashes: []string{"p1", "p2", "p3"},
		IsDeepfake:       []bool{true, true, false},
		ConfidenceBp:     []uint32{9000, 9000, 1000},
		IPHashes:         []contracts.Hash{hash(0xe1), hash(0xe2), hash(0xe3)},
		Countries:        []string{"US", "US", "DE"},
		Cities:           []string{"", "", ""},
	}
	outs, err := c.SubmitBatch(nodeA, b)
	require.NoError(t, err)
	require.Len(t, outs, 3)

	assert.Len(t, outs[0].AlertIDs, 1, "deepfake entry alerts")
	assert.True(t, outs[1].Register.Skipped)
	assert.Empty(t, outs[2].AlertIDs, "authentic entry raises no alert")

	types := eventTypes(c.Log().Range(0, 0))
	assert.Contains(t, types, EventVideoRegistered, "authentic entry is journaled")
}

func TestFirstRegistrationFiresDetectionThreshold(t *testing.T) {
	c := newTestChain(t)
	rule := contracts.DefaultAlertRule()
	rule.DetectionThreshold = 1
	require.NoError(t, c.SetGlobalRules(owner, rule))

	out, err := c.SubmitDetection(nodeA, detection(hash(1)))
	require.NoError(t, err)
	require.Len(t, out.AlertIDs, 2)

	first, err := c.Alert(out.AlertIDs[0])
	require.NoError(t, err)
	assert.Equal(t, contracts.AlertFirstDetection, first.Type)

	threshold, err := c.Alert(out.AlertIDs[1])
	require.NoError(t, err)
	assert.Equal(t, contracts.AlertDetectionThreshold, threshold.Type)
}

func TestEveryFiredAlertIsJournaled(t *testing.T) {
	c := newTestChain(t)
	rule := contracts.DefaultAlertRule()
	rule.DetectionThreshold = 2
	rule.SpreadThreshold = 2
	require.NoError(t, c.SetGlobalRules(owner, rule))

	h := hash(1)
	_, err := c.SubmitDetection(nodeA, detection(h))
	require.NoError(t, err)
	_, err = c.ReportSighting(nodeA, tracking.Sighting{ContentHash: h, IPHash: hash(7), Country: "US"})
	require.NoError(t, err)
	_, err = c.ReportSighting(nodeA, tracking.Sighting{ContentHash: h, IPHash: hash(8), Country: "UK"})
	require.NoError(t, err)
	_, err = c.SubmitDetection(nodeA, detection(h))
	require.NoError(t, err)

	var created uint64
	for _, e := range c.Log().Range(0, 0) {
		if e.Type == EventAlertCreated {
			created++
		}
	}
	assert.Equal(t, c.alerts.TotalAlerts(), created)
}

func TestOwnershipTransferEvent(t *testing.T) {
	c := newTestChain(t)
	require.NoError(t, c.TransferOwnership(owner, nodeA))
	assert.Equal(t, nodeA, c.Owner())

	// Old owner keeps authorization but loses admin rights.
	assert.True(t, c.IsAuthorized(owner))
	err := c.AuthorizeNode(owner, stranger, "x", contracts.NodeClassEdge)
	assert.ErrorIs(t, err, contracts.ErrNotOwner)

	entries := c.Log().Range(0, 0)
	assert.Equal(t, EventOwnershipTransferred, entries[len(entries)-1].Type)
}

func TestRulesUpdateRoundTrip(t *testing.T) {
	c := newTestChain(t)
	rule := contracts.AlertRule{
		DetectionThreshold: 10,
		SpreadThreshold:    5,
		CountryThreshold:   2,
		ReuploadThreshold:  1,
		Enabled:            true,
	}
	require.NoError(t, c.SetVideoRules(owner, hash(1), rule))
	assert.Equal(t, rule, c.EffectiveRule(hash(1)))
	assert.Equal(t, contracts.DefaultAlertRule(), c.EffectiveRule(hash(2)))
}
