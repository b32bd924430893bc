// Package tracking appends geotagged sighting events per content hash and
// derives the spread signals the alert engine consumes: same-IP re-uploads,
// new-country spread and viral milestones. It also keeps the parent→child
// lineage graph of edited video variants.
//
// Derived counters (per-IP upload counts, per-country sighting counts,
// unique-country totals) are recomputed incrementally on each append; the
// event list itself is the authoritative record.
package tracking

import (
	"sync"
	"time"

	"github.com/sentinelmesh/core/pkg/contracts"
)

// DefaultTraceDepth bounds TraceToRoot when the caller does not supply one.
const DefaultTraceDepth = 10

// Sighting carries the inputs of one RecordSpread call.
type Sighting struct {
	ContentHash contracts.Hash
	IPHash      contracts.Hash
	Country     string
	City        string
	Lat         int64
	Lon         int64
	Platform    string
	SourceURL   string
}

// SpreadOutcome reports the advisory signals derived from one sighting.
// The flags do not themselves mutate alert state; the orchestrating layer
// feeds them to the alert engine.
type SpreadOutcome struct {
	SameIPReupload  bool          `json:"same_ip_reupload"`
	IPUploadCount   uint64        `json:"ip_upload_count"`
	TimeSinceFirst  time.Duration `json:"time_since_first,omitempty"`
	NewCountry      bool          `json:"new_country"`
	PreviousCountry string        `json:"previous_country,omitempty"`
	UniqueCountries uint64        `json:"unique_countries"`
	SpreadCount     uint64        `json:"spread_count"`
	ViralMilestone  bool          `json:"viral_milestone"`
}

type ipStats struct {
	count     uint64
	firstSeen time.Time
}

// Tracker holds spread events and lineage records. Safe for concurrent use.
type Tracker struct {
	mu        sync.RWMutex
	events    map[contracts.Hash][]contracts.SpreadEvent
	ipUploads map[contracts.Hash]map[contracts.Hash]*ipStats
	countries map[contracts.Hash]map[string]uint64
	unique    map[contracts.Hash]uint64
	lineage   map[contracts.Hash]*contracts.LineageRecord
	clock     func() time.Time
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		events:    make(map[contracts.Hash][]contracts.SpreadEvent),
		ipUploads: make(map[contracts.Hash]map[contracts.Hash]*ipStats),
		countries: make(map[contracts.Hash]map[string]uint64),
		unique:    make(map[contracts.Hash]uint64),
		lineage:   make(map[contracts.Hash]*contracts.LineageRecord),
		clock:     time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (t *Tracker) WithClock(clock func() time.Time) *Tracker {
	t.clock = clock
	return t
}

// RecordSpread appends one sighting and updates the derived counters in the
// same atomic step. The check-before-increment patterns here rely on the
// ledger's single-writer execution discipline.
func (t *Tracker) RecordSpread(reporter contracts.Address, s Sighting) (SpreadOutcome, error) {
	if s.ContentHash.IsZero() {
		return SpreadOutcome{}, contracts.ErrZeroHash
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock()
	var out SpreadOutcome

	prior := t.events[s.ContentHash]

	// Same-IP re-upload detection.
	byIP := t.ipUploads[s.ContentHash]
	if byIP == nil {
		byIP = make(map[contracts.Hash]*ipStats)
		t.ipUploads[s.ContentHash] = byIP
	}
	st := byIP[s.IPHash]
	if st == nil {
		byIP[s.IPHash] = &ipStats{count: 1, firstSeen: now}
		out.IPUploadCount = 1
	} else {
		st.count++
		out.SameIPReupload = true
		out.IPUploadCount = st.count
		out.TimeSinceFirst = now.Sub(st.firstSeen)
	}

	// New-country spread detection.
	byCountry := t.countries[s.ContentHash]
	if byCountry == nil {
		byCountry = make(map[string]uint64)
		t.countries[s.ContentHash] = byCountry
	}
	if byCountry[s.Country] == 0 {
		t.unique[s.ContentHash]++
		if len(prior) > 0 {
			prev := prior[len(prior)-1].Country
			if prev != s.Country {
				out.NewCountry = true
				out.PreviousCountry = prev
			}
		}
	}
	byCountry[s.Country]++
	out.UniqueCountries = t.unique[s.ContentHash]

	evt := contracts.SpreadEvent{
		ContentHash: s.ContentHash,
		Time:        now,
		IPHash:      s.IPHash,
		Country:     s.Country,
		City:        s.City,
		Lat:         s.Lat,
		Lon:         s.Lon,
		Platform:    s.Platform,
		SourceURL:   s.SourceURL,
		Reporter:    reporter,
	}
	t.events[s.ContentHash] = append(prior, evt)
	out.SpreadCount = uint64(len(prior) + 1)
	out.ViralMilestone = isViralMilestone(out.SpreadCount)

	return out, nil
}

// isViralMilestone flags the spread counts worth shouting about.
func isViralMilestone(n uint64) bool {
	switch n {
	case 10, 50, 100:
		return true
	}
	return n > 0 && n%500 == 0
}

// RegisterLineage records the parent→child edge for childHash. The edge is
// a one-time immutable assignment: a second call for the same child returns
// ErrAlreadyRegistered, which retrying callers treat as "already succeeded".
func (t *Tracker) RegisterLineage(childHash, parentHash contracts.Hash, generation uint64, mutations []string) error {
	if childHash.IsZero() {
		return contracts.ErrZeroHash
	}
	if childHash == parentHash {
		return contracts.ErrSelfReference
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.lineage[childHash]; ok {
		return contracts.ErrAlreadyRegistered
	}

	rec := &contracts.LineageRecord{
		ContentHash:  childHash,
		ParentHash:   parentHash,
		Generation:   generation,
		Mutations:    append([]string(nil), mutations...),
		RegisteredAt: t.clock(),
	}
	t.lineage[childHash] = rec

	if !parentHash.IsZero() {
		if parent, ok := t.lineage[parentHash]; ok {
			parent.Children = append(parent.Children, childHash)
		}
	}
	return nil
}

// GetLineage returns the lineage record for a hash.
func (t *Tracker) GetLineage(hash contracts.Hash) (contracts.LineageRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.lineage[hash]
	if !ok {
		return contracts.LineageRecord{}, contracts.ErrNotFound
	}
	out := *rec
	out.Mutations = append([]string(nil), rec.Mutations...)
	out.Children = append([]contracts.Hash(nil), rec.Children...)
	return out, nil
}

// TraceToRoot walks parent edges from hash, nearest ancestor first, stopping
// at a zero or unregistered parent or at maxDepth, whichever comes first.
// The depth bound keeps the walk finite even if a cycle were ever introduced
// upstream; the method always terminates and never errors.
func (t *Tracker) TraceToRoot(hash contracts.Hash, maxDepth int) []contracts.Hash {
	if maxDepth <= 0 {
		maxDepth = DefaultTraceDepth
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var chain []contracts.Hash
	cur := hash
	for len(chain) < maxDepth {
		rec, ok := t.lineage[cur]
		if !ok || rec.ParentHash.IsZero() {
			break
		}
		chain = append(chain, rec.ParentHash)
		cur = rec.ParentHash
	}
	return chain
}

// Events returns all sightings for a hash in submission order.
func (t *Tracker) Events(hash contracts.Hash) []contracts.SpreadEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	evts := t.events[hash]
	out := make([]contracts.SpreadEvent, len(evts))
	copy(out, evts)
	return out
}

// EventsPaginated returns a bounded page of sightings.
func (t *Tracker) EventsPaginated(hash contracts.Hash, offset, limit int) []contracts.SpreadEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	evts := t.events[hash]
	if offset < 0 || offset >= len(evts) || limit <= 0 {
		return nil
	}
	end := offset + limit
	if end > len(evts) {
		end = len(evts)
	}
	out := make([]contracts.SpreadEvent, end-offset)
	copy(out, evts[offset:end])
	return out
}

// SpreadCount returns the number of sightings recorded for a hash.
func (t *Tracker) SpreadCount(hash contracts.Hash) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return uint64(len(t.events[hash]))
}

// IPUploadCount returns how many times one IP has uploaded a hash.
func (t *Tracker) IPUploadCount(hash, ipHash contracts.Hash) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if st := t.ipUploads[hash][ipHash]; st != nil {
		return st.count
	}
	return 0
}

// UniqueCountryCount returns the number of distinct countries a hash has
// been sighted in.
func (t *Tracker) UniqueCountryCount(hash contracts.Hash) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.unique[hash]
}
