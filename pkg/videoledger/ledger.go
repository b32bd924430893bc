// Package videoledger is the record-of-truth for analyzed videos: one
// immutable record per content hash, with idempotent re-detection counting
// and a perceptual-hash similarity index.
//
// The first verdict is treated as authoritative provenance. Re-detections
// (possibly by less careful nodes) bump counters and LastSeen but never
// rewrite the original verdict, submitter or first-seen time.
package videoledger

import (
	"sync"
	"time"

	"github.com/sentinelmesh/core/pkg/contracts"
)

// MaxBatchSize bounds BatchRegister, matching the on-wire contract limit.
const MaxBatchSize = 50

// RegisterResult reports the outcome of one registration.
type RegisterResult struct {
	IsNew          bool   `json:"is_new"`
	DetectionCount uint64 `json:"detection_count"`
	Skipped        bool   `json:"skipped,omitempty"` // batch-only: zero-hash entry
}

// Registration carries the inputs of a single Register call.
type Registration struct {
	ContentHash    contracts.Hash
	PerceptualHash string
	IsDeepfake     bool
	ConfidenceBp   uint32
	LipsyncBp      uint32
	FactCheckBp    uint32
	IPHash         contracts.Hash
	Country        string
	City           string
	Lat            int64
	Lon            int64
	Metadata       string
}

// Batch carries the parallel arrays of a BatchRegister call. The reduced
// field set mirrors the batch wire format; lipsync/fact-check scores,
// coordinates and metadata default to zero for batched entries.
type Batch struct {
	ContentHashes    []contracts.Hash
	PerceptualHashes []string
	IsDeepfake       []bool
	ConfidenceBp     []uint32
	IPHashes         []contracts.Hash
	Countries        []string
	Cities           []string
}

// Ledger holds all video records. Safe for concurrent use.
type Ledger struct {
	mu        sync.RWMutex
	videos    map[contracts.Hash]*contracts.VideoRecord
	phashIdx  map[string][]contracts.Hash
	allHashes []contracts.Hash // insertion order, for pagination
	deepfakes uint64
	authentic uint64
	clock     func() time.Time
}

// New creates an empty video ledger.
func New() *Ledger {
	return &Ledger{
		videos:   make(map[contracts.Hash]*contracts.VideoRecord),
		phashIdx: make(map[string][]contracts.Hash),
		clock:    time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Register records a detection verdict for reg.ContentHash on behalf of
// submitter. The first call for a hash creates the record; every later call
// only bumps LastSeen and DetectionCount. Registration is safe to retry:
// a retry simply becomes a re-detection.
func (l *Ledger) Register(submitter contracts.Address, reg Registration) (RegisterResult, error) {
	if err := validate(reg); err != nil {
		return RegisterResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.register(submitter, reg), nil
}

// register applies one validated registration. Caller holds l.mu.
func (l *Ledger) register(submitter contracts.Address, reg Registration) RegisterResult {
	now := l.clock()

	if rec, ok := l.videos[reg.ContentHash]; ok {
		rec.LastSeen = now
		rec.DetectionCount++
		return RegisterResult{IsNew: false, DetectionCount: rec.DetectionCount}
	}

	rec := &contracts.VideoRecord{
		ContentHash:    reg.ContentHash,
		PerceptualHash: reg.PerceptualHash,
		IsDeepfake:     reg.IsDeepfake,
		ConfidenceBp:   reg.ConfidenceBp,
		LipsyncBp:      reg.LipsyncBp,
		FactCheckBp:    reg.FactCheckBp,
		FirstSeen:      now,
		LastSeen:       now,
		DetectionCount: 1,
		OriginIPHash:   reg.IPHash,
		OriginCountry:  reg.Country,
		OriginCity:     reg.City,
		OriginLat:      reg.Lat,
		OriginLon:      reg.Lon,
		FirstSubmitter: submitter,
		Metadata:       reg.Metadata,
	}
	l.videos[reg.ContentHash] = rec
	l.phashIdx[reg.PerceptualHash] = append(l.phashIdx[reg.PerceptualHash], reg.ContentHash)
	l.allHashes = append(l.allHashes, reg.ContentHash)
	if reg.IsDeepfake {
		l.deepfakes++
	} else {
		l.authentic++
	}
	return RegisterResult{IsNew: true, DetectionCount: 1}
}

// BatchRegister processes up to MaxBatchSize registrations with the same
// semantics as Register. Zero-hash entries are skipped rather than failing
// the whole batch; each item's outcome is individually observable in the
// returned slice (order-preserving).
func (l *Ledger) BatchRegister(submitter contracts.Address, b Batch) ([]RegisterResult, error) {
	n := len(b.ContentHashes)
	if n > MaxBatchSize {
		return nil, contracts.ErrBatchTooLarge
	}
	if len(b.PerceptualHashes) != n || len(b.IsDeepfake) != n || len(b.ConfidenceBp) != n ||
		len(b.IPHashes) != n || len(b.Countries) != n || len(b.Cities) != n {
		return nil, contracts.ErrLengthMismatch
	}
	for i := 0; i < n; i++ {
		if b.ConfidenceBp[i] > contracts.BasisPointMax {
			return nil, contracts.ErrScoreOutOfRange
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	results := make([]RegisterResult, 0, n)
	for i := 0; i < n; i++ {
		if b.ContentHashes[i].IsZero() {
			results = append(results, RegisterResult{Skipped: true})
			continue
		}
		results = append(results, l.register(submitter, Registration{
			ContentHash:    b.ContentHashes[i],
			PerceptualHash: b.PerceptualHashes[i],
			IsDeepfake:     b.IsDeepfake[i],
			ConfidenceBp:   b.ConfidenceBp[i],
			IPHash:         b.IPHashes[i],
			Country:        b.Countries[i],
			City:           b.Cities[i],
		}))
	}
	return results, nil
}

// Get returns the record for a content hash.
func (l *Ledger) Get(hash contracts.Hash) (contracts.VideoRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.videos[hash]
	if !ok {
		return contracts.VideoRecord{}, contracts.ErrNotFound
	}
	return *rec, nil
}

// Exists reports whether a hash has been registered.
func (l *Ledger) Exists(hash contracts.Hash) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.videos[hash]
	return ok
}

// FindSimilar returns content hashes sharing a perceptual-hash bucket.
// Collisions across visually-similar-but-distinct videos are expected:
// this is a coarse pre-filter, not an exact match.
func (l *Ledger) FindSimilar(perceptualHash string) []contracts.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()

	bucket := l.phashIdx[perceptualHash]
	out := make([]contracts.Hash, len(bucket))
	copy(out, bucket)
	return out
}

// Stats returns the global counters.
func (l *Ledger) Stats() contracts.LedgerStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return contracts.LedgerStats{
		Total:          uint64(len(l.allHashes)),
		DeepfakeCount:  l.deepfakes,
		AuthenticCount: l.authentic,
	}
}

// Hashes returns a page of registered hashes in insertion order.
func (l *Ledger) Hashes(offset, limit int) []contracts.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if offset < 0 || offset >= len(l.allHashes) || limit <= 0 {
		return nil
	}
	end := offset + limit
	if end > len(l.allHashes) {
		end = len(l.allHashes)
	}
	out := make([]contracts.Hash, end-offset)
	copy(out, l.allHashes[offset:end])
	return out
}

// DeepfakeHashes returns the hashes of all records with a deepfake verdict.
// Linear scan; acceptable at edge-fleet scale.
func (l *Ledger) DeepfakeHashes() []contracts.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []contracts.Hash
	for _, h := range l.allHashes {
		if l.videos[h].IsDeepfake {
			out = append(out, h)
		}
	}
	return out
}

func validate(reg Registration) error {
	if reg.ContentHash.IsZero() {
		return contracts.ErrZeroHash
	}
	if reg.ConfidenceBp > contracts.BasisPointMax ||
		reg.LipsyncBp > contracts.BasisPointMax ||
		reg.FactCheckBp > contracts.BasisPointMax {
		return contracts.ErrScoreOutOfRange
	}
	return nil
}
