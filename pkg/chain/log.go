package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/sentinelmesh/core/pkg/contracts"
)

// genesisHash seeds the chain before the first entry.
const genesisHash = "genesis"

// Entry is one immutable, hash-chained event. ContentHash covers the
// sequence, type, actor, previous hash and the RFC 8785 canonical form of
// the payload, so any two nodes replaying the same entries agree on every
// hash byte-for-byte.
type Entry struct {
	Sequence    uint64            `json:"sequence"`
	Type        EventType         `json:"type"`
	Actor       contracts.Address `json:"actor,omitempty"`
	Payload     json.RawMessage   `json:"payload"`
	ContentHash string            `json:"content_hash"`
	PrevHash    string            `json:"prev_hash"`
	Timestamp   time.Time         `json:"timestamp"`
}

// Log is the append-only, hash-chained event log. Safe for concurrent use,
// though in practice all appends arrive through the chain facade's single
// write lock.
type Log struct {
	mu       sync.RWMutex
	entries  []Entry
	headHash string
	clock    func() time.Time
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{headHash: genesisHash, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (l *Log) WithClock(clock func() time.Time) *Log {
	l.clock = clock
	return l
}

// Append marshals payload, chains it to the current head and stores the
// entry. Returns the assigned sequence number (1-based).
func (l *Log) Append(typ EventType, actor contracts.Address, payload any) (uint64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("chain: marshal %s payload: %w", typ, err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return 0, fmt.Errorf("chain: canonicalize %s payload: %w", typ, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq := uint64(len(l.entries)) + 1
	contentHash := entryHash(seq, typ, actor, canon, l.headHash)

	l.entries = append(l.entries, Entry{
		Sequence:    seq,
		Type:        typ,
		Actor:       actor,
		Payload:     canon,
		ContentHash: contentHash,
		PrevHash:    l.headHash,
		Timestamp:   l.clock(),
	})
	l.headHash = contentHash
	return seq, nil
}

// entryHash computes the chained hash for one entry. Timestamps are
// deliberately excluded so that replicas with skewed clocks still converge.
func entryHash(seq uint64, typ EventType, actor contracts.Address, canonPayload []byte, prevHash string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|", seq, typ, actor, prevHash)
	h.Write(canonPayload)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// Get retrieves one entry by sequence number.
func (l *Log) Get(seq uint64) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq == 0 || seq > uint64(len(l.entries)) {
		return Entry{}, contracts.ErrInvalidID
	}
	return l.entries[seq-1], nil
}

// Range returns entries with sequence in [from, to], inclusive, clamped to
// the log's bounds. from=0 means "from the start", to=0 means "to the head".
func (l *Log) Range(from, to uint64) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := uint64(len(l.entries))
	if n == 0 {
		return nil
	}
	if from == 0 {
		from = 1
	}
	if to == 0 || to > n {
		to = n
	}
	if from > to {
		return nil
	}
	out := make([]Entry, to-from+1)
	copy(out, l.entries[from-1:to])
	return out
}

// Head returns the current head hash.
func (l *Log) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Length returns the number of entries.
func (l *Log) Length() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.entries))
}

// Verify recomputes every hash in the chain. Returns nil when the log is
// intact, or an error naming the first corrupt entry.
func (l *Log) Verify() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	prev := genesisHash
	for i, e := range l.entries {
		if e.PrevHash != prev {
			return fmt.Errorf("chain: broken at entry %d: expected prev %s, got %s", i+1, prev, e.PrevHash)
		}
		if computed := entryHash(e.Sequence, e.Type, e.Actor, e.Payload, e.PrevHash); computed != e.ContentHash {
			return fmt.Errorf("chain: hash mismatch at entry %d", i+1)
		}
		prev = e.ContentHash
	}
	return nil
}

// Restore replaces the log's contents with previously persisted entries,
// verifying the chain before accepting it. Used on startup replay.
func (l *Log) Restore(entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := genesisHash
	for i, e := range entries {
		if e.Sequence != uint64(i)+1 {
			return fmt.Errorf("chain: restore: entry %d has sequence %d", i+1, e.Sequence)
		}
		if e.PrevHash != prev {
			return fmt.Errorf("chain: restore: broken at entry %d", i+1)
		}
		if computed := entryHash(e.Sequence, e.Type, e.Actor, e.Payload, e.PrevHash); computed != e.ContentHash {
			return fmt.Errorf("chain: restore: hash mismatch at entry %d", i+1)
		}
		prev = e.ContentHash
	}

	l.entries = make([]Entry, len(entries))
	copy(l.entries, entries)
	l.headHash = prev
	return nil
}
