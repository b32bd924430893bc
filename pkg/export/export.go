// Package export builds evidence packs: zip bundles holding everything the
// mesh knows about one video (verdict record, spread history, alerts,
// lineage and the chain entries that prove it), checksummed and optionally
// pushed to object storage for handoff to platforms or investigators.
package export

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sentinelmesh/core/pkg/chain"
	"github.com/sentinelmesh/core/pkg/contracts"
)

// ErrNoChain is returned when the exporter has no chain wired.
var ErrNoChain = errors.New("export: chain not configured")

// BlobStore persists finished packs. Implemented by S3Store and, behind
// the gcp build tag, GCSStore.
type BlobStore interface {
	Store(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
	Exists(ctx context.Context, hash string) (bool, error)
}

// Exporter builds evidence packs from chain state.
type Exporter struct {
	chain *chain.Chain
	blobs BlobStore // optional
	clock func() time.Time
}

// New creates an exporter. blobs may be nil for local-only export.
func New(c *chain.Chain, blobs BlobStore) *Exporter {
	return &Exporter{chain: c, blobs: blobs, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (e *Exporter) WithClock(clock func() time.Time) *Exporter {
	e.clock = clock
	return e
}

// Pack is the result of one export.
type Pack struct {
	ContentHash contracts.Hash `json:"content_hash"`
	Checksum    string         `json:"checksum"`
	Blob        string         `json:"blob,omitempty"` // blob-store reference, if uploaded
	Bytes       []byte         `json:"-"`
}

// GeneratePack builds the evidence zip for one video.
func (e *Exporter) GeneratePack(ctx context.Context, hash contracts.Hash) (Pack, error) {
	if e.chain == nil {
		return Pack{}, ErrNoChain
	}

	video, err := e.chain.Video(hash)
	if err != nil {
		return Pack{}, fmt.Errorf("export: %w", err)
	}

	spread := e.chain.SpreadEvents(hash, 0, int(e.chain.SpreadCount(hash)))
	alerts := e.chain.VideoAlerts(hash)

	var lineage *contracts.LineageRecord
	if rec, err := e.chain.Lineage(hash); err == nil {
		lineage = &rec
	}

	entries := e.relatedEntries(hash)

	manifest := map[string]any{
		"content_hash": hash,
		"generated_at": e.clock().UTC(),
		"chain_head":   e.chain.Log().Head(),
		"chain_length": e.chain.Log().Length(),
		"spread_count": len(spread),
		"alert_count":  len(alerts),
	}

	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)
	files := []struct {
		name string
		data any
	}{
		{"video.json", video},
		{"spread_events.json", spread},
		{"alerts.json", alerts},
		{"chain_entries.json", entries},
		{"manifest.json", manifest},
	}
	if lineage != nil {
		files = append(files, struct {
			name string
			data any
		}{"lineage.json", lineage})
	}
	for _, file := range files {
		raw, err := json.MarshalIndent(file.data, "", "  ")
		if err != nil {
			return Pack{}, fmt.Errorf("export: marshal %s: %w", file.name, err)
		}
		f, err := w.Create(file.name)
		if err != nil {
			return Pack{}, err
		}
		if _, err := f.Write(raw); err != nil {
			return Pack{}, err
		}
	}
	if err := w.Close(); err != nil {
		return Pack{}, err
	}

	zipBytes := buf.Bytes()
	sum := sha256.Sum256(zipBytes)
	pack := Pack{
		ContentHash: hash,
		Checksum:    hex.EncodeToString(sum[:]),
		Bytes:       zipBytes,
	}

	if e.blobs != nil {
		ref, err := e.blobs.Store(ctx, zipBytes)
		if err != nil {
			return Pack{}, fmt.Errorf("export: upload pack: %w", err)
		}
		pack.Blob = ref
	}
	return pack, nil
}

// relatedEntries returns the chain entries whose payload references the
// hash. Substring match over canonical payloads is exact here because
// hashes render identically everywhere.
func (e *Exporter) relatedEntries(hash contracts.Hash) []chain.Entry {
	needle := []byte(hash.String())
	var out []chain.Entry
	for _, entry := range e.chain.Log().Range(0, 0) {
		if bytes.Contains(entry.Payload, needle) {
			out = append(out, entry)
		}
	}
	return out
}
