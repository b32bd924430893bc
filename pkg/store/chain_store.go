// Package store persists the event chain and the analyst archive.
//
// The SQLite chain store is the node's durable copy of the hash-chained
// event log: every committed entry is appended, and on startup the full
// chain is loaded back and re-verified before the node accepts traffic.
// The Postgres archive is a query-side projection for analyst tooling.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sentinelmesh/core/pkg/chain"
	"github.com/sentinelmesh/core/pkg/contracts"
)

// ErrSequenceGap is returned when an append would leave a hole in the chain.
var ErrSequenceGap = errors.New("store: sequence gap in chain append")

// SQLiteChainStore persists chain entries to a local SQLite database.
type SQLiteChainStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the chain database at path. ":memory:" is
// accepted for tests.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", path, err)
	}
	// The chain store is single-writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLiteChainStore wires a chain store over an open database and runs
// the schema migration.
func NewSQLiteChainStore(db *sql.DB) (*SQLiteChainStore, error) {
	s := &SQLiteChainStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteChainStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS chain_events (
		sequence     INTEGER PRIMARY KEY,
		event_type   TEXT NOT NULL,
		actor        TEXT NOT NULL DEFAULT '',
		payload      JSON NOT NULL,
		content_hash TEXT NOT NULL,
		prev_hash    TEXT NOT NULL,
		timestamp    DATETIME NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Append stores one committed entry. Appends must arrive in sequence order;
// a gap means the caller lost entries and must resync before writing more.
func (s *SQLiteChainStore) Append(ctx context.Context, e chain.Entry) error {
	var maxSeq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM chain_events`).Scan(&maxSeq); err != nil {
		return err
	}
	if e.Sequence != uint64(maxSeq.Int64)+1 {
		return fmt.Errorf("%w: have %d, appending %d", ErrSequenceGap, maxSeq.Int64, e.Sequence)
	}

	query := `
		INSERT INTO chain_events (sequence, event_type, actor, payload, content_hash, prev_hash, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.Sequence, string(e.Type), string(e.Actor), string(e.Payload),
		e.ContentHash, e.PrevHash, e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: append entry %d: %w", e.Sequence, err)
	}
	return nil
}

// LoadAll returns every persisted entry in sequence order, for startup
// replay into a fresh in-memory log.
func (s *SQLiteChainStore) LoadAll(ctx context.Context) ([]chain.Entry, error) {
	query := `
		SELECT sequence, event_type, actor, payload, content_hash, prev_hash, timestamp
		FROM chain_events
		ORDER BY sequence ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []chain.Entry
	for rows.Next() {
		var (
			e       chain.Entry
			typ     string
			actor   string
			payload string
			ts      string
		)
		if err := rows.Scan(&e.Sequence, &typ, &actor, &payload, &e.ContentHash, &e.PrevHash, &ts); err != nil {
			return nil, err
		}
		e.Type = chain.EventType(typ)
		e.Actor = contracts.Address(actor)
		e.Payload = []byte(payload)
		e.Timestamp = parseTime(ts)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Length returns the number of persisted entries.
func (s *SQLiteChainStore) Length(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chain_events`).Scan(&n)
	return n, err
}

// Head returns the content hash of the last persisted entry, or "" when
// the store is empty.
func (s *SQLiteChainStore) Head(ctx context.Context) (string, error) {
	var head string
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash FROM chain_events ORDER BY sequence DESC LIMIT 1`).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return head, err
}

// Follow subscribes the store to a chain so every future commit is
// persisted. Returned as a chain.Subscriber for Chain.Subscribe.
func (s *SQLiteChainStore) Follow(ctx context.Context) chain.Subscriber {
	return func(e chain.Entry) {
		// Commit order is the chain's lock order, so appends stay gapless.
		_ = s.Append(ctx, e)
	}
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
