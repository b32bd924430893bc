// Package submit is the durable submission queue between detection nodes
// and the chain. Work items survive restarts in SQLite and are drained by
// a background worker with exponential backoff and jitter; an item that
// exhausts its retries is parked as failed for operator inspection, never
// silently dropped.
package submit

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Item statuses. An item moves queued → pending → confirmed, or back to
// retrying on failure until max retries, then failed.
const (
	StatusQueued    = "queued"
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
	StatusRetrying  = "retrying"
)

// DefaultMaxRetries bounds redelivery attempts per item.
const DefaultMaxRetries = 5

// DefaultBatchSize bounds how many due items one drain pass claims.
const DefaultBatchSize = 50

// ErrNotFound is returned for lookups of unknown item ids.
var ErrNotFound = errors.New("submit: item not found")

// Submitter applies one dequeued item. A nil return confirms the item;
// an error schedules a retry.
type Submitter func(ctx context.Context, kind string, payload []byte) error

// Item is one queued submission.
type Item struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Status    string          `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Queue is the durable submission queue.
type Queue struct {
	db         *sql.DB
	maxRetries int
	batchSize  int
	baseDelay  time.Duration
	clock      func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option adjusts queue behavior.
type Option func(*Queue)

// WithMaxRetries overrides the per-item retry budget.
func WithMaxRetries(n int) Option { return func(q *Queue) { q.maxRetries = n } }

// WithBatchSize overrides the per-pass claim limit.
func WithBatchSize(n int) Option { return func(q *Queue) { q.batchSize = n } }

// WithBaseDelay overrides the first retry delay (doubled per attempt).
func WithBaseDelay(d time.Duration) Option { return func(q *Queue) { q.baseDelay = d } }

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option { return func(q *Queue) { q.clock = clock } }

// New wires a queue over an open SQLite database and runs the migration.
func New(db *sql.DB, opts ...Option) (*Queue, error) {
	q := &Queue{
		db:         db,
		maxRetries: DefaultMaxRetries,
		batchSize:  DefaultBatchSize,
		baseDelay:  2 * time.Second,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	if err := q.migrate(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		id              TEXT PRIMARY KEY,
		kind            TEXT NOT NULL,
		payload         JSON NOT NULL,
		status          TEXT NOT NULL DEFAULT 'queued',
		attempts        INTEGER NOT NULL DEFAULT 0,
		max_retries     INTEGER NOT NULL,
		last_error      TEXT NOT NULL DEFAULT '',
		created_at      DATETIME NOT NULL,
		updated_at      DATETIME NOT NULL,
		next_attempt_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS submissions_due_idx ON submissions (status, next_attempt_at);
	`
	_, err := q.db.ExecContext(context.Background(), schema)
	return err
}

// Enqueue stores one item and returns its id. The payload is marshaled
// once at enqueue time so later schema drift cannot corrupt queued work.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("submit: marshal %s payload: %w", kind, err)
	}

	id := uuid.NewString()
	now := q.timestamp()
	query := `
		INSERT INTO submissions (id, kind, payload, status, attempts, max_retries, created_at, updated_at, next_attempt_at)
		VALUES (?, ?, ?, 'queued', 0, ?, ?, ?, ?)
	`
	if _, err := q.db.ExecContext(ctx, query, id, kind, string(raw), q.maxRetries, now, now, now); err != nil {
		return "", fmt.Errorf("submit: enqueue: %w", err)
	}
	return id, nil
}

// Get returns one item by id.
func (q *Queue) Get(ctx context.Context, id string) (Item, error) {
	query := `
		SELECT id, kind, payload, status, attempts, last_error, created_at, updated_at
		FROM submissions WHERE id = ?
	`
	var (
		it        Item
		payload   string
		createdAt string
		updatedAt string
	)
	err := q.db.QueryRowContext(ctx, query, id).Scan(
		&it.ID, &it.Kind, &payload, &it.Status, &it.Attempts, &it.LastError, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, err
	}
	it.Payload = []byte(payload)
	it.CreatedAt = parseTimestamp(createdAt)
	it.UpdatedAt = parseTimestamp(updatedAt)
	return it, nil
}

// Stats returns item counts per status.
func (q *Queue) Stats(ctx context.Context) (map[string]uint64, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM submissions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]uint64)
	for rows.Next() {
		var status string
		var n uint64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// DrainOnce claims and applies one batch of due items. Returns how many
// items were attempted. Exposed for tests and for the CLI flush command;
// the background worker calls it on a ticker.
func (q *Queue) DrainOnce(ctx context.Context, submit Submitter) (int, error) {
	now := q.timestamp()
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, kind, payload, attempts
		FROM submissions
		WHERE status IN ('queued', 'retrying') AND next_attempt_at <= ?
		ORDER BY created_at ASC
		LIMIT ?
	`, now, q.batchSize)
	if err != nil {
		return 0, err
	}

	type due struct {
		id       string
		kind     string
		payload  string
		attempts int
	}
	var batch []due
	for rows.Next() {
		var d due
		if err := rows.Scan(&d.id, &d.kind, &d.payload, &d.attempts); err != nil {
			_ = rows.Close()
			return 0, err
		}
		batch = append(batch, d)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, d := range batch {
		if err := q.markPending(ctx, d.id); err != nil {
			return 0, err
		}
		if err := submit(ctx, d.kind, []byte(d.payload)); err != nil {
			if rerr := q.recordFailure(ctx, d.id, d.attempts+1, err); rerr != nil {
				return 0, rerr
			}
			continue
		}
		if err := q.markConfirmed(ctx, d.id); err != nil {
			return 0, err
		}
	}
	return len(batch), nil
}

func (q *Queue) markPending(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE submissions SET status = 'pending', updated_at = ? WHERE id = ?`,
		q.timestamp(), id)
	return err
}

func (q *Queue) markConfirmed(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE submissions SET status = 'confirmed', attempts = attempts + 1, last_error = '', updated_at = ? WHERE id = ?`,
		q.timestamp(), id)
	return err
}

// recordFailure schedules a retry with exponential backoff and jitter, or
// parks the item as failed once the retry budget is spent.
func (q *Queue) recordFailure(ctx context.Context, id string, attempts int, cause error) error {
	now := q.clock().UTC()
	if attempts > q.maxRetries {
		_, err := q.db.ExecContext(ctx,
			`UPDATE submissions SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, cause.Error(), formatTimestamp(now), id)
		return err
	}

	delay := q.retryDelay(attempts)
	_, err := q.db.ExecContext(ctx,
		`UPDATE submissions SET status = 'retrying', attempts = ?, last_error = ?, updated_at = ?, next_attempt_at = ? WHERE id = ?`,
		attempts, cause.Error(), formatTimestamp(now), formatTimestamp(now.Add(delay)), id)
	return err
}

// timestamp renders the current time in the canonical column format.
// Timestamps are stored as RFC 3339 UTC strings so that SQLite's lexical
// comparison in the due-item query matches chronological order.
func (q *Queue) timestamp() string {
	return formatTimestamp(q.clock().UTC())
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

// retryDelay computes base * 2^(attempt-1) plus up to 500ms of jitter.
func (q *Queue) retryDelay(attempt int) time.Duration {
	delay := time.Duration(math.Pow(2, float64(attempt-1))) * q.baseDelay
	if n, err := rand.Int(rand.Reader, big.NewInt(500)); err == nil {
		delay += time.Duration(n.Int64()) * time.Millisecond
	}
	return delay
}

// RetryFailed requeues all failed items with a fresh retry budget.
func (q *Queue) RetryFailed(ctx context.Context) (int64, error) {
	now := q.timestamp()
	res, err := q.db.ExecContext(ctx,
		`UPDATE submissions SET status = 'queued', attempts = 0, last_error = '', updated_at = ?, next_attempt_at = ? WHERE status = 'failed'`,
		now, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Start launches the background worker, draining every interval until the
// context is canceled or Stop is called.
func (q *Queue) Start(ctx context.Context, submit Submitter, interval time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	ctx, q.cancel = context.WithCancel(ctx)
	q.done = make(chan struct{})
	q.running = true

	go func() {
		defer close(q.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = q.DrainOnce(ctx, submit)
			}
		}
	}()
}

// Stop halts the background worker and waits for the in-flight pass.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	cancel, done := q.cancel, q.done
	q.mu.Unlock()

	cancel()
	<-done
}
