package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/sentinelmesh/core/pkg/contracts"
)

// ErrArchiveMiss is returned when an archive lookup finds nothing.
var ErrArchiveMiss = errors.New("store: not in archive")

// PostgresArchive mirrors video records and alerts into Postgres for
// analyst queries. It is a projection, not a source of truth: the chain
// log always wins on disagreement, and the archive can be rebuilt from it.
type PostgresArchive struct {
	db *sql.DB
}

// NewPostgresArchive wires an archive over an open Postgres connection.
func NewPostgresArchive(db *sql.DB) *PostgresArchive {
	return &PostgresArchive{db: db}
}

// Init creates the archive schema.
func (a *PostgresArchive) Init(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS videos (
		content_hash    TEXT PRIMARY KEY,
		perceptual_hash TEXT,
		is_deepfake     BOOLEAN NOT NULL,
		confidence_bp   INTEGER NOT NULL,
		first_seen      TIMESTAMPTZ NOT NULL,
		last_seen       TIMESTAMPTZ NOT NULL,
		detection_count BIGINT NOT NULL,
		origin_country  TEXT,
		first_submitter TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS alerts (
		id              BIGINT PRIMARY KEY,
		content_hash    TEXT NOT NULL,
		alert_type      TEXT NOT NULL,
		severity        TEXT NOT NULL,
		message         TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		acknowledged    BOOLEAN NOT NULL DEFAULT FALSE,
		acknowledged_by TEXT,
		acknowledged_at TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS alerts_open_idx ON alerts (acknowledged, severity);
	`
	_, err := a.db.ExecContext(ctx, schema)
	return err
}

// UpsertVideo mirrors one video record, replacing the mutable counters and
// keeping the immutable verdict columns from the first write.
func (a *PostgresArchive) UpsertVideo(ctx context.Context, rec contracts.VideoRecord) error {
	query := `
		INSERT INTO videos (content_hash, perceptual_hash, is_deepfake, confidence_bp,
			first_seen, last_seen, detection_count, origin_country, first_submitter)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (content_hash) DO UPDATE
		SET last_seen = EXCLUDED.last_seen, detection_count = EXCLUDED.detection_count
	`
	_, err := a.db.ExecContext(ctx, query,
		rec.ContentHash.String(), rec.PerceptualHash, rec.IsDeepfake, rec.ConfidenceBp,
		rec.FirstSeen, rec.LastSeen, rec.DetectionCount, rec.OriginCountry, string(rec.FirstSubmitter),
	)
	if err != nil {
		return fmt.Errorf("store: upsert video %s: %w", rec.ContentHash.Short(), err)
	}
	return nil
}

// InsertAlert mirrors one created alert. Replays of already-archived alerts
// are harmless no-ops.
func (a *PostgresArchive) InsertAlert(ctx context.Context, alert contracts.Alert) error {
	query := `
		INSERT INTO alerts (id, content_hash, alert_type, severity, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := a.db.ExecContext(ctx, query,
		alert.ID, alert.ContentHash.String(), string(alert.Type), string(alert.Severity),
		alert.Message, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert alert %d: %w", alert.ID, err)
	}
	return nil
}

// MarkAlertAcknowledged mirrors an acknowledgement.
func (a *PostgresArchive) MarkAlertAcknowledged(ctx context.Context, id uint64, by contracts.Address, at time.Time) error {
	query := `UPDATE alerts SET acknowledged = TRUE, acknowledged_by = $1, acknowledged_at = $2 WHERE id = $3`
	res, err := a.db.ExecContext(ctx, query, string(by), at, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrArchiveMiss
	}
	return nil
}

// OpenAlerts returns unacknowledged alerts at or above minSeverity,
// newest first.
func (a *PostgresArchive) OpenAlerts(ctx context.Context, severities []contracts.Severity, limit int) ([]contracts.Alert, error) {
	names := make([]string, len(severities))
	for i, s := range severities {
		names[i] = string(s)
	}
	query := `
		SELECT id, content_hash, alert_type, severity, message, created_at
		FROM alerts
		WHERE acknowledged = FALSE AND severity = ANY($1)
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := a.db.QueryContext(ctx, query, pq.Array(names), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var alerts []contracts.Alert
	for rows.Next() {
		var (
			alert    contracts.Alert
			hashText string
			typ      string
			sev      string
		)
		if err := rows.Scan(&alert.ID, &hashText, &typ, &sev, &alert.Message, &alert.CreatedAt); err != nil {
			return nil, err
		}
		h, err := contracts.ParseHash(hashText)
		if err != nil {
			return nil, fmt.Errorf("store: corrupt hash in alert %d: %w", alert.ID, err)
		}
		alert.ContentHash = h
		alert.Type = contracts.AlertType(typ)
		alert.Severity = contracts.Severity(sev)
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return alerts, nil
}

// CountryBreakdown returns deepfake counts per origin country, largest
// first. Analyst dashboard query.
func (a *PostgresArchive) CountryBreakdown(ctx context.Context, limit int) (map[string]uint64, error) {
	query := `
		SELECT origin_country, COUNT(*)
		FROM videos
		WHERE is_deepfake = TRUE
		GROUP BY origin_country
		ORDER BY COUNT(*) DESC
		LIMIT $1
	`
	rows, err := a.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]uint64)
	for rows.Next() {
		var country sql.NullString
		var n uint64
		if err := rows.Scan(&country, &n); err != nil {
			return nil, err
		}
		out[country.String] = n
	}
	return out, rows.Err()
}
