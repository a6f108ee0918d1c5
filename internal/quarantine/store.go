package quarantine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
	_ "github.com/mattn/go-sqlite3"
)

// sampleLimit bounds the stored payload sample. Enough for root-cause
// inspection without keeping whole malformed blobs around.
const sampleLimit = 512

// Store is the durable side-store for quarantined records.
type Store interface {
	// Record persists a quarantined outcome. Deduplicates by source record
	// id: a record already present has its last-seen time and occurrence
	// count updated instead of inserting a duplicate.
	Record(ctx context.Context, outcome Outcome) error

	// Contains reports whether a source record id is already quarantined.
	Contains(ctx context.Context, sourceID string) (bool, error)

	// Summary returns per-reason counts for records last seen since the
	// given time, for operator triage.
	Summary(ctx context.Context, since time.Time) ([]SummaryRow, error)

	// Close closes the store.
	Close() error
}

// SummaryRow is one line of the quarantine triage view.
type SummaryRow struct {
	Reason    Reason    `json:"reason"`
	Count     int64     `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // single writer
}

// NewSQLiteStore opens (or creates) the quarantine store at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("quarantine: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("quarantine: failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS quarantined_records (
		id              TEXT PRIMARY KEY,
		source_id       TEXT NOT NULL UNIQUE,
		store_id        TEXT NOT NULL,
		device_id       TEXT NOT NULL,
		reason          TEXT NOT NULL,
		byte_length     INTEGER NOT NULL,
		fingerprint     INTEGER NOT NULL,
		sample          BLOB,
		occurrences     INTEGER NOT NULL DEFAULT 1,
		first_seen      INTEGER NOT NULL,
		last_seen       INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_quarantine_reason ON quarantined_records(reason);
	CREATE INDEX IF NOT EXISTS idx_quarantine_last_seen ON quarantined_records(last_seen);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists a quarantined outcome, deduplicating by source id.
func (s *SQLiteStore) Record(ctx context.Context, outcome Outcome) error {
	if outcome.IsAccepted() {
		return fmt.Errorf("quarantine: refusing to record an accepted outcome")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := outcome.Record
	sample := rec.RawPayload
	if len(sample) > sampleLimit {
		sample = sample[:sampleLimit]
	}
	compressed := snappy.Encode(nil, sample)
	fingerprint := int64(murmur3.Sum64(rec.RawPayload))
	now := time.Now().UnixMilli()

	// Upsert keyed on source_id: repeated runs bump last_seen and the
	// occurrence count, never re-quarantine.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quarantined_records (
			id, source_id, store_id, device_id, reason,
			byte_length, fingerprint, sample, occurrences, first_seen, last_seen
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			last_seen = excluded.last_seen,
			occurrences = occurrences + 1`,
		uuid.NewString(), rec.ID, rec.StoreID, rec.DeviceID, string(outcome.Reason),
		len(rec.RawPayload), fingerprint, compressed, now, now)
	if err != nil {
		return fmt.Errorf("quarantine: failed to record %s: %w", rec.ID, err)
	}
	return nil
}

// Contains reports whether a source record id is already quarantined.
func (s *SQLiteStore) Contains(ctx context.Context, sourceID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		"SELECT 1 FROM quarantined_records WHERE source_id = ?", sourceID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("quarantine: lookup failed: %w", err)
	}
	return true, nil
}

// Summary returns per-reason counts for operator triage.
func (s *SQLiteStore) Summary(ctx context.Context, since time.Time) ([]SummaryRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reason, COUNT(*), MIN(first_seen), MAX(last_seen)
		FROM quarantined_records
		WHERE last_seen >= ?
		GROUP BY reason
		ORDER BY COUNT(*) DESC`,
		since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("quarantine: summary query failed: %w", err)
	}
	defer rows.Close()

	var out []SummaryRow
	for rows.Next() {
		var r SummaryRow
		var reason string
		var first, last int64
		if err := rows.Scan(&reason, &r.Count, &first, &last); err != nil {
			return nil, fmt.Errorf("quarantine: failed to scan summary row: %w", err)
		}
		r.Reason = Reason(reason)
		r.FirstSeen = time.UnixMilli(first)
		r.LastSeen = time.UnixMilli(last)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the store database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ensure interface compliance at compile time
var _ Store = (*SQLiteStore)(nil)

// Sample decompresses a stored payload sample. Exposed for diagnostics
// tooling; returns the raw bytes untouched if they were not snappy-framed.
func Sample(compressed []byte) []byte {
	out, err := snappy.Decode(nil, compressed)
	if err != nil {
		return compressed
	}
	return out
}
