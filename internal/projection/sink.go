package projection

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tallyline/tallyline/internal/errors"
	"github.com/tallyline/tallyline/pkg/types"
)

// DailyTotals holds one date's independently summed totals from a
// projection, as consumed by the parity auditor.
type DailyTotals struct {
	Date   string
	Count  int64
	Amount float64
}

// Sink persists both projections. Replace swaps in a complete new version
// atomically; readers never observe a partial rebuild.
type Sink interface {
	// Replace atomically replaces both projections with the build result
	// and bumps the projection generation.
	Replace(ctx context.Context, result *BuildResult) error

	// FlatDailyTotals sums count and amount per date over flat rows with a
	// non-null timestamp, for dates in [from, to].
	FlatDailyTotals(ctx context.Context, from, to string) ([]DailyTotals, error)

	// CrosstabDailyTotals sums tx_count and total_amount per date over
	// crosstab rows, for dates in [from, to].
	CrosstabDailyTotals(ctx context.Context, from, to string) ([]DailyTotals, error)

	// FlatRows returns flat rows filtered by date range, store, and brand.
	// Empty filter values match everything; null-timestamp rows are matched
	// only when no date range is given.
	FlatRows(ctx context.Context, from, to, storeID, brand string, limit int) ([]types.FlatRow, error)

	// Generation returns the current projection generation, 0 before the
	// first successful Replace.
	Generation(ctx context.Context) (int64, error)

	// Close closes the sink.
	Close() error
}

// SQLiteSink implements Sink on SQLite. A single write connection serializes
// replacements; WAL mode keeps committed generations readable while the next
// one is being written.
type SQLiteSink struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteSink opens (or creates) the projection store at dbPath.
func NewSQLiteSink(dbPath string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("projection: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteSink{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("projection: failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS flat_rows (
		key            TEXT NOT NULL,
		payload_id     TEXT NOT NULL,
		interaction_id TEXT,
		match          TEXT NOT NULL,
		store_id       TEXT NOT NULL,
		device_id      TEXT NOT NULL,
		amount         REAL NOT NULL,
		item_count     INTEGER NOT NULL,
		brand          TEXT,
		category       TEXT,
		transcript     TEXT,
		ts             INTEGER,
		event_date     TEXT,
		daypart        TEXT,
		day_class      TEXT,
		PRIMARY KEY (key, payload_id)
	);
	CREATE INDEX IF NOT EXISTS idx_flat_event_date ON flat_rows(event_date);
	CREATE INDEX IF NOT EXISTS idx_flat_store ON flat_rows(store_id);

	CREATE TABLE IF NOT EXISTS crosstab_rows (
		event_date   TEXT NOT NULL,
		store_id     TEXT NOT NULL,
		daypart      TEXT NOT NULL,
		brand        TEXT NOT NULL,
		tx_count     INTEGER NOT NULL,
		total_amount REAL NOT NULL,
		avg_amount   REAL NOT NULL,
		PRIMARY KEY (event_date, store_id, daypart, brand)
	);

	CREATE TABLE IF NOT EXISTS projection_meta (
		id         INTEGER PRIMARY KEY CHECK (id = 1),
		generation INTEGER NOT NULL,
		built_at   INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Replace swaps in the new projections inside one transaction. Under WAL,
// readers keep the previous committed generation until the commit lands.
func (s *SQLiteSink) Replace(ctx context.Context, result *BuildResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewProjectionError(errors.CodeSwapFailed, "failed to begin swap", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM flat_rows"); err != nil {
		return errors.NewProjectionError(errors.CodeSwapFailed, "failed to clear flat rows", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM crosstab_rows"); err != nil {
		return errors.NewProjectionError(errors.CodeSwapFailed, "failed to clear crosstab rows", err)
	}

	flatStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO flat_rows (
			key, payload_id, interaction_id, match, store_id, device_id,
			amount, item_count, brand, category, transcript,
			ts, event_date, daypart, day_class
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.NewProjectionError(errors.CodeWriteFailed, "failed to prepare flat insert", err)
	}
	defer flatStmt.Close()

	for _, r := range result.Flat {
		var ts interface{}
		var eventDate interface{}
		if r.Timestamp != nil {
			ts = r.Timestamp.UnixMilli()
			eventDate = r.Timestamp.Format(time.DateOnly)
		}
		if _, err := flatStmt.ExecContext(ctx,
			string(r.Key), r.PayloadID, nullable(r.InteractionID), string(r.Match),
			r.StoreID, r.DeviceID, r.Amount, r.ItemCount,
			nullable(r.Brand), nullable(r.Category), nullable(r.Transcript),
			ts, eventDate, nullable(string(r.Daypart)), nullable(string(r.DayClass)),
		); err != nil {
			return errors.NewProjectionError(errors.CodeWriteFailed,
				fmt.Sprintf("failed to insert flat row %s", r.PayloadID), err)
		}
	}

	ctStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO crosstab_rows (
			event_date, store_id, daypart, brand, tx_count, total_amount, avg_amount
		) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.NewProjectionError(errors.CodeWriteFailed, "failed to prepare crosstab insert", err)
	}
	defer ctStmt.Close()

	for _, r := range result.Crosstab {
		if _, err := ctStmt.ExecContext(ctx,
			r.Date, r.StoreID, string(r.Daypart), r.Brand,
			r.TxCount, r.TotalAmount, r.AvgAmount,
		); err != nil {
			return errors.NewProjectionError(errors.CodeWriteFailed,
				fmt.Sprintf("failed to insert crosstab row %s/%s", r.Date, r.Brand), err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projection_meta (id, generation, built_at) VALUES (1, 1, ?)
		ON CONFLICT(id) DO UPDATE SET
			generation = generation + 1,
			built_at = excluded.built_at`,
		time.Now().UnixMilli()); err != nil {
		return errors.NewProjectionError(errors.CodeSwapFailed, "failed to bump generation", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewProjectionError(errors.CodeSwapFailed, "failed to commit swap", err)
	}
	return nil
}

// FlatDailyTotals sums timestamped flat rows per date.
func (s *SQLiteSink) FlatDailyTotals(ctx context.Context, from, to string) ([]DailyTotals, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_date, COUNT(*), COALESCE(SUM(amount), 0)
		FROM flat_rows
		WHERE event_date IS NOT NULL AND event_date >= ? AND event_date <= ?
		GROUP BY event_date
		ORDER BY event_date`, from, to)
	if err != nil {
		return nil, fmt.Errorf("projection: flat totals query failed: %w", err)
	}
	defer rows.Close()
	return scanTotals(rows)
}

// CrosstabDailyTotals sums crosstab rows per date.
func (s *SQLiteSink) CrosstabDailyTotals(ctx context.Context, from, to string) ([]DailyTotals, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_date, COALESCE(SUM(tx_count), 0), COALESCE(SUM(total_amount), 0)
		FROM crosstab_rows
		WHERE event_date >= ? AND event_date <= ?
		GROUP BY event_date
		ORDER BY event_date`, from, to)
	if err != nil {
		return nil, fmt.Errorf("projection: crosstab totals query failed: %w", err)
	}
	defer rows.Close()
	return scanTotals(rows)
}

func scanTotals(rows *sql.Rows) ([]DailyTotals, error) {
	var out []DailyTotals
	for rows.Next() {
		var t DailyTotals
		if err := rows.Scan(&t.Date, &t.Count, &t.Amount); err != nil {
			return nil, fmt.Errorf("projection: failed to scan totals: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FlatRows returns flat rows matching the given filters.
func (s *SQLiteSink) FlatRows(ctx context.Context, from, to, storeID, brand string, limit int) ([]types.FlatRow, error) {
	query := `
		SELECT key, payload_id, interaction_id, match, store_id, device_id,
		       amount, item_count, brand, category, transcript, ts, daypart, day_class
		FROM flat_rows WHERE 1=1`
	var args []interface{}
	if from != "" {
		query += " AND event_date >= ?"
		args = append(args, from)
	}
	if to != "" {
		query += " AND event_date <= ?"
		args = append(args, to)
	}
	if storeID != "" {
		query += " AND store_id = ?"
		args = append(args, storeID)
	}
	if brand != "" {
		query += " AND brand = ?"
		args = append(args, brand)
	}
	query += " ORDER BY key, payload_id"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("projection: flat rows query failed: %w", err)
	}
	defer rows.Close()

	var out []types.FlatRow
	for rows.Next() {
		var r types.FlatRow
		var key, match string
		var interactionID, brandCol, category, transcript, daypart, dayClass sql.NullString
		var ts sql.NullInt64
		if err := rows.Scan(&key, &r.PayloadID, &interactionID, &match,
			&r.StoreID, &r.DeviceID, &r.Amount, &r.ItemCount,
			&brandCol, &category, &transcript, &ts, &daypart, &dayClass); err != nil {
			return nil, fmt.Errorf("projection: failed to scan flat row: %w", err)
		}
		r.Key = types.CanonicalKey(key)
		r.Match = types.MatchKind(match)
		r.InteractionID = interactionID.String
		r.Brand = brandCol.String
		r.Category = category.String
		r.Transcript = transcript.String
		r.Daypart = types.Daypart(daypart.String)
		r.DayClass = types.DayClass(dayClass.String)
		if ts.Valid {
			t := time.UnixMilli(ts.Int64).UTC()
			r.Timestamp = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Generation returns the current projection generation.
func (s *SQLiteSink) Generation(ctx context.Context) (int64, error) {
	var gen int64
	err := s.db.QueryRowContext(ctx, "SELECT generation FROM projection_meta WHERE id = 1").Scan(&gen)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("projection: generation query failed: %w", err)
	}
	return gen, nil
}

// Close closes the sink database.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

var _ Sink = (*SQLiteSink)(nil)

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
