package parity

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/tallyline/tallyline/pkg/types"
	_ "github.com/mattn/go-sqlite3"
)

// ReportStore is the append-only log of audit results.
type ReportStore interface {
	// Append persists a batch of reports from one audit pass.
	Append(ctx context.Context, reports []types.ParityReport) error

	// Query returns reports for dates in [from, to], optionally filtered by
	// verdict, most recent audits first.
	Query(ctx context.Context, from, to string, verdict types.ParityVerdict, limit int) ([]types.ParityReport, error)

	// Close closes the store.
	Close() error
}

// SQLiteReportStore implements ReportStore using SQLite.
type SQLiteReportStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteReportStore opens (or creates) the parity log at dbPath.
func NewSQLiteReportStore(dbPath string) (*SQLiteReportStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("parity: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteReportStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("parity: failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteReportStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS parity_reports (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		event_date      TEXT NOT NULL,
		flat_count      INTEGER NOT NULL,
		crosstab_count  INTEGER NOT NULL,
		flat_amount     REAL NOT NULL,
		crosstab_amount REAL NOT NULL,
		count_delta     INTEGER NOT NULL,
		amount_delta    REAL NOT NULL,
		verdict         TEXT NOT NULL,
		audited_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_parity_date ON parity_reports(event_date);
	CREATE INDEX IF NOT EXISTS idx_parity_verdict ON parity_reports(verdict);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append persists a batch of reports in one transaction.
func (s *SQLiteReportStore) Append(ctx context.Context, reports []types.ParityReport) error {
	if len(reports) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("parity: failed to begin append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO parity_reports (
			event_date, flat_count, crosstab_count, flat_amount, crosstab_amount,
			count_delta, amount_delta, verdict, audited_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("parity: failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range reports {
		if _, err := stmt.ExecContext(ctx,
			r.Date, r.FlatCount, r.CrosstabCount, r.FlatAmount, r.CrosstabAmount,
			r.CountDelta, r.AmountDelta, string(r.Verdict), r.AuditedAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("parity: failed to insert report for %s: %w", r.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("parity: failed to commit append: %w", err)
	}
	return nil
}

// Query returns matching reports, most recent audits first.
func (s *SQLiteReportStore) Query(ctx context.Context, from, to string, verdict types.ParityVerdict, limit int) ([]types.ParityReport, error) {
	query := `
		SELECT event_date, flat_count, crosstab_count, flat_amount, crosstab_amount,
		       count_delta, amount_delta, verdict, audited_at
		FROM parity_reports WHERE 1=1`
	var args []interface{}
	if from != "" {
		query += " AND event_date >= ?"
		args = append(args, from)
	}
	if to != "" {
		query += " AND event_date <= ?"
		args = append(args, to)
	}
	if verdict != "" {
		query += " AND verdict = ?"
		args = append(args, string(verdict))
	}
	query += " ORDER BY audited_at DESC, event_date"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("parity: report query failed: %w", err)
	}
	defer rows.Close()

	var out []types.ParityReport
	for rows.Next() {
		var r types.ParityReport
		var verdictCol string
		var auditedAt int64
		if err := rows.Scan(&r.Date, &r.FlatCount, &r.CrosstabCount,
			&r.FlatAmount, &r.CrosstabAmount, &r.CountDelta, &r.AmountDelta,
			&verdictCol, &auditedAt); err != nil {
			return nil, fmt.Errorf("parity: failed to scan report: %w", err)
		}
		r.Verdict = types.ParityVerdict(verdictCol)
		r.AuditedAt = time.UnixMilli(auditedAt).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the store database.
func (s *SQLiteReportStore) Close() error {
	return s.db.Close()
}

var _ ReportStore = (*SQLiteReportStore)(nil)
