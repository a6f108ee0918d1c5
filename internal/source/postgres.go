package source

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tallyline/tallyline/internal/errors"
	"github.com/tallyline/tallyline/pkg/types"
)

// PostgresSources reads payloads, interactions, and overrides from the
// upstream warehouse. Each table carries a monotonically increasing
// change_version column maintained by the warehouse's ingestion triggers;
// ChangedSince filters on it so incremental runs read only fresh rows.
type PostgresSources struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewPostgresSources connects to the warehouse. The pool is verified with a
// ping so misconfiguration surfaces at startup rather than mid-run.
func NewPostgresSources(ctx context.Context, dsn string, queryTimeout time.Duration) (*PostgresSources, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.NewSourceError(errors.CodeSourceUnavailable,
			"failed to create connection pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.NewSourceError(errors.CodeSourceUnavailable,
			"warehouse unreachable", err)
	}
	if queryTimeout <= 0 {
		queryTimeout = 60 * time.Second
	}
	return &PostgresSources{pool: pool, queryTimeout: queryTimeout}, nil
}

// Close releases the connection pool.
func (p *PostgresSources) Close() {
	p.pool.Close()
}

// Payloads returns the payload-side source view.
func (p *PostgresSources) Payloads() PayloadSource { return payloadView{p} }

// Interactions returns the interaction-side source view.
func (p *PostgresSources) Interactions() InteractionSource { return interactionView{p} }

// Overrides returns the override store view.
func (p *PostgresSources) Overrides() OverrideStore { return overrideView{p} }

func (p *PostgresSources) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.queryTimeout)
}

func wrapSourceErr(op string, err error) error {
	if err == nil {
		return nil
	}
	code := errors.CodeSourceUnavailable
	if stderrors.Is(err, context.DeadlineExceeded) {
		code = errors.CodeSourceTimeout
	}
	return errors.NewSourceError(code, fmt.Sprintf("%s failed", op), err).
		WithDetails(map[string]interface{}{"op": op})
}

type payloadView struct{ p *PostgresSources }

func (v payloadView) ChangedSince(ctx context.Context, version int64) ([]types.RawPayloadRecord, error) {
	ctx, cancel := v.p.bounded(ctx)
	defer cancel()

	rows, err := v.p.pool.Query(ctx, `
		SELECT id, device_id, store_id, raw_payload, ingested_at
		FROM payload_transactions
		WHERE change_version > $1
		ORDER BY change_version`, version)
	if err != nil {
		return nil, wrapSourceErr("payload read", err)
	}
	defer rows.Close()

	var out []types.RawPayloadRecord
	for rows.Next() {
		var r types.RawPayloadRecord
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.StoreID, &r.RawPayload, &r.IngestedAt); err != nil {
			return nil, wrapSourceErr("payload scan", err)
		}
		out = append(out, r)
	}
	return out, wrapSourceErr("payload read", rows.Err())
}

func (v payloadView) CurrentVersion(ctx context.Context) (int64, error) {
	ctx, cancel := v.p.bounded(ctx)
	defer cancel()

	var version int64
	err := v.p.pool.QueryRow(ctx,
		"SELECT COALESCE(MAX(change_version), 0) FROM payload_transactions").Scan(&version)
	if err != nil {
		return 0, wrapSourceErr("payload version read", err)
	}
	return version, nil
}

type interactionView struct{ p *PostgresSources }

func (v interactionView) ChangedSince(ctx context.Context, version int64) ([]types.InteractionRecord, error) {
	ctx, cancel := v.p.bounded(ctx)
	defer cancel()

	rows, err := v.p.pool.Query(ctx, `
		SELECT id, device_id, store_id, event_ts, COALESCE(transcript, '')
		FROM sales_interactions
		WHERE change_version > $1
		ORDER BY change_version`, version)
	if err != nil {
		return nil, wrapSourceErr("interaction read", err)
	}
	defer rows.Close()

	var out []types.InteractionRecord
	for rows.Next() {
		var r types.InteractionRecord
		if err := rows.Scan(&r.ID, &r.DeviceID, &r.StoreID, &r.Timestamp, &r.Transcript); err != nil {
			return nil, wrapSourceErr("interaction scan", err)
		}
		out = append(out, r)
	}
	return out, wrapSourceErr("interaction read", rows.Err())
}

func (v interactionView) CurrentVersion(ctx context.Context) (int64, error) {
	ctx, cancel := v.p.bounded(ctx)
	defer cancel()

	var version int64
	err := v.p.pool.QueryRow(ctx,
		"SELECT COALESCE(MAX(change_version), 0) FROM sales_interactions").Scan(&version)
	if err != nil {
		return 0, wrapSourceErr("interaction version read", err)
	}
	return version, nil
}

type overrideView struct{ p *PostgresSources }

func (v overrideView) All(ctx context.Context) (map[types.CanonicalKey]types.TimestampOverride, error) {
	ctx, cancel := v.p.bounded(ctx)
	defer cancel()

	rows, err := v.p.pool.Query(ctx, `
		SELECT canonical_key, corrected_ts, COALESCE(note, ''), updated_at
		FROM timestamp_overrides`)
	if err != nil {
		return nil, wrapSourceErr("override read", err)
	}
	defer rows.Close()

	out := make(map[types.CanonicalKey]types.TimestampOverride)
	for rows.Next() {
		var ov types.TimestampOverride
		var key string
		if err := rows.Scan(&key, &ov.Timestamp, &ov.Note, &ov.UpdatedAt); err != nil {
			return nil, wrapSourceErr("override scan", err)
		}
		ov.Key = types.CanonicalKey(key)
		out[ov.Key] = ov
	}
	return out, wrapSourceErr("override read", rows.Err())
}

func (v overrideView) Upsert(ctx context.Context, ov types.TimestampOverride) error {
	ctx, cancel := v.p.bounded(ctx)
	defer cancel()

	_, err := v.p.pool.Exec(ctx, `
		INSERT INTO timestamp_overrides (canonical_key, corrected_ts, note, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (canonical_key) DO UPDATE SET
			corrected_ts = EXCLUDED.corrected_ts,
			note = EXCLUDED.note,
			updated_at = EXCLUDED.updated_at`,
		string(ov.Key), ov.Timestamp, ov.Note, time.Now().UTC())
	if err != nil {
		return wrapSourceErr("override upsert", err)
	}
	return nil
}

var (
	_ PayloadSource     = payloadView{}
	_ InteractionSource = interactionView{}
	_ OverrideStore     = overrideView{}
)
