// Package parity proves the flat and crosstab projections stay numerically
// consistent. The crosstab is defined as a grouping of the timestamped flat
// rows, so at full parity the two are arithmetically identical: the count
// comparison is exact, and the amount comparison allows only a fixed
// absolute tolerance for floating-point summation order.
//
// A persistent FAIL is a data-integrity bug, surfaced as a structured
// report, never auto-corrected and never reduced to a log line.
package parity

import (
	"context"
	"sort"
	"time"

	"github.com/tallyline/tallyline/internal/errors"
	"github.com/tallyline/tallyline/internal/projection"
	"github.com/tallyline/tallyline/pkg/types"
)

// DefaultAmountTolerance is the absolute currency tolerance for the amount
// comparison: half a centavo, below the smallest representable price delta.
const DefaultAmountTolerance = 0.005

// Auditor compares the two projections date by date. It reads only
// committed projections, so it can run inside the pipeline after a build or
// independently on demand.
type Auditor struct {
	sink      projection.Sink
	tolerance float64
}

// NewAuditor creates an Auditor over the given projection sink.
func NewAuditor(sink projection.Sink, tolerance float64) *Auditor {
	if tolerance <= 0 {
		tolerance = DefaultAmountTolerance
	}
	return &Auditor{sink: sink, tolerance: tolerance}
}

// Audit compares totals for each date in the trailing window ending at
// asOf. Dates present in either projection are compared; a date missing
// from one side counts as zero there.
func (a *Auditor) Audit(ctx context.Context, asOf time.Time, windowDays int) ([]types.ParityReport, error) {
	if windowDays < 1 {
		windowDays = 1
	}
	to := asOf.Format(time.DateOnly)
	from := asOf.AddDate(0, 0, -(windowDays - 1)).Format(time.DateOnly)

	flat, err := a.sink.FlatDailyTotals(ctx, from, to)
	if err != nil {
		return nil, errors.NewParityError("failed to read flat totals", err)
	}
	crosstab, err := a.sink.CrosstabDailyTotals(ctx, from, to)
	if err != nil {
		return nil, errors.NewParityError("failed to read crosstab totals", err)
	}

	return a.compare(flat, crosstab), nil
}

// compare pairs the per-date totals from both projections and issues a
// verdict per date.
func (a *Auditor) compare(flat, crosstab []projection.DailyTotals) []types.ParityReport {
	flatByDate := make(map[string]projection.DailyTotals, len(flat))
	for _, t := range flat {
		flatByDate[t.Date] = t
	}
	ctByDate := make(map[string]projection.DailyTotals, len(crosstab))
	for _, t := range crosstab {
		ctByDate[t.Date] = t
	}

	dates := make([]string, 0, len(flatByDate))
	for d := range flatByDate {
		dates = append(dates, d)
	}
	for d := range ctByDate {
		if _, seen := flatByDate[d]; !seen {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)

	now := time.Now().UTC()
	reports := make([]types.ParityReport, 0, len(dates))
	for _, d := range dates {
		f := flatByDate[d]
		c := ctByDate[d]

		r := types.ParityReport{
			Date:           d,
			FlatCount:      f.Count,
			CrosstabCount:  c.Count,
			FlatAmount:     f.Amount,
			CrosstabAmount: c.Amount,
			CountDelta:     c.Count - f.Count,
			AmountDelta:    c.Amount - f.Amount,
			AuditedAt:      now,
		}
		if r.CountDelta == 0 && abs(r.AmountDelta) < a.tolerance {
			r.Verdict = types.ParityPass
		} else {
			r.Verdict = types.ParityFail
		}
		reports = append(reports, r)
	}
	return reports
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
