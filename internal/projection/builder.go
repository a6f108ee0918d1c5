// Package projection materializes the two downstream views of linked
// transactions: the flat projection (one row per transaction, null
// timestamps included) and the crosstab projection (pre-aggregated by date,
// store, daypart, and brand over timestamped rows only). Both are fully
// re-derivable from linked transactions; rebuilds are idempotent.
package projection

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tallyline/tallyline/pkg/types"
)

// UnknownBrand is the crosstab bucket for payloads that carried no brand.
const UnknownBrand = "Unknown"

// GroupKey is the string form of a crosstab group tuple, used as a map key
// when combining partial aggregates across partitions.
type GroupKey = string

// partialAggregate holds the running sums for one crosstab group.
type partialAggregate struct {
	Date    string
	StoreID string
	Daypart types.Daypart
	Brand   string
	Count   int64
	Sum     float64
}

// BuildResult holds both projections produced from one linked set.
type BuildResult struct {
	Flat     []types.FlatRow
	Crosstab []types.CrosstabRow
}

// Builder produces both projections.
type Builder struct {
	// Partitions is the number of aggregation partitions processed
	// concurrently. Partial aggregates are merged by summation, which is
	// commutative and associative, so the partitioning never changes totals.
	Partitions int
}

// NewBuilder creates a Builder with the given aggregation parallelism.
func NewBuilder(partitions int) *Builder {
	if partitions < 1 {
		partitions = 1
	}
	return &Builder{Partitions: partitions}
}

// Build produces both projections. Output ordering is deterministic so that
// rebuilding from identical input yields byte-identical projections.
func (b *Builder) Build(ctx context.Context, linked []types.LinkedTransaction) (*BuildResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	flat := buildFlat(linked)
	crosstab, err := b.buildCrosstab(ctx, linked)
	if err != nil {
		return nil, err
	}

	return &BuildResult{Flat: flat, Crosstab: crosstab}, nil
}

// buildFlat emits one row per linked transaction, unconditionally. Rows with
// a null timestamp are retained for completeness auditing.
func buildFlat(linked []types.LinkedTransaction) []types.FlatRow {
	rows := make([]types.FlatRow, 0, len(linked))
	for _, lt := range linked {
		rows = append(rows, types.FlatRow{
			Key:           lt.Key,
			PayloadID:     lt.PayloadID,
			InteractionID: lt.InteractionID,
			Match:         lt.Match,
			StoreID:       lt.StoreID,
			DeviceID:      lt.DeviceID,
			Amount:        lt.Amount,
			ItemCount:     lt.ItemCount,
			Brand:         lt.Brand,
			Category:      lt.Category,
			Transcript:    lt.Transcript,
			Timestamp:     lt.Timestamp,
			Daypart:       lt.Daypart,
			DayClass:      lt.DayClass,
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Key != rows[j].Key {
			return rows[i].Key < rows[j].Key
		}
		return rows[i].PayloadID < rows[j].PayloadID
	})
	return rows
}

// buildCrosstab aggregates timestamped transactions by (date, store,
// daypart, brand). The reduce runs per partition, partials are merged by
// summation, and averages are computed from the merged groups, never
// independently re-derived.
func (b *Builder) buildCrosstab(ctx context.Context, linked []types.LinkedTransaction) ([]types.CrosstabRow, error) {
	partitions := b.Partitions
	if partitions > len(linked) {
		partitions = len(linked)
	}
	if partitions == 0 {
		return []types.CrosstabRow{}, nil
	}

	chunk := (len(linked) + partitions - 1) / partitions
	partials := make([]map[GroupKey]*partialAggregate, partitions)

	var wg sync.WaitGroup
	for p := 0; p < partitions; p++ {
		lo := p * chunk
		hi := lo + chunk
		if hi > len(linked) {
			hi = len(linked)
		}
		wg.Add(1)
		go func(idx int, part []types.LinkedTransaction) {
			defer wg.Done()
			partials[idx] = computePartials(part)
		}(p, linked[lo:hi])
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := mergePartials(partials)
	return toRows(merged), nil
}

// computePartials aggregates one partition's timestamped transactions.
func computePartials(part []types.LinkedTransaction) map[GroupKey]*partialAggregate {
	groups := make(map[GroupKey]*partialAggregate)
	for _, lt := range part {
		if !lt.HasTimestamp() {
			// Only timestamped rows reach the crosstab.
			continue
		}

		date := lt.Timestamp.Format(time.DateOnly)
		brand := lt.Brand
		if brand == "" {
			brand = UnknownBrand
		}
		key := groupKeyString(date, lt.StoreID, string(lt.Daypart), brand)

		agg, ok := groups[key]
		if !ok {
			agg = &partialAggregate{
				Date:    date,
				StoreID: lt.StoreID,
				Daypart: lt.Daypart,
				Brand:   brand,
			}
			groups[key] = agg
		}
		agg.Count++
		agg.Sum += lt.Amount
	}
	return groups
}

// mergePartials combines per-partition aggregates by summation.
func mergePartials(partials []map[GroupKey]*partialAggregate) map[GroupKey]*partialAggregate {
	merged := make(map[GroupKey]*partialAggregate)
	for _, part := range partials {
		for key, agg := range part {
			existing, ok := merged[key]
			if !ok {
				cp := *agg
				merged[key] = &cp
				continue
			}
			existing.Count += agg.Count
			existing.Sum += agg.Sum
		}
	}
	return merged
}

// toRows converts merged aggregates into sorted crosstab rows.
func toRows(merged map[GroupKey]*partialAggregate) []types.CrosstabRow {
	rows := make([]types.CrosstabRow, 0, len(merged))
	for _, agg := range merged {
		rows = append(rows, types.CrosstabRow{
			Date:        agg.Date,
			StoreID:     agg.StoreID,
			Daypart:     agg.Daypart,
			Brand:       agg.Brand,
			TxCount:     agg.Count,
			TotalAmount: agg.Sum,
			AvgAmount:   agg.Sum / float64(agg.Count),
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.StoreID != b.StoreID {
			return a.StoreID < b.StoreID
		}
		if a.Daypart != b.Daypart {
			return a.Daypart < b.Daypart
		}
		return a.Brand < b.Brand
	})
	return rows
}

// groupKeyString produces a deterministic string key from group values.
func groupKeyString(vals ...string) string {
	return strings.Join(vals, "|")
}
