package engine

import (
	"context"
	"sync"

	"github.com/tallyline/tallyline/internal/quarantine"
	"github.com/tallyline/tallyline/pkg/types"
)

// classify runs the payload classifier over fresh records with a worker pool.
// Quarantined records are persisted to the side store; accepted outcomes are
// returned in input order. Cancellation is observed between shards; a shard
// in flight completes, the next one is never started.
func (e *Engine) classify(ctx context.Context, fresh []types.RawPayloadRecord) ([]quarantine.Outcome, int, error) {
	if len(fresh) == 0 {
		return nil, 0, ctx.Err()
	}

	shardSize := e.cfg.Pipeline.ShardSize
	if shardSize < 1 {
		shardSize = len(fresh)
	}
	workers := e.cfg.Pipeline.Workers
	if workers < 1 {
		workers = 1
	}

	type shard struct {
		index int
		recs  []types.RawPayloadRecord
	}
	var shards []shard
	for start := 0; start < len(fresh); start += shardSize {
		end := start + shardSize
		if end > len(fresh) {
			end = len(fresh)
		}
		shards = append(shards, shard{index: len(shards), recs: fresh[start:end]})
	}

	results := make([][]quarantine.Outcome, len(shards))
	jobs := make(chan shard)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	setErr := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sh := range jobs {
				outcomes := make([]quarantine.Outcome, 0, len(sh.recs))
				for _, rec := range sh.recs {
					outcomes = append(outcomes, quarantine.Classify(rec))
				}
				results[sh.index] = outcomes
			}
		}()
	}

feed:
	for _, sh := range shards {
		select {
		case <-ctx.Done():
			setErr(ctx.Err())
			break feed
		case jobs <- sh:
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, 0, firstErr
	}

	var accepted []quarantine.Outcome
	var quarantined int
	for _, outcomes := range results {
		for _, out := range outcomes {
			if out.IsAccepted() {
				accepted = append(accepted, out)
				continue
			}
			quarantined++
			if err := e.deps.Quarantine.Record(ctx, out); err != nil {
				return nil, 0, err
			}
		}
	}
	return accepted, quarantined, nil
}

// retainedOutcomes rereads the previous generation's flat rows and converts
// them back into accepted outcomes so they flow through linkage and
// resolution again. Rows reprocessed this run are skipped; the fresh read of
// the source record wins over the stored projection of it.
func (e *Engine) retainedOutcomes(ctx context.Context, fresh []quarantine.Outcome) ([]quarantine.Outcome, error) {
	rows, err := e.deps.Sink.FlatRows(ctx, "", "", "", "", 0)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	reprocessed := make(map[string]struct{}, len(fresh))
	for _, out := range fresh {
		reprocessed[out.Record.ID] = struct{}{}
	}

	var retained []quarantine.Outcome
	for _, r := range rows {
		if _, ok := reprocessed[r.PayloadID]; ok {
			continue
		}
		retained = append(retained, quarantine.Outcome{
			Record: types.RawPayloadRecord{
				ID:       r.PayloadID,
				DeviceID: r.DeviceID,
				StoreID:  r.StoreID,
			},
			Accepted: &types.ParsedPayload{
				Amount: r.Amount,
				Items: []types.PayloadItem{{
					Brand:    r.Brand,
					Category: r.Category,
					Quantity: r.ItemCount,
				}},
			},
			Key: r.Key,
		})
	}
	return retained, nil
}
