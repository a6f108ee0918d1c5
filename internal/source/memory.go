package source

import (
	"context"
	"sort"
	"sync"

	"github.com/tallyline/tallyline/pkg/types"
)

// MemoryPayloadSource is an in-memory PayloadSource for tests and
// single-process deployments fed by file import.
type MemoryPayloadSource struct {
	mu      sync.RWMutex
	records []versionedPayload
	version int64
}

type versionedPayload struct {
	version int64
	record  types.RawPayloadRecord
}

// NewMemoryPayloadSource returns an empty in-memory payload source.
func NewMemoryPayloadSource() *MemoryPayloadSource {
	return &MemoryPayloadSource{}
}

// Add appends records, each at a fresh change version.
func (m *MemoryPayloadSource) Add(records ...types.RawPayloadRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.version++
		m.records = append(m.records, versionedPayload{version: m.version, record: r})
	}
}

// ChangedSince returns records with version > cursor, in version order.
func (m *MemoryPayloadSource) ChangedSince(ctx context.Context, version int64) ([]types.RawPayloadRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.RawPayloadRecord
	for _, v := range m.records {
		if v.version > version {
			out = append(out, v.record)
		}
	}
	return out, nil
}

// CurrentVersion returns the latest change version.
func (m *MemoryPayloadSource) CurrentVersion(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version, nil
}

// MemoryInteractionSource is an in-memory InteractionSource.
type MemoryInteractionSource struct {
	mu      sync.RWMutex
	records []versionedInteraction
	version int64
}

type versionedInteraction struct {
	version int64
	record  types.InteractionRecord
}

// NewMemoryInteractionSource returns an empty in-memory interaction source.
func NewMemoryInteractionSource() *MemoryInteractionSource {
	return &MemoryInteractionSource{}
}

// Add appends records, each at a fresh change version.
func (m *MemoryInteractionSource) Add(records ...types.InteractionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.version++
		m.records = append(m.records, versionedInteraction{version: m.version, record: r})
	}
}

// ChangedSince returns records with version > cursor, in version order.
func (m *MemoryInteractionSource) ChangedSince(ctx context.Context, version int64) ([]types.InteractionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.InteractionRecord
	for _, v := range m.records {
		if v.version > version {
			out = append(out, v.record)
		}
	}
	return out, nil
}

// CurrentVersion returns the latest change version.
func (m *MemoryInteractionSource) CurrentVersion(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version, nil
}

// MemoryOverrideStore is an in-memory OverrideStore.
type MemoryOverrideStore struct {
	mu        sync.RWMutex
	overrides map[types.CanonicalKey]types.TimestampOverride
}

// NewMemoryOverrideStore returns an empty in-memory override store.
func NewMemoryOverrideStore() *MemoryOverrideStore {
	return &MemoryOverrideStore{overrides: make(map[types.CanonicalKey]types.TimestampOverride)}
}

// All returns a copy of every override.
func (m *MemoryOverrideStore) All(ctx context.Context) (map[types.CanonicalKey]types.TimestampOverride, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[types.CanonicalKey]types.TimestampOverride, len(m.overrides))
	for k, v := range m.overrides {
		out[k] = v
	}
	return out, nil
}

// Upsert creates or replaces an override.
func (m *MemoryOverrideStore) Upsert(ctx context.Context, ov types.TimestampOverride) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[ov.Key] = ov
	return nil
}

// Keys returns the override keys in sorted order, for deterministic tests.
func (m *MemoryOverrideStore) Keys() []types.CanonicalKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]types.CanonicalKey, 0, len(m.overrides))
	for k := range m.overrides {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

var (
	_ PayloadSource     = (*MemoryPayloadSource)(nil)
	_ InteractionSource = (*MemoryInteractionSource)(nil)
	_ OverrideStore     = (*MemoryOverrideStore)(nil)
)
