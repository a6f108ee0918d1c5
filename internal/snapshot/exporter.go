// Package snapshot exports completed projection builds as snappy-compressed
// JSONL objects, one file per projection, for offline analysis and rebuild
// verification.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/golang/snappy"
	"github.com/tallyline/tallyline/internal/errors"
	"github.com/tallyline/tallyline/internal/projection"
	"github.com/tallyline/tallyline/internal/storage"
)

// DefaultRetainedGenerations is how many snapshot generations Prune keeps.
const DefaultRetainedGenerations = 5

// Exporter writes projection snapshots to an object store.
type Exporter struct {
	store    storage.ObjectStore
	taskCode string
	retain   int
}

// NewExporter creates an exporter for the given task.
func NewExporter(store storage.ObjectStore, taskCode string) *Exporter {
	return &Exporter{store: store, taskCode: taskCode, retain: DefaultRetainedGenerations}
}

// Export writes both projections under snapshots/<task>/gen-<generation>/ and
// prunes generations beyond the retention horizon. Failure to export never
// rolls back the projection swap; the caller reports it as a run event.
func (e *Exporter) Export(ctx context.Context, result *projection.BuildResult, generation int64) error {
	prefix := e.generationPrefix(generation)

	if err := e.writeObject(ctx, path.Join(prefix, "flat.jsonl.sz"), func(enc *json.Encoder) error {
		for _, r := range result.Flat {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := e.writeObject(ctx, path.Join(prefix, "crosstab.jsonl.sz"), func(enc *json.Encoder) error {
		for _, r := range result.Crosstab {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	return e.prune(ctx, generation)
}

func (e *Exporter) generationPrefix(generation int64) string {
	return path.Join("snapshots", e.taskCode, fmt.Sprintf("gen-%010d", generation))
}

func (e *Exporter) writeObject(ctx context.Context, objectPath string, write func(*json.Encoder) error) error {
	tmp, err := os.CreateTemp("", "tallyline-snapshot-*")
	if err != nil {
		return errors.NewStorageError(errors.CodeUploadFailed, "failed to stage snapshot", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	sw := snappy.NewBufferedWriter(tmp)
	enc := json.NewEncoder(sw)
	if err := write(enc); err != nil {
		return errors.NewStorageError(errors.CodeUploadFailed, "failed to encode snapshot", err)
	}
	if err := sw.Close(); err != nil {
		return errors.NewStorageError(errors.CodeUploadFailed, "failed to flush snapshot", err)
	}
	if err := tmp.Close(); err != nil {
		return errors.NewStorageError(errors.CodeUploadFailed, "failed to close snapshot file", err)
	}

	if err := e.store.Upload(ctx, tmp.Name(), objectPath); err != nil {
		return errors.NewStorageError(errors.CodeUploadFailed,
			fmt.Sprintf("failed to upload %s", objectPath), err)
	}
	return nil
}

// prune removes snapshot generations older than the retention horizon.
func (e *Exporter) prune(ctx context.Context, current int64) error {
	if e.retain <= 0 {
		return nil
	}
	objects, err := e.store.ListObjects(ctx, path.Join("snapshots", e.taskCode)+"/")
	if err != nil {
		return err
	}

	gens := map[string][]string{}
	for _, obj := range objects {
		rest := obj[len(path.Join("snapshots", e.taskCode))+1:]
		gen, _, found := cutSlash(rest)
		if !found {
			continue
		}
		gens[gen] = append(gens[gen], obj)
	}

	names := make([]string, 0, len(gens))
	for g := range gens {
		names = append(names, g)
	}
	sort.Strings(names)

	if len(names) <= e.retain {
		return nil
	}
	for _, g := range names[:len(names)-e.retain] {
		for _, obj := range gens[g] {
			if err := e.store.Delete(ctx, obj); err != nil {
				return err
			}
		}
	}
	return nil
}

func cutSlash(s string) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// ReadObject downloads a snapshot object and decodes its JSONL records.
func ReadObject[T any](ctx context.Context, store storage.ObjectStore, objectPath, scratchDir string) ([]T, error) {
	local := filepath.Join(scratchDir, filepath.Base(objectPath))
	if err := store.Download(ctx, objectPath, local); err != nil {
		return nil, err
	}
	f, err := os.Open(local)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(snappy.NewReader(f))
	var out []T
	for dec.More() {
		var rec T
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("snapshot: failed to decode %s: %w", objectPath, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
