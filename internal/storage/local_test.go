package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "payload.jsonl")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return p
}

func TestLocalStore_UploadDownload(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()

	src := writeTempFile(t, "flat snapshot contents")
	if err := store.Upload(ctx, src, "snapshots/recon-daily/gen-0000000001/flat.jsonl.sz"); err != nil {
		t.Fatalf("upload failed: %v", err)
	}

	exists, err := store.Exists(ctx, "snapshots/recon-daily/gen-0000000001/flat.jsonl.sz")
	if err != nil || !exists {
		t.Fatalf("exists = %v, %v; want true", exists, err)
	}

	dst := filepath.Join(t.TempDir(), "restored")
	if err := store.Download(ctx, "snapshots/recon-daily/gen-0000000001/flat.jsonl.sz", dst); err != nil {
		t.Fatalf("download failed: %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "flat snapshot contents" {
		t.Errorf("round trip = %q", got)
	}
}

func TestLocalStore_DownloadMissing(t *testing.T) {
	store, _ := NewLocalStore(t.TempDir())
	err := store.Download(context.Background(), "nope", filepath.Join(t.TempDir(), "out"))
	if err != ErrObjectNotFound {
		t.Errorf("error = %v, want ErrObjectNotFound", err)
	}
}

func TestLocalStore_DeleteIdempotent(t *testing.T) {
	store, _ := NewLocalStore(t.TempDir())
	ctx := context.Background()

	src := writeTempFile(t, "x")
	store.Upload(ctx, src, "a/b")
	if err := store.Delete(ctx, "a/b"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	// Deleting an absent object is not an error.
	if err := store.Delete(ctx, "a/b"); err != nil {
		t.Errorf("second delete = %v, want nil", err)
	}
	exists, _ := store.Exists(ctx, "a/b")
	if exists {
		t.Error("object still present after delete")
	}
}

func TestLocalStore_ListObjects(t *testing.T) {
	store, _ := NewLocalStore(t.TempDir())
	ctx := context.Background()

	src := writeTempFile(t, "x")
	store.Upload(ctx, src, "snapshots/recon-daily/gen-0000000001/flat.jsonl.sz")
	store.Upload(ctx, src, "snapshots/recon-daily/gen-0000000002/flat.jsonl.sz")
	store.Upload(ctx, src, "snapshots/recon-weekly/gen-0000000001/flat.jsonl.sz")

	got, err := store.ListObjects(ctx, "snapshots/recon-daily/")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("objects = %v, want 2 under recon-daily", got)
	}
}
