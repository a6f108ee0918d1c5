// Package storage persists projection snapshots to object storage. Backends
// include S3-compatible stores and the local filesystem.
package storage

import (
	"context"
	"errors"
)

// Common errors for snapshot storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrUploadFailed   = errors.New("upload failed")
	ErrDownloadFailed = errors.New("download failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStore abstracts the snapshot backend.
type ObjectStore interface {
	// Upload uploads a local file to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download fetches objectPath to localPath.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether an object is present.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix, used to
	// enumerate retained snapshots.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}
