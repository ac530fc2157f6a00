package activity

import (
	"context"
	"fmt"

	"github.com/matteo/erphost/internal/objstore"
)

// ObjStore contains activities that copy backup artifacts to and from
// S3-compatible object storage. All activities are no-ops when no store is
// configured.
type ObjStore struct {
	store *objstore.Store
}

// NewObjStore creates a new ObjStore activity struct. store may be nil.
func NewObjStore(store *objstore.Store) *ObjStore {
	return &ObjStore{store: store}
}

// UploadBackupArchive copies a local archive to the bucket and returns the
// object key, or "" when no store is configured.
func (a *ObjStore) UploadBackupArchive(ctx context.Context, localPath string) (string, error) {
	if a.store == nil {
		return "", nil
	}
	key, err := a.store.UploadFile(ctx, localPath)
	if err != nil {
		return "", fmt.Errorf("upload backup archive: %w", err)
	}
	return key, nil
}

// DownloadBackupArchiveParams holds parameters for DownloadBackupArchive.
type DownloadBackupArchiveParams struct {
	Key       string
	LocalPath string
}

// DownloadBackupArchive fetches an archive from the bucket to a local path.
func (a *ObjStore) DownloadBackupArchive(ctx context.Context, params DownloadBackupArchiveParams) error {
	if a.store == nil {
		return fmt.Errorf("object storage not configured")
	}
	return a.store.DownloadFile(ctx, params.Key, params.LocalPath)
}

// DeleteBackupObject removes an archive object during retention cleanup.
func (a *ObjStore) DeleteBackupObject(ctx context.Context, key string) error {
	if a.store == nil || key == "" {
		return nil
	}
	return a.store.Delete(ctx, key)
}
