package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"github.com/liamcoop/curation/objectstore"
)

// Archiver writes a JSON manifest of each run to the object store
type Archiver struct {
	store  objectstore.Store
	bucket string
	prefix string
}

func NewArchiver(store objectstore.Store, bucket, prefix string) *Archiver {
	return &Archiver{store: store, bucket: bucket, prefix: prefix}
}

// ManifestKey returns <prefix>/runs/<project>/<dataset>/<id>.json
func (a *Archiver) ManifestKey(rec Record) string {
	return path.Join(a.prefix, "runs", rec.ProjectID, rec.DatasetID, rec.ID+".json")
}

// Archive uploads the manifest and returns its key
func (a *Archiver) Archive(ctx context.Context, rec Record) (string, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode manifest: %w", err)
	}
	key := a.ManifestKey(rec)
	if err := a.store.Put(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return "", fmt.Errorf("failed to archive run %s: %w", rec.ID, err)
	}
	return key, nil
}

// Load reads a manifest previously written by Archive
func (a *Archiver) Load(ctx context.Context, key string) (*Record, error) {
	rc, _, err := a.store.Get(ctx, a.bucket, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", key, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", key, err)
	}
	return &rec, nil
}
