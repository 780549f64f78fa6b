package storage

import (
	"bytes"
	"context"
	"io"

	"github.com/rs/zerolog"
)

// Backing is a remote store that can also serve reads. S3Store is the
// production implementation.
type Backing interface {
	Remote
	URL(ctx context.Context, key string) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// TieredStore writes reports to local disk and mirrors them to a backing
// store through the async uploader. Reads prefer disk and fill it from the
// backing store on a miss.
type TieredStore struct {
	disk     *LocalStore
	backing  Backing
	uploader *AsyncUploader
	log      zerolog.Logger
}

func NewTieredStore(backing Backing, disk *LocalStore, uploader *AsyncUploader, log zerolog.Logger) *TieredStore {
	return &TieredStore{
		disk:     disk,
		backing:  backing,
		uploader: uploader,
		log:      log.With().Str("component", "tiered-store").Logger(),
	}
}

// Save fails only if the disk write fails. A dropped upload is left for
// the reconciler.
func (t *TieredStore) Save(ctx context.Context, key string, data []byte, contentType string) error {
	if err := t.disk.Save(ctx, key, data, contentType); err != nil {
		return err
	}
	t.uploader.Enqueue(key, data, contentType)
	return nil
}

func (t *TieredStore) URL(ctx context.Context, key string) (string, error) {
	return t.backing.URL(ctx, key)
}

func (t *TieredStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if f, err := t.disk.Open(ctx, key); err == nil {
		return f, nil
	}
	rc, err := t.backing.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	if err := t.disk.Save(ctx, key, data, ContentType(key)); err != nil {
		t.log.Warn().Err(err).Str("key", key).Msg("report fetched but not cached on disk")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (t *TieredStore) Exists(ctx context.Context, key string) bool {
	return t.disk.Exists(ctx, key) || t.backing.Exists(ctx, key)
}

func (t *TieredStore) Type() string { return "tiered" }
