package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashfox/toolgate/internal/ports"
)

// BlobStore is a Postgres-backed ports.BlobStore. Export artifacts are
// typically modest in size (glTF buffers, texture atlases); storing them
// as bytea rows keeps the gateway to a single backing service rather than
// adding an object-store dependency the example pack never exercises.
type BlobStore struct {
	pool *pgxpool.Pool
}

// NewBlobStore builds a BlobStore backed by pool.
func NewBlobStore(pool *pgxpool.Pool) *BlobStore {
	return &BlobStore{pool: pool}
}

func (b *BlobStore) Put(ctx context.Context, bucket, key string, data []byte, meta ports.BlobMetadata) (ports.BlobPointer, error) {
	attrs, err := json.Marshal(meta.Attributes)
	if err != nil {
		return ports.BlobPointer{}, fmt.Errorf("marshaling blob metadata: %w", err)
	}
	const query = `INSERT INTO blobs (bucket, key, content_type, cache_control, metadata, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (bucket, key) DO UPDATE
		SET content_type = EXCLUDED.content_type, cache_control = EXCLUDED.cache_control,
		    metadata = EXCLUDED.metadata, data = EXCLUDED.data, created_at = now()`
	_, err = b.pool.Exec(ctx, query, bucket, key, meta.ContentType, meta.CacheControl, attrs, data)
	if err != nil {
		return ports.BlobPointer{}, fmt.Errorf("putting blob: %w", err)
	}
	return ports.BlobPointer{Bucket: bucket, Key: key}, nil
}

func (b *BlobStore) Get(ctx context.Context, pointer ports.BlobPointer) ([]byte, error) {
	const query = `SELECT data FROM blobs WHERE bucket = $1 AND key = $2`
	var data []byte
	err := b.pool.QueryRow(ctx, query, pointer.Bucket, pointer.Key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting blob: %w", err)
	}
	return data, nil
}

func (b *BlobStore) Delete(ctx context.Context, pointer ports.BlobPointer) error {
	const query = `DELETE FROM blobs WHERE bucket = $1 AND key = $2`
	_, err := b.pool.Exec(ctx, query, pointer.Bucket, pointer.Key)
	if err != nil {
		return fmt.Errorf("deleting blob: %w", err)
	}
	return nil
}

func (b *BlobStore) ReadUtf8(ctx context.Context, pointer ports.BlobPointer) (*string, error) {
	data, err := b.Get(ctx, pointer)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	s := string(data)
	return &s, nil
}

var _ ports.BlobStore = (*BlobStore)(nil)
