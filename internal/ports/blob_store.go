package ports

import "context"

// BlobPointer addresses one stored blob. Keys follow
// "{tenantId}/{projectId}/{relativePath}"; the "exports" bucket holds
// export artifacts.
type BlobPointer struct {
	Bucket string
	Key    string
}

// BlobMetadata describes a stored blob without its bytes.
type BlobMetadata struct {
	ContentType  string
	CacheControl string
	Attributes   map[string]string
}

// BlobStore is a bucketed byte store for export artifacts and similar
// project-scoped blobs.
type BlobStore interface {
	Put(ctx context.Context, bucket, key string, data []byte, meta BlobMetadata) (BlobPointer, error)
	Get(ctx context.Context, pointer BlobPointer) ([]byte, error)
	Delete(ctx context.Context, pointer BlobPointer) error
	// ReadUtf8 returns the blob decoded as UTF-8 text, or nil if absent.
	ReadUtf8(ctx context.Context, pointer BlobPointer) (*string, error)
}
