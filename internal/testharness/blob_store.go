package testharness

import (
	"context"
	"sync"

	"github.com/ashfox/toolgate/internal/ports"
)

// BlobStore is an in-memory ports.BlobStore.
type BlobStore struct {
	mu    sync.Mutex
	blobs map[ports.BlobPointer][]byte
}

// NewBlobStore builds an empty in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[ports.BlobPointer][]byte)}
}

func (b *BlobStore) Put(_ context.Context, bucket, key string, data []byte, _ ports.BlobMetadata) (ports.BlobPointer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ptr := ports.BlobPointer{Bucket: bucket, Key: key}
	cp := make([]byte, len(data))
	copy(cp, data)
	b.blobs[ptr] = cp
	return ptr, nil
}

func (b *BlobStore) Get(_ context.Context, pointer ports.BlobPointer) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[pointer]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (b *BlobStore) Delete(_ context.Context, pointer ports.BlobPointer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, pointer)
	return nil
}

func (b *BlobStore) ReadUtf8(_ context.Context, pointer ports.BlobPointer) (*string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[pointer]
	if !ok {
		return nil, nil
	}
	s := string(data)
	return &s, nil
}

var _ ports.BlobStore = (*BlobStore)(nil)
