// Package memory holds in-process task, item, key and blob stores used in
// development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

type blob struct {
	contentType string
	data        []byte
}

// BlobStore keeps archived exports in memory and returns pseudo URIs.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]blob
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]blob)}
}

// PutObject persists the content and returns a URI.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	byteData, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read object %s: %w", path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[path] = blob{contentType: contentType, data: byteData}
	return "memory://" + path, nil
}

// Object returns a copy of the stored bytes and content type at path.
func (s *BlobStore) Object(path string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[path]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), b.data...), b.contentType, true
}
