package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/scrapeflow/internal/task"
)

// KeyStore keeps API keys in memory.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]task.APIKey
}

// NewKeyStore seeds a KeyStore with keys.
func NewKeyStore(keys ...task.APIKey) *KeyStore {
	s := &KeyStore{keys: make(map[string]task.APIKey, len(keys))}
	for _, k := range keys {
		s.keys[k.Key] = k
	}
	return s
}

// GetAPIKey returns the key record or task.ErrUnauthorized.
func (s *KeyStore) GetAPIKey(_ context.Context, key string) (task.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[key]
	if !ok {
		return task.APIKey{}, task.ErrUnauthorized
	}
	return k, nil
}

// TouchAPIKey records the last use of key.
func (s *KeyStore) TouchAPIKey(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[key]
	if !ok {
		return task.ErrUnauthorized
	}
	ts := at.UTC()
	k.LastUsed = &ts
	s.keys[key] = k
	return nil
}
