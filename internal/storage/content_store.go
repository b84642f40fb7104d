package storage

import (
	"context"
	"sync"
)

// ContentStore persists extracted text per (user, document) on disk and
// keeps a process-local read cache in front of it.
type ContentStore struct {
	layout Layout

	// writeMu orders disk writes with cache updates so the cache never
	// holds a value older than the file.
	writeMu sync.Mutex

	mu    sync.RWMutex
	cache map[string]string
}

func NewContentStore(layout Layout) *ContentStore {
	return &ContentStore{
		layout: layout,
		cache:  make(map[string]string),
	}
}

func (s *ContentStore) Save(_ context.Context, userID, docID, text string) error {
	path, err := s.layout.ContentPath(userID, docID)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := WriteFileAtomic(path, []byte(text), 0o644); err != nil {
		return err
	}
	s.mu.Lock()
	s.cache[cacheKey(userID, docID)] = text
	s.mu.Unlock()
	return nil
}

// Load returns the stored text or ErrNotFound.
func (s *ContentStore) Load(_ context.Context, userID, docID string) (string, error) {
	key := cacheKey(userID, docID)
	s.mu.RLock()
	text, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return text, nil
	}

	path, err := s.layout.ContentPath(userID, docID)
	if err != nil {
		return "", err
	}
	data, err := ReadFile(path)
	if err != nil {
		return "", err
	}
	text = string(data)

	s.mu.Lock()
	s.cache[key] = text
	s.mu.Unlock()
	return text, nil
}

func (s *ContentStore) Delete(_ context.Context, userID, docID string) error {
	path, err := s.layout.ContentPath(userID, docID)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	delete(s.cache, cacheKey(userID, docID))
	s.mu.Unlock()
	return RemoveFile(path)
}

func cacheKey(userID, docID string) string {
	return userID + "/" + docID
}
