package storage

import "context"

// BlobStore keeps the original uploaded bytes so content can be re-extracted.
type BlobStore struct {
	layout Layout
}

func NewBlobStore(layout Layout) *BlobStore {
	return &BlobStore{layout: layout}
}

func (s *BlobStore) Save(_ context.Context, userID, docID string, data []byte) error {
	path, err := s.layout.FilePath(userID, docID)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o600)
}

func (s *BlobStore) Load(_ context.Context, userID, docID string) ([]byte, error) {
	path, err := s.layout.FilePath(userID, docID)
	if err != nil {
		return nil, err
	}
	return ReadFile(path)
}

func (s *BlobStore) Delete(_ context.Context, userID, docID string) error {
	path, err := s.layout.FilePath(userID, docID)
	if err != nil {
		return err
	}
	return RemoveFile(path)
}
