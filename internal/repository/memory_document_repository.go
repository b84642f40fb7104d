package repository

import (
	"context"
	"sync"

	"gopherai-docqa/internal/model"
)

type MemoryDocumentRepository struct {
	mu    sync.RWMutex
	users map[string]map[string]model.Document
}

func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{users: make(map[string]map[string]model.Document)}
}

func (r *MemoryDocumentRepository) Get(_ context.Context, userID, docID string) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.users[userID][docID]
	if !ok {
		return nil, nil
	}
	out := cloneDocument(doc)
	return &out, nil
}

func (r *MemoryDocumentRepository) List(_ context.Context, userID string) ([]model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]model.Document, 0, len(r.users[userID]))
	for _, doc := range r.users[userID] {
		list = append(list, cloneDocument(doc))
	}
	sortNewestFirst(list)
	return list, nil
}

func (r *MemoryDocumentRepository) Upsert(_ context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	docs, ok := r.users[doc.UserID]
	if !ok {
		docs = make(map[string]model.Document)
		r.users[doc.UserID] = docs
	}
	docs[doc.ID] = cloneDocument(*doc)
	return nil
}

func (r *MemoryDocumentRepository) Update(_ context.Context, userID, docID string, fn func(doc *model.Document) error) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.users[userID][docID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	doc = cloneDocument(doc)
	if err := fn(&doc); err != nil {
		return nil, err
	}
	r.users[userID][docID] = cloneDocument(doc)
	return &doc, nil
}

func (r *MemoryDocumentRepository) Delete(_ context.Context, userID, docID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users[userID], docID)
	return nil
}
