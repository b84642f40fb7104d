package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"gopherai-docqa/internal/model"
	"gopherai-docqa/internal/storage"
)

// FileDocumentRepository keeps one JSON metadata list per user on disk. Lists
// are loaded lazily and held in memory; every write rewrites the list
// atomically.
type FileDocumentRepository struct {
	layout storage.Layout
	logger *slog.Logger

	mu    sync.RWMutex
	users map[string]map[string]model.Document
}

func NewFileDocumentRepository(layout storage.Layout, logger *slog.Logger) *FileDocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileDocumentRepository{
		layout: layout,
		logger: logger,
		users:  make(map[string]map[string]model.Document),
	}
}

func (r *FileDocumentRepository) Get(_ context.Context, userID, docID string) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	docs, err := r.loadLocked(userID)
	if err != nil {
		return nil, err
	}
	doc, ok := docs[docID]
	if !ok {
		return nil, nil
	}
	out := cloneDocument(doc)
	return &out, nil
}

func (r *FileDocumentRepository) List(_ context.Context, userID string) ([]model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	docs, err := r.loadLocked(userID)
	if err != nil {
		return nil, err
	}
	list := make([]model.Document, 0, len(docs))
	for _, doc := range docs {
		list = append(list, cloneDocument(doc))
	}
	sortNewestFirst(list)
	return list, nil
}

func (r *FileDocumentRepository) Upsert(_ context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	docs, err := r.loadLocked(doc.UserID)
	if err != nil {
		return err
	}
	prev, existed := docs[doc.ID]
	docs[doc.ID] = cloneDocument(*doc)
	if err := r.flushLocked(doc.UserID, docs); err != nil {
		if existed {
			docs[doc.ID] = prev
		} else {
			delete(docs, doc.ID)
		}
		return err
	}
	return nil
}

func (r *FileDocumentRepository) Update(_ context.Context, userID, docID string, fn func(doc *model.Document) error) (*model.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	docs, err := r.loadLocked(userID)
	if err != nil {
		return nil, err
	}
	prev, ok := docs[docID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	doc := cloneDocument(prev)
	if err := fn(&doc); err != nil {
		return nil, err
	}
	docs[docID] = cloneDocument(doc)
	if err := r.flushLocked(userID, docs); err != nil {
		docs[docID] = prev
		return nil, err
	}
	return &doc, nil
}

func (r *FileDocumentRepository) Delete(_ context.Context, userID, docID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	docs, err := r.loadLocked(userID)
	if err != nil {
		return err
	}
	prev, ok := docs[docID]
	if !ok {
		return nil
	}
	delete(docs, docID)
	if err := r.flushLocked(userID, docs); err != nil {
		docs[docID] = prev
		return err
	}
	return nil
}

func (r *FileDocumentRepository) loadLocked(userID string) (map[string]model.Document, error) {
	if docs, ok := r.users[userID]; ok {
		return docs, nil
	}
	path, err := r.layout.MetadataPath(userID)
	if err != nil {
		return nil, err
	}

	docs := make(map[string]model.Document)
	raw, err := storage.ReadFile(path)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("load document list failed: %w", err)
	default:
		var records []map[string]any
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, fmt.Errorf("decode document list failed: %w", err)
		}
		for _, rec := range records {
			doc, err := ParseDocumentRecord(rec)
			if err != nil {
				r.logger.Warn("skip unreadable document record", "user_id", userID, "error", err)
				continue
			}
			if doc.UserID == "" {
				doc.UserID = userID
			}
			docs[doc.ID] = doc
		}
	}
	r.users[userID] = docs
	return docs, nil
}

func (r *FileDocumentRepository) flushLocked(userID string, docs map[string]model.Document) error {
	path, err := r.layout.MetadataPath(userID)
	if err != nil {
		return err
	}
	list := make([]model.Document, 0, len(docs))
	for _, doc := range docs {
		list = append(list, doc)
	}
	sortNewestFirst(list)
	payload, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document list failed: %w", err)
	}
	if err := storage.WriteFileAtomic(path, payload, 0o644); err != nil {
		return fmt.Errorf("write document list failed: %w", err)
	}
	return nil
}
