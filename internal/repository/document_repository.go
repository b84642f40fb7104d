package repository

import (
	"context"
	"errors"
	"sort"

	"gopherai-docqa/internal/model"
)

var ErrDocumentNotFound = errors.New("document not found")

// DocumentRepository stores Document metadata per owning user. Get returns
// (nil, nil) when the document does not exist.
type DocumentRepository interface {
	Get(ctx context.Context, userID, docID string) (*model.Document, error)
	List(ctx context.Context, userID string) ([]model.Document, error)
	Upsert(ctx context.Context, doc *model.Document) error
	// Update applies fn to the stored document under the repository's lock
	// and persists the result. It returns ErrDocumentNotFound when absent.
	Update(ctx context.Context, userID, docID string, fn func(doc *model.Document) error) (*model.Document, error)
	Delete(ctx context.Context, userID, docID string) error
}

func cloneDocument(doc model.Document) model.Document {
	out := doc
	if doc.Summary != nil {
		s := *doc.Summary
		out.Summary = &s
	}
	if doc.ProcessedAt != nil {
		t := *doc.ProcessedAt
		out.ProcessedAt = &t
	}
	return out
}

func sortNewestFirst(docs []model.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].UploadedAt.After(docs[j].UploadedAt)
	})
}
