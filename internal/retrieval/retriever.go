// Package retrieval selects the passages of a document most relevant to a
// question.
package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"gopherai-docqa/internal/ai"
	"gopherai-docqa/internal/index"
)

const DefaultTopK = 4

// IndexLoader is the read side of the chunk indexer.
type IndexLoader interface {
	Load(ctx context.Context, userID, docID string) (*index.Index, bool, error)
}

type Retriever struct {
	indexes      IndexLoader
	embedder     ai.Embedder
	embedTimeout time.Duration
	logger       *slog.Logger
}

func NewRetriever(indexes IndexLoader, embedder ai.Embedder, embedTimeout time.Duration, logger *slog.Logger) *Retriever {
	if embedTimeout <= 0 {
		embedTimeout = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		indexes:      indexes,
		embedder:     embedder,
		embedTimeout: embedTimeout,
		logger:       logger,
	}
}

// RetrieveTopK returns the k most similar chunks joined by blank lines, most
// relevant first. It returns "" whenever the index cannot be used; callers
// fall back to truncated content.
func (r *Retriever) RetrieveTopK(ctx context.Context, userID, docID, question string, k int) string {
	question = strings.TrimSpace(question)
	if question == "" {
		return ""
	}
	if k < 1 {
		k = 1
	}

	ix, ok, err := r.indexes.Load(ctx, userID, docID)
	if err != nil {
		r.logger.Warn("retrieval index unavailable", "user_id", userID, "document_id", docID, "error", err)
		return ""
	}
	if !ok || ix == nil || ix.UserID != userID || ix.DocumentID != docID {
		return ""
	}

	embedCtx, cancel := context.WithTimeout(ctx, r.embedTimeout)
	defer cancel()
	query, err := r.embedder.Embed(embedCtx, question)
	if err != nil {
		r.logger.Warn("embed question failed", "document_id", docID, "error", err)
		return ""
	}

	results := ix.Search(query, k)
	if len(results) == 0 {
		return ""
	}
	parts := make([]string, 0, len(results))
	for _, res := range results {
		parts = append(parts, res.Chunk.Content)
	}
	return strings.Join(parts, "\n\n")
}
