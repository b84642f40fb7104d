// Package index builds and serves per-document retrieval indexes. Chunk
// lists are persisted; vectors are computed on first use and cached for the
// life of the process.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"gopherai-docqa/internal/ai"
	"gopherai-docqa/internal/model"
	"gopherai-docqa/internal/storage"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 150
	MinChunkLength      = 20
)

var (
	ErrEmptyContent     = errors.New("content is empty")
	ErrNoChunksProduced = errors.New("no chunks produced")
)

type Config struct {
	ChunkSize    int
	ChunkOverlap int
	// EmbedTimeout bounds each embedding call.
	EmbedTimeout time.Duration
	// EmbedConcurrency bounds parallel embedding calls per index load.
	EmbedConcurrency int
	// EmbedBatchSize is the number of chunks per request when the embedder
	// supports batches.
	EmbedBatchSize int
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:        DefaultChunkSize,
		ChunkOverlap:     DefaultChunkOverlap,
		EmbedTimeout:     20 * time.Second,
		EmbedConcurrency: 4,
		EmbedBatchSize:   10,
	}
}

type Indexer struct {
	store    ChunkStore
	embedder ai.Embedder
	splitter *Splitter
	cfg      Config
	logger   *slog.Logger

	mu         sync.RWMutex
	cache      map[string]*Index
	generation map[string]uint64
	group      singleflight.Group
}

func NewIndexer(store ChunkStore, embedder ai.Embedder, cfg Config, logger *slog.Logger) *Indexer {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = def.ChunkOverlap
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = def.EmbedTimeout
	}
	if cfg.EmbedConcurrency <= 0 {
		cfg.EmbedConcurrency = def.EmbedConcurrency
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = def.EmbedBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		store:      store,
		embedder:   embedder,
		splitter:   NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:        cfg,
		logger:     logger,
		cache:      make(map[string]*Index),
		generation: make(map[string]uint64),
	}
}

// Chunk splits text and drops fragments shorter than MinChunkLength.
func (x *Indexer) Chunk(text string) ([]model.Chunk, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyContent
	}
	var chunks []model.Chunk
	for _, piece := range x.splitter.Split(text) {
		if utf8.RuneCountInString(strings.TrimSpace(piece)) < MinChunkLength {
			continue
		}
		chunks = append(chunks, model.Chunk{Index: len(chunks), Content: piece})
	}
	if len(chunks) == 0 {
		return nil, ErrNoChunksProduced
	}
	return chunks, nil
}

// Build splits text, persists the chunk list, and drops any cached vectors
// for the document. Rebuilding overwrites the previous chunk list.
func (x *Indexer) Build(ctx context.Context, userID, docID, text string) (*Index, error) {
	chunks, err := x.Chunk(text)
	if err != nil {
		return nil, err
	}
	if err := x.store.Save(ctx, userID, docID, chunks); err != nil {
		return nil, fmt.Errorf("persist chunks failed: %w", err)
	}
	x.invalidate(userID, docID)
	x.logger.Debug("index built", "user_id", userID, "document_id", docID, "chunks", len(chunks))
	return &Index{UserID: userID, DocumentID: docID, Chunks: chunks}, nil
}

// Load returns the document's index with vectors. ok is false when no chunk
// list was persisted; that is a signal to degrade, not an error.
func (x *Indexer) Load(ctx context.Context, userID, docID string) (ix *Index, ok bool, err error) {
	key := indexKey(userID, docID)
	if cached := x.cached(key); cached != nil {
		return cached, true, nil
	}

	v, err, _ := x.group.Do(key, func() (interface{}, error) {
		if cached := x.cached(key); cached != nil {
			return cached, nil
		}
		gen := x.currentGeneration(key)

		chunks, err := x.store.Load(ctx, userID, docID)
		if errors.Is(err, storage.ErrNotFound) {
			return (*Index)(nil), nil
		}
		if err != nil {
			return nil, fmt.Errorf("load chunks failed: %w", err)
		}

		vectors, err := x.embedAll(context.WithoutCancel(ctx), chunks)
		if err != nil {
			return nil, err
		}
		built := &Index{UserID: userID, DocumentID: docID, Chunks: chunks, vectors: vectors}

		x.mu.Lock()
		if x.generation[key] == gen {
			x.cache[key] = built
		}
		x.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, false, err
	}
	loaded := v.(*Index)
	if loaded == nil {
		return nil, false, nil
	}
	return loaded, true, nil
}

// Delete removes the persisted chunk list and cached vectors.
func (x *Indexer) Delete(ctx context.Context, userID, docID string) error {
	x.invalidate(userID, docID)
	if err := x.store.Delete(ctx, userID, docID); err != nil {
		return fmt.Errorf("delete chunks failed: %w", err)
	}
	return nil
}

// embedAll embeds chunks in groups of EmbedBatchSize when the embedder
// supports batches and one by one otherwise.
func (x *Indexer) embedAll(ctx context.Context, chunks []model.Chunk) ([][]float32, error) {
	batcher, ok := x.embedder.(ai.BatchEmbedder)
	size := x.cfg.EmbedBatchSize
	if !ok || size < 2 {
		size = 1
	}

	vectors := make([][]float32, len(chunks))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(x.cfg.EmbedConcurrency)
	for start := 0; start < len(chunks); start += size {
		end := min(start+size, len(chunks))
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gCtx, x.cfg.EmbedTimeout)
			defer cancel()
			if size == 1 {
				vec, err := x.embedder.Embed(callCtx, chunks[start].Content)
				if err != nil {
					return fmt.Errorf("embed chunk %d failed: %w", start, err)
				}
				vectors[start] = vec
				return nil
			}

			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Content)
			}
			batch, err := batcher.EmbedBatch(callCtx, texts)
			if err != nil {
				return fmt.Errorf("embed chunks %d-%d failed: %w", start, end-1, err)
			}
			if len(batch) != len(texts) {
				return fmt.Errorf("embed chunks %d-%d failed: got %d vectors", start, end-1, len(batch))
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (x *Indexer) cached(key string) *Index {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.cache[key]
}

func (x *Indexer) currentGeneration(key string) uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.generation[key]
}

func (x *Indexer) invalidate(userID, docID string) {
	key := indexKey(userID, docID)
	x.mu.Lock()
	delete(x.cache, key)
	x.generation[key]++
	x.mu.Unlock()
	x.group.Forget(key)
}

func indexKey(userID, docID string) string {
	return userID + "/" + docID
}
