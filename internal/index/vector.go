package index

import (
	"math"
	"sort"

	"gopherai-docqa/internal/model"
)

type ScoredChunk struct {
	Chunk model.Chunk
	Score float32
}

// Index is the in-memory retrieval structure of one document.
type Index struct {
	UserID     string
	DocumentID string
	Chunks     []model.Chunk
	vectors    [][]float32
}

// Search returns up to k chunks ordered by descending cosine similarity.
func (ix *Index) Search(query []float32, k int) []ScoredChunk {
	if ix == nil || len(ix.vectors) == 0 || k <= 0 {
		return nil
	}
	scored := make([]ScoredChunk, 0, len(ix.vectors))
	for i, vec := range ix.vectors {
		scored = append(scored, ScoredChunk{Chunk: ix.Chunks[i], Score: cosineSimilarity(query, vec)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if k > len(scored) {
		k = len(scored)
	}
	return scored[:k]
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
