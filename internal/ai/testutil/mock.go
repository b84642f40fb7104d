// Package testutil provides fakes for the ai capability interfaces.
package testutil

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"
	"unicode"
)

// MockGenerator returns Response, or Err when set, and counts calls.
type MockGenerator struct {
	mu        sync.Mutex
	Response  string
	Err       error
	Delay     time.Duration
	calls     int
	lastInput string
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string, _ int, _ float64) (string, error) {
	m.mu.Lock()
	m.calls++
	m.lastInput = prompt
	delay, resp, err := m.Delay, m.Response, m.Err
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return resp, nil
}

func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockGenerator) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastInput
}

// HashEmbedder is a deterministic bag-of-words embedder: each lower-cased
// word is hashed into one of Dim buckets. Texts sharing words score higher.
type HashEmbedder struct {
	Dim   int
	Err   error
	Delay time.Duration

	mu    sync.Mutex
	calls int
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	delay, err := e.Delay, e.Err
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	return e.vector(text), nil
}

func (e *HashEmbedder) vector(text string) []float32 {
	dim := e.Dim
	if dim <= 0 {
		dim = 256
	}
	vec := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(dim)]++
	}
	return vec
}

func (e *HashEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// BatchHashEmbedder is a HashEmbedder that also embeds in batches. Batch
// calls are counted apart from single calls.
type BatchHashEmbedder struct {
	HashEmbedder

	batchMu    sync.Mutex
	batchSizes []int
}

func (e *BatchHashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.batchMu.Lock()
	e.batchSizes = append(e.batchSizes, len(texts))
	e.batchMu.Unlock()

	e.mu.Lock()
	err := e.Err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = e.vector(t)
	}
	return vectors, nil
}

// BatchSizes returns the size of every batch call so far.
func (e *BatchHashEmbedder) BatchSizes() []int {
	e.batchMu.Lock()
	defer e.batchMu.Unlock()
	return append([]int(nil), e.batchSizes...)
}
