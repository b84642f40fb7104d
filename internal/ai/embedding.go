package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EmbeddingConfig holds API settings for text-embedding (OpenAI-compatible).
type EmbeddingConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Embed returns the embedding vector for the given text.
func (c *OpenAICompatibleClient) Embed(ctx context.Context, cfg EmbeddingConfig, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, newError(KindInvalid, "embed", errors.New("embedding input is empty"))
	}

	raw, err := c.post(ctx, "embed", cfg.BaseURL, cfg.APIKey, "/embeddings", map[string]interface{}{
		"model": cfg.Model,
		"input": text,
	})
	if err != nil {
		return nil, err
	}

	vectors, err := parseEmbeddings(raw)
	if err != nil {
		return nil, newError(KindInvalid, "embed", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, newError(KindInvalid, "embed", errors.New("empty embedding in response"))
	}
	return vectors[0], nil
}

// EmbedBatch returns embeddings for multiple texts in one request, in input
// order. Every text must be non-empty.
func (c *OpenAICompatibleClient) EmbedBatch(ctx context.Context, cfg EmbeddingConfig, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = strings.TrimSpace(t)
		if inputs[i] == "" {
			return nil, newError(KindInvalid, "embed", fmt.Errorf("embedding input %d is empty", i))
		}
	}

	raw, err := c.post(ctx, "embed", cfg.BaseURL, cfg.APIKey, "/embeddings", map[string]interface{}{
		"model": cfg.Model,
		"input": inputs,
	})
	if err != nil {
		return nil, err
	}
	vectors, err := parseEmbeddings(raw)
	if err != nil {
		return nil, newError(KindInvalid, "embed", err)
	}
	if len(vectors) != len(inputs) {
		return nil, newError(KindInvalid, "embed", fmt.Errorf("embedding count mismatch: got %d want %d", len(vectors), len(inputs)))
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, newError(KindInvalid, "embed", fmt.Errorf("empty embedding for input %d", i))
		}
	}
	return vectors, nil
}

// parseEmbeddings places each vector by its "index" field. Responses that
// omit or repeat indexes keep their array order.
func parseEmbeddings(raw []byte) ([][]float32, error) {
	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding json failed: %w", err)
	}
	result := make([][]float32, len(parsed.Data))
	byIndex := true
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(result) || result[d.Index] != nil {
			byIndex = false
			break
		}
		result[d.Index] = d.Embedding
	}
	if !byIndex {
		for i := range parsed.Data {
			result[i] = parsed.Data[i].Embedding
		}
	}
	return result, nil
}
