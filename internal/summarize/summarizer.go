// Package summarize produces whole-document summaries: generated when the
// text generation backend cooperates, extractive otherwise.
package summarize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gopherai-docqa/internal/ai"
	"gopherai-docqa/internal/metrics"
	"gopherai-docqa/internal/pkg/textutil"
)

var errEmptyResponse = errors.New("empty summary response")

// Cache stores generated summaries per document for a bounded time.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Limiter gates generative calls per caller identity.
type Limiter interface {
	Allow(ctx context.Context, caller string) (bool, error)
}

type Config struct {
	MaxPromptChars int
	Timeout        time.Duration
	MaxTokens      int
	Temperature    float64
}

func DefaultConfig() Config {
	return Config{
		MaxPromptChars: 15000,
		Timeout:        45 * time.Second,
		MaxTokens:      1024,
		Temperature:    0.3,
	}
}

type Summarizer struct {
	generator ai.Generator
	cache     Cache
	limiter   Limiter
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds a Summarizer. generator, cache and limiter may each be nil: a
// nil generator always yields extractive summaries.
func New(generator ai.Generator, cache Cache, limiter Limiter, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Summarizer {
	def := DefaultConfig()
	if cfg.MaxPromptChars <= 0 {
		cfg.MaxPromptChars = def.MaxPromptChars
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Temperature < 0 {
		cfg.Temperature = def.Temperature
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		generator: generator,
		cache:     cache,
		limiter:   limiter,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
	}
}

// Summarize returns a summary of text. Cached summaries are returned as is;
// rate-limited callers and every generation failure get the extractive
// summary. It never returns an empty string.
func (s *Summarizer) Summarize(ctx context.Context, text, docID, caller, fileName string) string {
	if strings.TrimSpace(text) == "" {
		return emptySummary
	}

	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, docID)
		if err != nil {
			s.logger.Warn("summary cache read failed", "document_id", docID, "error", err)
		} else if ok {
			return cached
		}
	}

	if s.generator == nil {
		s.metrics.Fallback("summary", "offline")
		return Extractive(text)
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, caller)
		if err != nil {
			s.logger.Warn("rate limiter unavailable, allowing request", "caller", caller, "error", err)
		} else if !allowed {
			s.logger.Info("summary rate limited, serving extractive summary", "caller", caller, "document_id", docID)
			s.metrics.Fallback("summary", "rate_limited")
			return Extractive(text)
		}
	}

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	prompt := buildPrompt(textutil.TruncateRunes(text, s.cfg.MaxPromptChars), fileName)
	out, err := s.generator.Generate(genCtx, prompt, s.cfg.MaxTokens, s.cfg.Temperature)
	out = strings.TrimSpace(out)
	if err == nil && out == "" {
		err = errEmptyResponse
	}
	s.metrics.CapabilityCall("generate", err)
	if err != nil {
		reason := string(ai.KindOf(err))
		s.logger.Warn("generative summary failed, serving extractive summary",
			"document_id", docID, "reason", reason, "error", err)
		s.metrics.Fallback("summary", reason)
		return Extractive(text)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, docID, out); err != nil {
			s.logger.Warn("summary cache write failed", "document_id", docID, "error", err)
		}
	}
	return out
}

// Invalidate drops the cached summary of a document.
func (s *Summarizer) Invalidate(ctx context.Context, docID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, docID); err != nil {
		s.logger.Warn("summary cache delete failed", "document_id", docID, "error", err)
	}
}

func buildPrompt(text, fileName string) string {
	var b strings.Builder
	b.WriteString("Summarize the following document for a reader without legal or technical training.\n")
	if name := strings.TrimSpace(fileName); name != "" {
		fmt.Fprintf(&b, "Document name: %s\n", name)
	}
	b.WriteString(`Use plain language and these sections, skipping any that the document does not cover:
1. Purpose: what the document is for.
2. Parties: who is involved and in what role.
3. Key terms: the most important conditions.
4. Dates: deadlines, effective dates, durations.
5. Amounts: prices, fees, penalties, with currency.
6. Obligations: what each party must do.
Do not invent details that are not in the document.

Document:
"""
`)
	b.WriteString(text)
	b.WriteString("\n\"\"\"\n")
	return b.String()
}
