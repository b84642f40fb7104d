// Package answer produces answers grounded in retrieved document context.
package answer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"gopherai-docqa/internal/ai"
	"gopherai-docqa/internal/metrics"
	"gopherai-docqa/internal/pkg/textutil"
)

// HighDemandNotice prefixes extractive answers served because the backend
// reported a quota or rate limit condition.
const HighDemandNotice = "Sorry, the assistant is experiencing high demand right now, so this answer was taken directly from the document. "

var errEmptyResponse = errors.New("empty answer response")

type Config struct {
	MaxContextChars int
	Timeout         time.Duration
	MaxTokens       int
	Temperature     float64
}

func DefaultConfig() Config {
	return Config{
		MaxContextChars: 12000,
		Timeout:         45 * time.Second,
		MaxTokens:       512,
		Temperature:     0.2,
	}
}

type Answerer struct {
	generator ai.Generator
	cfg       Config
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds an Answerer; a nil generator always answers extractively.
func New(generator ai.Generator, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Answerer {
	def := DefaultConfig()
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = def.MaxContextChars
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
	return &Answerer{generator: generator, cfg: cfg, metrics: m, logger: logger}
}

// Answer returns an answer to question using only docContext. Generation
// failures are absorbed by the extractive path.
func (a *Answerer) Answer(ctx context.Context, question, docContext string) string {
	docContext = textutil.TruncateRunes(docContext, a.cfg.MaxContextChars)
	if a.generator == nil {
		a.metrics.Fallback("answer", "offline")
		return Extractive(question, docContext)
	}

	genCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	out, err := a.generator.Generate(genCtx, buildPrompt(question, docContext), a.cfg.MaxTokens, a.cfg.Temperature)
	out = strings.TrimSpace(out)
	if err == nil && out == "" {
		err = errEmptyResponse
	}
	a.metrics.CapabilityCall("generate", err)
	if err == nil {
		return out
	}

	reason := string(ai.KindOf(err))
	a.logger.Warn("generative answer failed, serving extractive answer", "reason", reason, "error", err)
	a.metrics.Fallback("answer", reason)
	fallback := Extractive(question, docContext)
	if ai.IsQuota(err) {
		return HighDemandNotice + fallback
	}
	return fallback
}

func buildPrompt(question, docContext string) string {
	var b strings.Builder
	b.WriteString(`Answer the question using only the document context below.
When the context contains the answer, quote the supporting text directly.
If the answer is not in the context, reply exactly: "`)
	b.WriteString(NotAvailable)
	b.WriteString(`"

Context:
"""
`)
	b.WriteString(docContext)
	b.WriteString("\n\"\"\"\n\nQuestion: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\nAnswer:")
	return b.String()
}
