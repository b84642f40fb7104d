package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// ClientOptions configures request pacing for the shared HTTP client.
type ClientOptions struct {
	RequestsPerSecond float64
	Burst             int
	HTTPTimeout       time.Duration
}

type OpenAICompatibleClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewOpenAICompatibleClient(opts ClientOptions) *OpenAICompatibleClient {
	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return &OpenAICompatibleClient{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

func (c *OpenAICompatibleClient) Complete(ctx context.Context, cfg ChatConfig, messages []ChatMessage, maxTokens int, temperature float64) (string, error) {
	reqBody := map[string]interface{}{
		"model":       cfg.Model,
		"messages":    messages,
		"stream":      false,
		"temperature": temperature,
	}
	if maxTokens > 0 {
		reqBody["max_tokens"] = maxTokens
	}

	raw, err := c.post(ctx, "generate", cfg.BaseURL, cfg.APIKey, "/chat/completions", reqBody)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", newError(KindInvalid, "generate", fmt.Errorf("parse llm json failed: %w", err))
	}
	if len(parsed.Choices) == 0 {
		return "", newError(KindInvalid, "generate", errors.New("empty llm choices"))
	}
	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return "", newError(KindInvalid, "generate", errors.New("empty llm content"))
	}
	return content, nil
}

// post sends a JSON request and returns the raw body of a 2xx response.
// Every failure is returned as a *CapabilityError.
func (c *OpenAICompatibleClient) post(ctx context.Context, op, baseURL, apiKey, path string, body interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, newError(KindTransient, op, fmt.Errorf("wait for request slot failed: %w", err))
	}

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, newError(KindInvalid, op, fmt.Errorf("marshal request failed: %w", err))
	}

	url := strings.TrimRight(baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, newError(KindInvalid, op, fmt.Errorf("build request failed: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newError(KindTransient, op, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(KindTransient, op, fmt.Errorf("read response failed: %w", err))
	}
	if resp.StatusCode >= 300 {
		return nil, newError(classifyStatus(resp.StatusCode, string(raw)), op,
			fmt.Errorf("response status %d: %s", resp.StatusCode, truncate(string(raw), 512)))
	}
	return raw, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Capability binds a client to one chat and one embedding configuration so
// it satisfies Generator and Embedder.
type Capability struct {
	client *OpenAICompatibleClient
	chat   ChatConfig
	emb    EmbeddingConfig
	system string
}

func NewCapability(client *OpenAICompatibleClient, chat ChatConfig, emb EmbeddingConfig) *Capability {
	return &Capability{
		client: client,
		chat:   chat,
		emb:    emb,
		system: "You are a careful assistant that explains documents in plain language.",
	}
}

func (c *Capability) Generate(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	if c.chat.BaseURL == "" || c.chat.Model == "" {
		return "", newError(KindInvalid, "generate", errors.New("llm is not configured"))
	}
	messages := []ChatMessage{
		{Role: "system", Content: c.system},
		{Role: "user", Content: prompt},
	}
	return c.client.Complete(ctx, c.chat, messages, maxTokens, temperature)
}

func (c *Capability) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.emb.BaseURL == "" || c.emb.Model == "" {
		return nil, newError(KindInvalid, "embed", errors.New("embedding model is not configured"))
	}
	return c.client.Embed(ctx, c.emb, text)
}

func (c *Capability) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.emb.BaseURL == "" || c.emb.Model == "" {
		return nil, newError(KindInvalid, "embed", errors.New("embedding model is not configured"))
	}
	return c.client.EmbedBatch(ctx, c.emb, texts)
}
