package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxdoc/internal/metrics"
)

// OllamaClient calls an Ollama-compatible /api/generate endpoint.
type OllamaClient struct {
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
	log     zerolog.Logger
}

// OllamaOptions configures the Ollama client.
type OllamaOptions struct {
	BaseURL string
	Model   string
	Timeout time.Duration
	Log     zerolog.Logger
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options,omitempty"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaClient creates an Ollama client.
func NewOllamaClient(opts OllamaOptions) *OllamaClient {
	if opts.Timeout == 0 {
		opts.Timeout = 20 * time.Second
	}
	return &OllamaClient{
		baseURL: opts.BaseURL,
		model:   opts.Model,
		timeout: opts.Timeout,
		client:  &http.Client{Timeout: opts.Timeout},
		log:     opts.Log,
	}
}

// Model returns the configured model identifier.
func (c *OllamaClient) Model() string { return c.model }

// Generate sends a non-streaming completion request. Transport failures are
// reported as ErrServiceUnavailable so stages can branch to their fallbacks
// with errors.Is.
func (c *OllamaClient) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	start := time.Now()
	text, err := c.generate(ctx, prompt, opts)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.LLMRequestsTotal.WithLabelValues(outcome).Inc()
	c.log.Debug().
		Err(err).
		Int("prompt_chars", len(prompt)).
		Dur("duration_ms", time.Since(start)).
		Msg("llm generate")
	return text, err
}

func (c *OllamaClient) generate(ctx context.Context, prompt string, opts Options) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature: opts.Temperature,
			NumPredict:  opts.MaxTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrServiceUnavailable, resp.StatusCode, string(respBody))
	}

	var result generateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return result.Response, nil
}
