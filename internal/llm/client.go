// Package llm is the chat-completion and embedding client used by workflow
// induction, retrieval, and evaluation.
//
// A Client is constructed once per process (NewTier), passed by reference to
// every component that issues calls, and closed at exit.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haricheung/agent-workflow-memory/internal/types"
)

// embedBatch caps the number of texts sent in one embeddings request.
const embedBatch = 256

// Client is an OpenAI-compatible chat and embedding client.
type Client struct {
	api            *openai.Client
	baseURL        string
	apiKey         string
	model          string
	embeddingModel string
	label          string // tier name used in log lines (e.g. "INDUCE", "EVAL")
}

// Generator produces one chat completion.
type Generator interface {
	Generate(ctx context.Context, messages []types.Message, opts Options) (string, Usage, error)
}

// Options tunes one Generate call. An empty Model uses the client's model.
type Options struct {
	Model       string
	Temperature float32
	Stop        []string
	MaxTokens   int
}

// Usage reports token consumption for one LLM call.
type Usage struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	TotalTokens      int   `json:"total_tokens"`
	ElapsedMs        int64 `json:"elapsed_ms"`
}

// normalizeBaseURL strips trailing slashes and the "/chat/completions" suffix
// from a raw OPENAI_BASE_URL value so the path is never doubled when the
// client appends "/chat/completions" itself.
//
// Expectations:
//   - Strips a trailing "/chat/completions" suffix
//   - Strips a trailing slash without "/chat/completions"
//   - Strips trailing slash AND "/chat/completions" when both are present
//   - Returns the URL unchanged when neither suffix is present
//   - Returns "" for empty input
func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, "/chat/completions")
}

// New creates a Client from the shared environment variables:
//
//	OPENAI_API_KEY, OPENAI_BASE_URL, OPENAI_MODEL, OPENAI_EMBEDDING_MODEL
func New() *Client {
	return NewTier("")
}

// NewTier creates a Client for a named tier (e.g. "INDUCE", "EVAL").
// For each config key it first tries {prefix}_{KEY}; if unset it falls back
// to the shared OPENAI_{KEY}. An empty prefix reads only the shared vars,
// making it equivalent to New().
//
// Example: prefix "EVAL" resolves credentials as:
//
//	EVAL_API_KEY         → OPENAI_API_KEY
//	EVAL_BASE_URL        → OPENAI_BASE_URL
//	EVAL_MODEL           → OPENAI_MODEL
//	EVAL_EMBEDDING_MODEL → OPENAI_EMBEDDING_MODEL (default text-embedding-ada-002)
//
// Expectations:
//   - Uses {prefix}_API_KEY / _BASE_URL / _MODEL when set and non-empty
//   - Falls back to OPENAI_* vars for any unset tier-specific var
//   - Empty prefix reads only OPENAI_* (identical to New())
//   - An unset base URL keeps the library's default endpoint
func NewTier(prefix string) *Client {
	get := func(suffix, fallback string) string {
		if prefix != "" {
			if v := os.Getenv(prefix + "_" + suffix); v != "" {
				return v
			}
		}
		return os.Getenv(fallback)
	}
	label := prefix
	if label == "" {
		label = "LLM"
	}
	c := &Client{
		baseURL:        normalizeBaseURL(get("BASE_URL", "OPENAI_BASE_URL")),
		apiKey:         get("API_KEY", "OPENAI_API_KEY"),
		model:          get("MODEL", "OPENAI_MODEL"),
		embeddingModel: get("EMBEDDING_MODEL", "OPENAI_EMBEDDING_MODEL"),
		label:          label,
	}
	if c.embeddingModel == "" {
		c.embeddingModel = string(openai.AdaEmbeddingV2)
	}
	cfg := openai.DefaultConfig(c.apiKey)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	} else {
		c.baseURL = cfg.BaseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	c.api = openai.NewClientWithConfig(cfg)
	return c
}

// Validate reports missing configuration.
//
// Expectations:
//   - Returns nil when base URL, API key, and model are all set
//   - Lists every missing field, comma-separated
func (c *Client) Validate() error {
	var missing []string
	if c.baseURL == "" {
		missing = append(missing, "base URL")
	}
	if c.apiKey == "" {
		missing = append(missing, "API key")
	}
	if c.model == "" {
		missing = append(missing, "model")
	}
	if len(missing) > 0 {
		return fmt.Errorf("llm: %s tier missing %s", c.label, strings.Join(missing, ", "))
	}
	return nil
}

// Model returns the default chat model of the client.
func (c *Client) Model() string { return c.model }

// EmbeddingModel returns the embedding model of the client.
func (c *Client) EmbeddingModel() string { return c.embeddingModel }

// Close is a no-op kept so callers tear the client down explicitly at exit.
func (c *Client) Close() error { return nil }

// Generate sends messages and returns the assistant's text and token usage.
func (c *Client) Generate(ctx context.Context, messages []types.Message, opts Options) (string, Usage, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toChatMessages(messages),
		Temperature: temperature(opts.Temperature),
		Stop:        opts.Stop,
		MaxTokens:   opts.MaxTokens,
	}
	slog.Debug("["+c.label+"] chat request", "model", model, "messages", len(messages), "temperature", opts.Temperature)

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		return "", Usage{ElapsedMs: elapsed}, fmt.Errorf("llm: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", Usage{ElapsedMs: elapsed}, fmt.Errorf("llm: no choices in response")
	}
	usage := Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		ElapsedMs:        elapsed,
	}
	content := resp.Choices[0].Message.Content
	slog.Debug("["+c.label+"] chat response", "prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens, "elapsed_ms", elapsed)
	return content, usage, nil
}

// Embed returns one embedding per text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatch {
		end := min(start+embedBatch, len(texts))
		resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input: texts[start:end],
			Model: openai.EmbeddingModel(c.embeddingModel),
		})
		if err != nil {
			return nil, fmt.Errorf("llm: embeddings: %w", err)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("llm: embeddings returned %d vectors for %d texts", len(resp.Data), end-start)
		}
		data := resp.Data
		sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
		for _, d := range data {
			out = append(out, d.Embedding)
		}
	}
	slog.Debug("["+c.label+"] embedded", "texts", len(texts), "model", c.embeddingModel)
	return out, nil
}

// IsBadRequest reports whether err is an HTTP 400 from the API, such as a
// rejected over-long prompt.
//
// Expectations:
//   - True for an API error with status 400, wrapped or not
//   - False for other statuses and non-API errors
func IsBadRequest(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusBadRequest
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusBadRequest
	}
	return false
}

func toChatMessages(msgs []types.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(msgs))
	for i, m := range msgs {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// temperature maps 0 to the smallest positive float32: the request field is
// omitted when zero, which would select the server default instead.
func temperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}
