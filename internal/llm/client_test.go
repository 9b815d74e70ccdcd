package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/haricheung/agent-workflow-memory/internal/types"
)

// --- normalizeBaseURL ---

func TestNormalizeBaseURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions", "https://dashscope.aliyuncs.com/compatible-mode/v1"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1"},
		{"https://api.example.com/v1/chat/completions/", "https://api.example.com/v1"},
		{"https://api.deepseek.com", "https://api.deepseek.com"},
		{"", ""},
	}
	for _, c := range cases {
		if got := normalizeBaseURL(c.in); got != c.want {
			t.Errorf("normalizeBaseURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// --- NewTier ---

func TestNewTier_UsesTierSpecificVars(t *testing.T) {
	// Uses {prefix}_API_KEY / _BASE_URL / _MODEL when set and non-empty
	t.Setenv("EVAL_API_KEY", "sk-eval-key")
	t.Setenv("EVAL_BASE_URL", "https://api.deepseek.com")
	t.Setenv("EVAL_MODEL", "deepseek-chat")
	t.Setenv("EVAL_EMBEDDING_MODEL", "text-embedding-3-small")
	t.Setenv("OPENAI_API_KEY", "sk-shared-key")
	t.Setenv("OPENAI_BASE_URL", "https://api.shared.com")
	t.Setenv("OPENAI_MODEL", "shared-model")
	c := NewTier("EVAL")
	if c.apiKey != "sk-eval-key" || c.baseURL != "https://api.deepseek.com" || c.model != "deepseek-chat" {
		t.Errorf("got key=%q url=%q model=%q", c.apiKey, c.baseURL, c.model)
	}
	if c.EmbeddingModel() != "text-embedding-3-small" {
		t.Errorf("embedding model = %q", c.EmbeddingModel())
	}
}

func TestNewTier_FallsBackToSharedVars(t *testing.T) {
	// Falls back to OPENAI_* vars for any unset tier-specific var
	os.Unsetenv("INDUCE_API_KEY")
	os.Unsetenv("INDUCE_MODEL")
	os.Unsetenv("INDUCE_EMBEDDING_MODEL")
	os.Unsetenv("OPENAI_EMBEDDING_MODEL")
	t.Setenv("OPENAI_API_KEY", "sk-shared-key")
	t.Setenv("OPENAI_MODEL", "shared-model")
	c := NewTier("INDUCE")
	if c.apiKey != "sk-shared-key" || c.Model() != "shared-model" {
		t.Errorf("got key=%q model=%q", c.apiKey, c.model)
	}
	if c.EmbeddingModel() != "text-embedding-ada-002" {
		t.Errorf("embedding model = %q, want default", c.EmbeddingModel())
	}
}

func TestNewTier_DefaultBaseURL(t *testing.T) {
	// An unset base URL keeps the library's default endpoint
	os.Unsetenv("OPENAI_BASE_URL")
	os.Unsetenv("X_BASE_URL")
	c := NewTier("X")
	if !strings.HasPrefix(c.baseURL, "https://") {
		t.Errorf("baseURL = %q", c.baseURL)
	}
}

// --- Validate ---

func TestValidate_NilWhenAllFieldsPresent(t *testing.T) {
	// Returns nil when base URL, API key, and model are all set
	c := &Client{baseURL: "https://api.example.com", apiKey: "sk-key", model: "gpt-4o", label: "TEST"}
	if err := c.Validate(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestValidate_ListsMissingFields(t *testing.T) {
	// Lists every missing field, comma-separated
	c := &Client{label: "EVAL"}
	err := c.Validate()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	msg := err.Error()
	for _, want := range []string{"base URL", "API key", "model", ", ", "EVAL"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in %q", want, msg)
		}
	}
}

// --- Generate / Embed against a fake server ---

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	t.Setenv("TEST_BASE_URL", srv.URL+"/v1")
	t.Setenv("TEST_API_KEY", "sk-test")
	t.Setenv("TEST_MODEL", "gpt-4o")
	t.Setenv("TEST_EMBEDDING_MODEL", "embed-test")
	return NewTier("TEST")
}

func TestGenerate_SendsRequestAndReturnsContent(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":"Action: `+"`CLICK [3]`"+`"}}],
			"usage":{"prompt_tokens":11,"completion_tokens":4,"total_tokens":15}}`)
	})
	text, usage, err := c.Generate(context.Background(), []types.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "task"},
	}, Options{Temperature: 0.5, Stop: []string{"Task:", "obs:"}, MaxTokens: 64})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "Action: `CLICK [3]`" || usage.TotalTokens != 15 || usage.PromptTokens != 11 {
		t.Errorf("text=%q usage=%+v", text, usage)
	}
	if got["model"] != "gpt-4o" || got["max_tokens"] != float64(64) {
		t.Errorf("request = %v", got)
	}
	if stop, _ := got["stop"].([]any); len(stop) != 2 {
		t.Errorf("stop = %v", got["stop"])
	}
	if msgs, _ := got["messages"].([]any); len(msgs) != 2 {
		t.Errorf("messages = %v", got["messages"])
	}
}

func TestGenerate_ModelOverride(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	})
	if _, _, err := c.Generate(context.Background(), nil, Options{Model: "gpt-3.5-turbo"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got["model"] != "gpt-3.5-turbo" {
		t.Errorf("model = %v", got["model"])
	}
}

func TestGenerate_BadRequestDetected(t *testing.T) {
	// True for an API error with status 400, wrapped or not
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"maximum context length exceeded","type":"invalid_request_error"}}`)
	})
	_, _, err := c.Generate(context.Background(), []types.Message{{Role: "user", Content: "x"}}, Options{})
	if err == nil || !IsBadRequest(err) {
		t.Errorf("got %v, want bad request", err)
	}
}

func TestGenerate_ServerErrorNotBadRequest(t *testing.T) {
	// False for other statuses and non-API errors
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"auth"}}`)
	})
	_, _, err := c.Generate(context.Background(), nil, Options{})
	if err == nil || IsBadRequest(err) {
		t.Errorf("got %v", err)
	}
	if IsBadRequest(errors.New("plain")) {
		t.Error("plain error classified as bad request")
	}
}

func TestEmbed_OrdersByIndex(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "embed-test" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"object":"list","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}],"model":"embed-test"}`)
	})
	got, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(got) != 2 || got[0][0] != 1 || got[1][1] != 1 {
		t.Errorf("got %v", got)
	}
}

// --- StripThinkBlocks / ExtractAction ---

func TestStripThinkBlocks(t *testing.T) {
	cases := []struct{ in, want string }{
		{"<think>let me reason</think>\nCLICK [3]", "CLICK [3]"},                     // single block
		{"<think>a</think>x<think>b</think>y", "xy"},                                 // multiple blocks
		{"TYPE [2] [hi]<think>orphaned reasoning", "TYPE [2] [hi]"},                  // unclosed block
		{"## search_flights\nSearch flights.", "## search_flights\nSearch flights."}, // no tag
	}
	for _, c := range cases {
		if got := StripThinkBlocks(c.in); got != c.want {
			t.Errorf("StripThinkBlocks(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestExtractAction(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Action: `CLICK [12]` (button)", "CLICK [12]"},
		{"  TYPE [3] [a`b  ", "TYPE [3] [a`b"},
		{"<think>use `x`</think>Action: `SELECT [4] [Blue]`", "SELECT [4] [Blue]"},
	}
	for _, c := range cases {
		if got := ExtractAction(c.in); got != c.want {
			t.Errorf("ExtractAction(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

// --- tokens ---

func TestMaxTokens(t *testing.T) {
	if got := MaxTokens("gpt-4"); got != 8192 {
		t.Errorf("gpt-4 = %d", got)
	}
	if got := MaxTokens("gpt-4o-2024-08-06"); got != 128000 {
		t.Errorf("gpt-4o snapshot = %d", got)
	}
	if got := MaxTokens("my-local-model"); got != DefaultMaxTokens {
		t.Errorf("unknown = %d", got)
	}
}

func TestEstimateTokens(t *testing.T) {
	if got := EstimateTokens(nil); got != 3 {
		t.Errorf("empty = %d, want 3", got)
	}
	short := EstimateTokens([]types.Message{{Role: "user", Content: "hi"}})
	long := EstimateTokens([]types.Message{{Role: "user", Content: strings.Repeat("hi ", 100)}})
	if short < 6 || long <= short {
		t.Errorf("short=%d long=%d", short, long)
	}
}

func TestCheckContext_Overflow(t *testing.T) {
	msgs := []types.Message{{Role: "user", Content: strings.Repeat("word ", 10000)}}
	n, err := CheckContext(Estimator{}, msgs, "gpt-4")
	if !errors.Is(err, ErrContextOverflow) || n <= 8192 {
		t.Errorf("n=%d err=%v", n, err)
	}
	if _, err := CheckContext(Estimator{}, msgs, "gpt-4o"); err != nil {
		t.Errorf("gpt-4o: %v", err)
	}
}
