package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeProvider struct {
	name  string
	model string
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string, opts Options) (*Response, error) {
	return &Response{Content: "ok", Model: f.model, Name: f.name}, nil
}
func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return f.model }

func TestRegistry_SelectOverrideAndDefaults(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeProvider{name: "anthropic", model: "claude"})
	r.Register(&fakeProvider{name: "openai", model: "gpt"})
	r.SetDefault(TaskGeneration, "openai")

	p, err := r.Select(TaskGeneration, "")
	if err != nil {
		t.Fatalf("Select error: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("task default = %q, want openai", p.Name())
	}

	p, err = r.Select(TaskGeneration, "anthropic")
	if err != nil {
		t.Fatalf("Select with override error: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("override = %q, want anthropic", p.Name())
	}

	// Unmapped task falls back to the first registered provider.
	p, err = r.Select(TaskVariation, "")
	if err != nil {
		t.Fatalf("Select fallback error: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("fallback = %q, want anthropic", p.Name())
	}
}

func TestRegistry_UnknownProvider(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nope"); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := NewRegistry().Select(TaskGeneration, ""); err == nil {
		t.Error("expected error from empty registry")
	}
}

func TestAnthropicClient_Generate(t *testing.T) {
	var gotAuth, gotVersion string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		w.Write([]byte(`{"content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}]}`))
	}))
	defer server.Close()

	c := NewAnthropicClientWithConfig(AnthropicConfig{
		APIKey:  "key",
		BaseURL: server.URL,
		Model:   "claude-test",
		Timeout: 5 * time.Second,
	})

	resp, err := c.Generate(context.Background(), "prompt", Options{SystemPrompt: "sys", MaxTokens: 100})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if resp.Content != "hello world" {
		t.Errorf("Content = %q, want %q", resp.Content, "hello world")
	}
	if resp.Name != "anthropic" || resp.Model != "claude-test" {
		t.Errorf("unexpected attribution %q/%q", resp.Name, resp.Model)
	}
	if gotAuth != "key" || gotVersion == "" {
		t.Errorf("missing request headers: key=%q version=%q", gotAuth, gotVersion)
	}
}

func TestAnthropicClient_RetriesTransientErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"content":[{"type":"text","text":"recovered"}]}`))
	}))
	defer server.Close()

	c := NewAnthropicClientWithConfig(AnthropicConfig{
		APIKey:  "key",
		BaseURL: server.URL,
		Model:   "claude-test",
		Timeout: 10 * time.Second,
	})

	resp, err := c.Generate(context.Background(), "prompt", Options{})
	if err != nil {
		t.Fatalf("Generate error after retry: %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("Content = %q, want %q", resp.Content, "recovered")
	}
	if calls != 2 {
		t.Errorf("server saw %d calls, want 2", calls)
	}
}

func TestAnthropicClient_NoAPIKey(t *testing.T) {
	c := NewAnthropicClient("")
	if _, err := c.Generate(context.Background(), "prompt", Options{}); err == nil {
		t.Error("expected error without API key")
	}
}

func TestOpenAIClient_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"widget json"}}]}`))
	}))
	defer server.Close()

	c := NewOpenAIClientWithConfig(OpenAIConfig{
		APIKey:  "key",
		BaseURL: server.URL,
		Model:   "gpt-test",
		Timeout: 5 * time.Second,
	})

	resp, err := c.Generate(context.Background(), "prompt", Options{Temperature: 0.7})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if resp.Content != "widget json" {
		t.Errorf("Content = %q, want %q", resp.Content, "widget json")
	}
}

func TestBuildClient_UnknownVendor(t *testing.T) {
	if _, err := buildClient(context.Background(), "carrier-pigeon", "key", "", "", time.Second); err == nil {
		t.Error("expected error for unknown vendor")
	}
}
