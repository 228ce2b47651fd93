package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type capturedRequest struct {
	path    string
	headers http.Header
	body    map[string]any
}

func testServer(t *testing.T, status int, response string) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		captured.headers = r.Header.Clone()
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &captured.body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

const okResponse = `{
	"choices": [{"message": {"role": "assistant", "content": "hi there"}}],
	"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
}`

func TestComplete_OpenRouter(t *testing.T) {
	srv, got := testServer(t, http.StatusOK, okResponse)
	b, err := New(Config{Provider: OpenRouter, APIKey: "sk-test", Model: "anthropic/claude-3-sonnet", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	resp, err := b.Complete(context.Background(), "describe", "be brief")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hi there" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 7 {
		t.Errorf("usage = %+v", resp.Usage)
	}

	if got.path != "/chat/completions" {
		t.Errorf("path = %q", got.path)
	}
	if got.headers.Get("Authorization") != "Bearer sk-test" {
		t.Errorf("authorization = %q", got.headers.Get("Authorization"))
	}
	if got.headers.Get("X-Title") == "" || got.headers.Get("HTTP-Referer") == "" {
		t.Error("openrouter attribution headers missing")
	}
	if got.body["model"] != "anthropic/claude-3-sonnet" {
		t.Errorf("model = %v", got.body["model"])
	}
	msgs, _ := got.body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", got.body["messages"])
	}
	if first, _ := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message = %v, want system", first)
	}
	if _, ok := got.body["temperature"]; ok {
		t.Error("openrouter request should not set temperature")
	}
}

func TestComplete_GroqSamplingFields(t *testing.T) {
	srv, got := testServer(t, http.StatusOK, okResponse)
	b, err := New(Config{Provider: Groq, APIKey: "gsk", Model: "llama-3.1-70b", BaseURL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := b.Complete(context.Background(), "p", ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.body["temperature"] != 0.7 {
		t.Errorf("temperature = %v", got.body["temperature"])
	}
	if got.body["max_tokens"] != float64(2000) {
		t.Errorf("max_tokens = %v", got.body["max_tokens"])
	}
	msgs, _ := got.body["messages"].([]any)
	if len(msgs) != 1 {
		t.Errorf("empty system prompt should be omitted, got %d messages", len(msgs))
	}
}

func TestComplete_NonOKSurfacesStatusAndBody(t *testing.T) {
	srv, _ := testServer(t, http.StatusUnauthorized, `{"error":"invalid key"}`)
	b, _ := New(Config{Provider: Groq, APIKey: "bad", Model: "m", BaseURL: srv.URL})

	_, err := b.Complete(context.Background(), "p", "s")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Body, "invalid key") {
		t.Errorf("body = %q", apiErr.Body)
	}
}

func TestComplete_MalformedTransportJSON(t *testing.T) {
	srv, _ := testServer(t, http.StatusOK, `not json`)
	b, _ := New(Config{Provider: OpenRouter, APIKey: "k", Model: "m", BaseURL: srv.URL})
	if _, err := b.Complete(context.Background(), "p", "s"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestComplete_NoChoices(t *testing.T) {
	srv, _ := testServer(t, http.StatusOK, `{"choices": []}`)
	b, _ := New(Config{Provider: OpenRouter, APIKey: "k", Model: "m", BaseURL: srv.URL})
	if _, err := b.Complete(context.Background(), "p", "s"); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestValidate(t *testing.T) {
	okSrv, got := testServer(t, http.StatusOK, okResponse)
	good, _ := New(Config{Provider: Groq, APIKey: "k", Model: "m", BaseURL: okSrv.URL})
	if !Validate(context.Background(), good) {
		t.Error("Validate should succeed against a healthy backend")
	}
	msgs, _ := got.body["messages"].([]any)
	if last, _ := msgs[len(msgs)-1].(map[string]any); last["content"] != "Hello" {
		t.Errorf("validation prompt = %v", last)
	}

	badSrv, _ := testServer(t, http.StatusTooManyRequests, "slow down")
	bad, _ := New(Config{Provider: Groq, APIKey: "k", Model: "m", BaseURL: badSrv.URL})
	if Validate(context.Background(), bad) {
		t.Error("Validate should fail on 429")
	}
}

func TestNew_Registry(t *testing.T) {
	if _, err := New(Config{Provider: "ollama", APIKey: "k", Model: "m"}); err == nil {
		t.Error("unknown provider should fail")
	}
	if _, err := New(Config{Provider: Groq, Model: "m"}); err == nil {
		t.Error("empty api key should fail")
	}

	b, err := New(Config{Provider: Bedrock, APIKey: "k", Model: "anthropic.claude-3", Region: "eu-west-1"})
	if err != nil {
		t.Fatalf("New bedrock: %v", err)
	}
	c := b.(*chatClient)
	if c.baseURL != "https://bedrock-runtime.eu-west-1.amazonaws.com/openai/v1" {
		t.Errorf("bedrock base url = %q", c.baseURL)
	}
	for _, p := range Providers {
		b, err := New(Config{Provider: p, APIKey: "k", Model: "m"})
		if err != nil {
			t.Errorf("New(%s): %v", p, err)
			continue
		}
		if b.Provider() != p {
			t.Errorf("Provider() = %s, want %s", b.Provider(), p)
		}
	}
}
