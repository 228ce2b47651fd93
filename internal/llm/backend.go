// Package llm is the gateway to remote text-completion backends.
//
// Every backend speaks the OpenAI-compatible chat completions protocol; they
// differ only in endpoint, header composition and model naming, all of which
// is resolved in New. Callers only ever see the Backend interface.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Provider identifies a backend.
type Provider string

const (
	OpenRouter Provider = "openrouter"
	Groq       Provider = "groq"
	Bedrock    Provider = "bedrock"
)

// Providers lists every supported backend.
var Providers = []Provider{OpenRouter, Groq, Bedrock}

// DefaultTimeout bounds a single completion round-trip.
const DefaultTimeout = 2 * time.Minute

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	groqBaseURL       = "https://api.groq.com/openai/v1"
	bedrockURLFormat  = "https://bedrock-runtime.%s.amazonaws.com/openai/v1"
	defaultRegion     = "us-east-1"
)

// Usage holds token counters reported by the backend, when present.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed model answer.
type Response struct {
	Content string
	Usage   *Usage
}

// Backend turns a prompt and optional system prompt into free-form text.
type Backend interface {
	Provider() Provider
	Complete(ctx context.Context, prompt, systemPrompt string) (*Response, error)
}

// Config selects and parameterises a backend.
type Config struct {
	Provider   Provider
	APIKey     string
	Model      string
	BaseURL    string // overrides the provider's default endpoint
	Region     string // bedrock only
	HTTPClient *http.Client
}

// APIError is returned when a backend answers with a non-2xx status.
type APIError struct {
	Provider   Provider
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: API error (%d): %s", e.Provider, e.StatusCode, e.Body)
}

// New builds the backend named by cfg.Provider.
func New(cfg Config) (Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm: %s: api key is empty", cfg.Provider)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("llm: %s: model is empty", cfg.Provider)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}

	c := &chatClient{
		provider: cfg.Provider,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		client:   client,
	}

	switch cfg.Provider {
	case OpenRouter:
		c.baseURL = openRouterBaseURL
		c.headers = map[string]string{
			"HTTP-Referer": "https://github.com/starford/devpulse",
			"X-Title":      "devpulse",
		}
	case Groq:
		c.baseURL = groqBaseURL
		temperature := 0.7
		c.temperature = &temperature
		c.maxTokens = 2000
	case Bedrock:
		region := cfg.Region
		if region == "" {
			region = defaultRegion
		}
		c.baseURL = fmt.Sprintf(bedrockURLFormat, region)
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}

	if cfg.BaseURL != "" {
		c.baseURL = cfg.BaseURL
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	return c, nil
}

// Validate performs a trivial round-trip and reports whether it succeeded.
// The underlying error is discarded.
func Validate(ctx context.Context, b Backend) bool {
	_, err := b.Complete(ctx, "Hello", "You are a helpful assistant.")
	return err == nil
}
