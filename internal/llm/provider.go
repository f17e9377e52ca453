// Package llm wraps the language-model backends used for incident analysis
// behind a single text-completion contract.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a prompt message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged prompt turn.
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion request.
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	// MaxTokens overrides the provider default when positive.
	MaxTokens int
}

// UserPrompt builds a request with one user message.
func UserPrompt(prompt string, temperature float64) Request {
	return Request{
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		Temperature: temperature,
	}
}

// Completer returns a single text completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	// Name returns the provider name for logging.
	Name() string
	// Model returns the model identifier in use.
	Model() string
}

// ErrEmptyCompletion is returned when a provider answers without any text.
var ErrEmptyCompletion = errors.New("model returned an empty completion")

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderMock      = "mock"
)

// Config selects and configures a provider.
type Config struct {
	Provider string
	Model    string
	// BaseURL overrides the provider endpoint. For "openai" it selects any
	// OpenAI-compatible service (Groq, vLLM, Azure OpenAI).
	BaseURL   string
	APIKey    string
	MaxTokens int
	Timeout   time.Duration
	// ScenarioPath is the YAML script used by the mock provider.
	ScenarioPath string
}

// DefaultConfig targets Groq's OpenAI-compatible endpoint.
func DefaultConfig() Config {
	return Config{
		Provider:  ProviderOpenAI,
		Model:     "llama-3.1-8b-instant",
		BaseURL:   "https://api.groq.com/openai/v1",
		MaxTokens: 2048,
		Timeout:   60 * time.Second,
	}
}

// New constructs the Completer named by cfg.Provider.
func New(ctx context.Context, cfg Config) (Completer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderOpenAI:
		return NewOpenAICompleter(cfg)
	case ProviderAnthropic:
		return NewAnthropicCompleter(cfg)
	case ProviderGemini:
		return NewGeminiCompleter(ctx, cfg)
	case ProviderMock:
		if cfg.ScenarioPath == "" {
			return nil, fmt.Errorf("mock provider requires a scenario path")
		}
		return LoadMockCompleter(cfg.ScenarioPath)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// flatten renders a request as a single prompt for providers without
// native system prompts.
func flatten(req Request) string {
	var b strings.Builder
	if req.System != "" {
		b.WriteString(req.System)
		b.WriteString("\n\n")
	}
	for i, m := range req.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.Content)
	}
	return b.String()
}
