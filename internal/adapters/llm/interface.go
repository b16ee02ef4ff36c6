// Package llm is the chat-completion boundary. Three providers are
// recognised (anthropic-style, openai-style, local ollama-style); all
// surface a uniform tool-call response.
package llm

import (
	"context"
	"encoding/json"

	"github.com/chainclaw/chainclaw/internal/adapters/config"
	"github.com/chainclaw/chainclaw/pkg/errs"
)

// Message is one chat turn
type Message struct {
	Role    string `json:"role"` // system, user or assistant
	Content string `json:"content"`
}

// Tool describes a callable function exposed to the model
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"` // JSON schema
}

// ToolCall is one function invocation requested by the model
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Usage reports token consumption when the provider surfaces it
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the uniform chat result
type Response struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     *Usage     `json:"usage,omitempty"`
}

// Provider is the chat boundary
type Provider interface {
	Name() string
	Chat(ctx context.Context, messages []Message, tools []Tool) (*Response, error)
}

// New constructs the configured provider.
func New(cfg *config.LLMConfig) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey, cfg.Model), nil
	case "openai":
		return NewOpenAIProvider(cfg.APIKey, cfg.Model), nil
	case "ollama":
		return NewOllamaProvider(cfg.OllamaURL, cfg.Model), nil
	default:
		return nil, errs.Config("LLM_PROVIDER", "unknown provider "+cfg.Provider)
	}
}
