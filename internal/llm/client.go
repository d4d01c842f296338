package llm

import (
	"context"
	"fmt"
	"strings"
)

// Message is one chat message sent to the completion service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the normalized request for a single completion call.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Client produces one reply string per completion request.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Config controls client construction.
type Config struct {
	Mode    string
	APIKey  string
	BaseURL string
}

// NewClient builds a completion client. In auto mode the Groq-compatible HTTP
// client is used when an API key is configured, otherwise the mock client.
func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.APIKey) != "" {
			return NewHTTPClient(cfg.BaseURL, cfg.APIKey), nil
		}
		return NewMockClient(), nil
	case "groq":
		if strings.TrimSpace(cfg.APIKey) == "" {
			return nil, fmt.Errorf("groq API key is required for groq mode")
		}
		return NewHTTPClient(cfg.BaseURL, cfg.APIKey), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported llm mode %q", cfg.Mode)
	}
}
