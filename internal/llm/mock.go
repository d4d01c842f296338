package llm

import (
	"context"
	"strings"
)

// MockClient is a local fallback used when no completion provider is configured.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Complete(_ context.Context, req CompletionRequest) (string, error) {
	var lastUser string
	for _, m := range req.Messages {
		if m.Role == "user" {
			lastUser = m.Content
		}
	}
	if strings.TrimSpace(lastUser) == "" {
		return "Haan, boliye. Main sun rahi hoon.", nil
	}
	return "Haan, noted. Site pe kaam schedule ke hisaab se chal raha hai, main update karti rahungi.", nil
}
