package llm

import (
	"context"
	"sync"
)

// MockProvider is a scriptable Provider for tests.
type MockProvider struct {
	mu        sync.Mutex
	Responses []*Response
	Err       error
	calls     [][]Message
}

// Name returns the provider tag.
func (m *MockProvider) Name() string { return "mock" }

// Chat pops the next scripted response, repeating the last one.
func (m *MockProvider) Chat(_ context.Context, messages []Message, _ []Tool) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, messages)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Responses) == 0 {
		return &Response{Content: "ok"}, nil
	}
	resp := m.Responses[0]
	if len(m.Responses) > 1 {
		m.Responses = m.Responses[1:]
	}
	return resp, nil
}

// Calls returns the recorded message batches.
func (m *MockProvider) Calls() [][]Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
