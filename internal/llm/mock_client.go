package llm

import (
	"context"
	"sync"
)

// MockClient is a scriptable Client implementation for tests. Responses are
// consumed in order; when the script runs out, the last entry repeats. All
// requests are recorded for inspection.
type MockClient struct {
	mu        sync.Mutex
	Responses []*CompletionResponse
	Errs      []error
	Requests  []*CompletionRequest
	Model     string

	// OnComplete, when set, overrides the scripted responses entirely.
	OnComplete func(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	calls int
}

func (m *MockClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	idx := m.calls
	m.calls++
	m.mu.Unlock()

	if m.OnComplete != nil {
		return m.OnComplete(ctx, req)
	}

	var err error
	if len(m.Errs) > 0 {
		if idx < len(m.Errs) {
			err = m.Errs[idx]
		} else {
			err = m.Errs[len(m.Errs)-1]
		}
	}
	if err != nil {
		return nil, err
	}

	if len(m.Responses) == 0 {
		return &CompletionResponse{StopReason: "stop"}, nil
	}
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}

func (m *MockClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := m.CompleteWithRequest(ctx, &CompletionRequest{
		Messages: []*Message{UserMessage(prompt)},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (m *MockClient) Stream(ctx context.Context, req *CompletionRequest, callback func(chunk string) error) error {
	resp, err := m.CompleteWithRequest(ctx, req)
	if err != nil {
		return err
	}
	if resp.Content != "" {
		return callback(resp.Content)
	}
	return nil
}

func (m *MockClient) GetModelName() string {
	if m.Model != "" {
		return m.Model
	}
	return "mock-model"
}

// CallCount reports how many completion calls the mock has served.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
