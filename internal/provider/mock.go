package provider

import (
	"context"
	"sync"

	"github.com/flowcraft/engine/internal/retry"
)

// MockProvider is a scriptable Provider used throughout the engine's own
// tests, grounded on the teacher's test doubles in
// node_executors_test.go/executor_test.go.
type MockProvider struct {
	mu        sync.Mutex
	responses []ChatResponse
	errs      []error
	calls     []ChatRequest
	caps      ModelCapabilities
}

// NewMockProvider returns a mock that yields responses in order, one per
// call; once exhausted it repeats the last response.
func NewMockProvider(responses ...ChatResponse) *MockProvider {
	return &MockProvider{responses: responses, caps: ModelCapabilities{ContextWindow: 8192, SupportsTools: true}}
}

// WithError makes the n-th call (0-indexed) fail with err instead of
// returning a response.
func (m *MockProvider) WithError(n int, err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.errs) <= n {
		m.errs = append(m.errs, nil)
	}
	m.errs[n] = err
	return m
}

func (m *MockProvider) Calls() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockProvider) Complete(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	m.mu.Lock()
	idx := len(m.calls)
	m.calls = append(m.calls, req)
	var err error
	if idx < len(m.errs) {
		err = m.errs[idx]
	}
	var resp ChatResponse
	if len(m.responses) > 0 {
		if idx < len(m.responses) {
			resp = m.responses[idx]
		} else {
			resp = m.responses[len(m.responses)-1]
		}
	}
	m.mu.Unlock()
	if err != nil {
		return ChatResponse{}, err
	}
	if ctx.Err() != nil {
		return ChatResponse{}, retry.New(retry.KindTimeout, "", "canceled", ctx.Err())
	}
	return resp, nil
}

func (m *MockProvider) Stream(ctx context.Context, req ChatRequest, onChunk func(StreamChunk)) (ChatResponse, error) {
	resp, err := m.Complete(ctx, req)
	if err != nil {
		return ChatResponse{}, err
	}
	if onChunk != nil {
		if resp.Content != "" {
			onChunk(StreamChunk{DeltaContent: resp.Content})
		}
		onChunk(StreamChunk{Done: true, Final: &resp})
	}
	return resp, nil
}

func (m *MockProvider) Capabilities(model string) ModelCapabilities {
	return m.caps
}
