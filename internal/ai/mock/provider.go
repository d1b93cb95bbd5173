package mock

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/valuecalc/internal/ai/llm"
	"github.com/kiranshivaraju/valuecalc/pkg/models"
)

// MockProvider satisfies models.Classifier for testing. Every request is
// recorded so tests can assert on batch composition.
type MockProvider struct {
	Name_        string
	ClassifyFunc func(ctx context.Context, req models.ClassificationRequest) ([]models.ClassificationResult, error)

	mu       sync.Mutex
	requests []models.ClassificationRequest
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Classify(ctx context.Context, req models.ClassificationRequest) ([]models.ClassificationResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, req)
	}
	return nil, nil
}

// Requests returns a copy of every request received so far.
func (m *MockProvider) Requests() []models.ClassificationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ClassificationRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Calls returns the number of Classify invocations.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// NewMockProvider returns a MockProvider that assigns every item to the first
// dimension of the request, echoing names and ids.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		ClassifyFunc: func(_ context.Context, req models.ClassificationRequest) ([]models.ClassificationResult, error) {
			return AssignFirst(req), nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		ClassifyFunc: func(_ context.Context, _ models.ClassificationRequest) ([]models.ClassificationResult, error) {
			return nil, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		ClassifyFunc: func(ctx context.Context, _ models.ClassificationRequest) ([]models.ClassificationResult, error) {
			<-ctx.Done()
			return nil, llm.Transient("mock-timeout", llm.ErrInferenceTimeout)
		},
	}
}

// NewFlakyProvider fails the first n calls with a transient error, then
// behaves like NewMockProvider.
func NewFlakyProvider(n int) *MockProvider {
	p := &MockProvider{Name_: "mock-flaky"}
	var mu sync.Mutex
	failures := 0
	p.ClassifyFunc = func(_ context.Context, req models.ClassificationRequest) ([]models.ClassificationResult, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures < n {
			failures++
			return nil, llm.Transient("mock-flaky", llm.ErrProviderUnavailable)
		}
		return AssignFirst(req), nil
	}
	return p
}

// AssignFirst answers req by putting every item in its first dimension.
func AssignFirst(req models.ClassificationRequest) []models.ClassificationResult {
	if len(req.Dimensions) == 0 {
		return nil
	}
	dim := req.Dimensions[0].ID.String()
	out := make([]models.ClassificationResult, 0, len(req.Items))
	for _, it := range req.Items {
		out = append(out, models.ClassificationResult{
			ItemID:      it.ID,
			ItemName:    it.Name,
			DimensionID: dim,
			Confidence:  0.9,
			Reason:      "mock",
		})
	}
	return out
}

// Compile-time check that MockProvider implements Classifier.
var _ models.Classifier = (*MockProvider)(nil)
