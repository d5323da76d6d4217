package mock

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vista/pkg/models"
)

// MockProvider satisfies models.VideoProvider for testing and counts calls per method.
type MockProvider struct {
	Name_      string
	UploadFunc func(ctx context.Context, data []byte, contentType, fileName string) (string, error)
	SubmitFunc func(ctx context.Context, endpoint string, input map[string]any) (string, error)
	StatusFunc func(ctx context.Context, endpoint, handle string) (models.ProviderStatus, error)
	ResultFunc func(ctx context.Context, endpoint, handle string) (models.ProviderResult, error)

	mu    sync.Mutex
	calls map[string]int
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[method]++
}

// Calls returns how many times method ("Upload", "Submit", "Status", "Result") was invoked.
func (m *MockProvider) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockProvider) Upload(ctx context.Context, data []byte, contentType, fileName string) (string, error) {
	m.record("Upload")
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, data, contentType, fileName)
	}
	return "", nil
}

func (m *MockProvider) Submit(ctx context.Context, endpoint string, input map[string]any) (string, error) {
	m.record("Submit")
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, endpoint, input)
	}
	return "", nil
}

func (m *MockProvider) Status(ctx context.Context, endpoint, handle string) (models.ProviderStatus, error) {
	m.record("Status")
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, endpoint, handle)
	}
	return models.ProviderStatus{}, nil
}

func (m *MockProvider) Result(ctx context.Context, endpoint, handle string) (models.ProviderResult, error) {
	m.record("Result")
	if m.ResultFunc != nil {
		return m.ResultFunc(ctx, endpoint, handle)
	}
	return models.ProviderResult{}, nil
}

// NewMockProvider returns a MockProvider whose jobs complete on the first status check.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		UploadFunc: func(_ context.Context, _ []byte, _, fileName string) (string, error) {
			return "https://mock.storage/" + fileName, nil
		},
		SubmitFunc: func(_ context.Context, _ string, _ map[string]any) (string, error) {
			return uuid.NewString(), nil
		},
		StatusFunc: func(_ context.Context, _, _ string) (models.ProviderStatus, error) {
			return models.ProviderStatus{State: models.ProviderCompleted}, nil
		},
		ResultFunc: func(_ context.Context, _, handle string) (models.ProviderResult, error) {
			return models.ProviderResult{URL: "https://mock.media/" + handle + ".mp4"}, nil
		},
	}
}

// NewScriptedProvider returns a MockProvider whose status checks walk through
// statuses in order, repeating the last one once exhausted.
func NewScriptedProvider(handle string, statuses []models.ProviderStatus, resultURL string) *MockProvider {
	m := NewMockProvider()
	m.Name_ = "mock-scripted"
	m.SubmitFunc = func(_ context.Context, _ string, _ map[string]any) (string, error) {
		return handle, nil
	}

	var mu sync.Mutex
	next := 0
	m.StatusFunc = func(_ context.Context, _, _ string) (models.ProviderStatus, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(statuses) == 0 {
			return models.ProviderStatus{State: models.ProviderQueued}, nil
		}
		st := statuses[next]
		if next < len(statuses)-1 {
			next++
		}
		return st, nil
	}
	m.ResultFunc = func(_ context.Context, _, _ string) (models.ProviderResult, error) {
		return models.ProviderResult{URL: resultURL}, nil
	}
	return m
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		UploadFunc: func(_ context.Context, _ []byte, _, _ string) (string, error) {
			return "", err
		},
		SubmitFunc: func(_ context.Context, _ string, _ map[string]any) (string, error) {
			return "", err
		},
		StatusFunc: func(_ context.Context, _, _ string) (models.ProviderStatus, error) {
			return models.ProviderStatus{}, err
		},
		ResultFunc: func(_ context.Context, _, _ string) (models.ProviderResult, error) {
			return models.ProviderResult{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	block := func(ctx context.Context) error {
		<-ctx.Done()
		return models.ErrProviderTimeout
	}
	return &MockProvider{
		Name_: "mock-timeout",
		UploadFunc: func(ctx context.Context, _ []byte, _, _ string) (string, error) {
			return "", block(ctx)
		},
		SubmitFunc: func(ctx context.Context, _ string, _ map[string]any) (string, error) {
			return "", block(ctx)
		},
		StatusFunc: func(ctx context.Context, _, _ string) (models.ProviderStatus, error) {
			return models.ProviderStatus{}, block(ctx)
		},
		ResultFunc: func(ctx context.Context, _, _ string) (models.ProviderResult, error) {
			return models.ProviderResult{}, block(ctx)
		},
	}
}

// Compile-time check that MockProvider implements VideoProvider.
var _ models.VideoProvider = (*MockProvider)(nil)
