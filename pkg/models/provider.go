package models

import (
	"context"
	"errors"
)

// VideoProvider is the interface every generative-media backend implements.
// Never call a specific provider directly; always inject this interface.
type VideoProvider interface {
	// Upload pushes media to provider-managed storage and returns its URL.
	Upload(ctx context.Context, data []byte, contentType, fileName string) (string, error)
	// Submit enqueues one job on the named endpoint and returns the provider handle.
	Submit(ctx context.Context, endpoint string, input map[string]any) (string, error)
	// Status reports the job's progress. endpoint must be the one used at submission.
	Status(ctx context.Context, endpoint, handle string) (ProviderStatus, error)
	// Result fetches the artifact of a completed job.
	Result(ctx context.Context, endpoint, handle string) (ProviderResult, error)
	// Name returns the provider identifier (e.g., "fal", "sandbox").
	Name() string
}

// ProviderState is the provider's view of a queued job.
type ProviderState string

const (
	ProviderQueued    ProviderState = "IN_QUEUE"
	ProviderRunning   ProviderState = "IN_PROGRESS"
	ProviderCompleted ProviderState = "COMPLETED"
	ProviderFailed    ProviderState = "FAILED"
)

type ProviderStatus struct {
	State         ProviderState
	QueuePosition *int
	// Error is the provider's reason when State is FAILED.
	Error string
	Logs  []string
}

type ProviderResult struct {
	URL string
}

var (
	ErrProviderUnauthorized    = errors.New("provider rejected credentials")
	ErrProviderUnavailable     = errors.New("provider unavailable")
	ErrProviderTimeout         = errors.New("provider request timeout")
	ErrProviderRejected        = errors.New("provider rejected request")
	ErrProviderInvalidResponse = errors.New("provider returned invalid response")
)

// ProviderError carries the provider's human-readable message alongside a sentinel.
type ProviderError struct {
	StatusCode int
	Message    string
	Kind       error
}

func (e *ProviderError) Error() string { return e.Message }

func (e *ProviderError) Unwrap() error { return e.Kind }
