// Package sandbox is a synthetic VideoProvider for local development. Jobs advance
// through the queue on a fixed timetable without contacting any external service.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/vista/pkg/models"
)

// SampleResultURL is returned for every completed sandbox job.
const SampleResultURL = "https://vista-ia.s3.eu-north-1.amazonaws.com/vista_20260113_Motion_Control__314_0.mp4"

// Timings controls how long a sandbox job spends in each phase.
type Timings struct {
	QueueFor     time.Duration
	RunFor       time.Duration
	StartingSlot int
}

func DefaultTimings() Timings {
	return Timings{QueueFor: 6 * time.Second, RunFor: 9 * time.Second, StartingSlot: 3}
}

type submission struct {
	endpoint    string
	submittedAt time.Time
	failReason  string
}

type Provider struct {
	timings Timings
	now     func() time.Time

	mu   sync.Mutex
	jobs map[string]submission
}

func NewProvider(t Timings) *Provider {
	return &Provider{timings: t, now: time.Now, jobs: make(map[string]submission)}
}

func (p *Provider) Name() string { return "sandbox" }

func (p *Provider) Upload(ctx context.Context, data []byte, contentType, fileName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ext := ""
	if m := mimetype.Lookup(contentType); m != nil {
		ext = m.Extension()
	}
	return fmt.Sprintf("https://sandbox.vista.local/uploads/%s%s", uuid.NewString(), ext), nil
}

// Submit accepts any input. An input carrying "sandbox_fail" produces a job that fails
// once it leaves the queue.
func (p *Provider) Submit(ctx context.Context, endpoint string, input map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(endpoint) == "" {
		return "", &models.ProviderError{StatusCode: 404, Message: "endpoint is required", Kind: models.ErrProviderRejected}
	}

	sub := submission{endpoint: endpoint, submittedAt: p.now()}
	if reason, ok := input["sandbox_fail"].(string); ok {
		sub.failReason = reason
	}

	handle := uuid.NewString()
	p.mu.Lock()
	p.jobs[handle] = sub
	p.mu.Unlock()
	return handle, nil
}

func (p *Provider) lookup(endpoint, handle string) (submission, error) {
	p.mu.Lock()
	sub, ok := p.jobs[handle]
	p.mu.Unlock()
	if !ok || sub.endpoint != endpoint {
		return submission{}, &models.ProviderError{
			StatusCode: 404,
			Message:    fmt.Sprintf("request %s not found on %s", handle, endpoint),
			Kind:       models.ErrProviderRejected,
		}
	}
	return sub, nil
}

func (p *Provider) Status(ctx context.Context, endpoint, handle string) (models.ProviderStatus, error) {
	if err := ctx.Err(); err != nil {
		return models.ProviderStatus{}, err
	}
	sub, err := p.lookup(endpoint, handle)
	if err != nil {
		return models.ProviderStatus{}, err
	}

	elapsed := p.now().Sub(sub.submittedAt)
	switch {
	case elapsed < p.timings.QueueFor:
		pos := p.timings.StartingSlot
		if p.timings.QueueFor > 0 {
			pos -= int(float64(p.timings.StartingSlot) * float64(elapsed) / float64(p.timings.QueueFor))
		}
		if pos < 0 {
			pos = 0
		}
		return models.ProviderStatus{State: models.ProviderQueued, QueuePosition: &pos}, nil
	case sub.failReason != "":
		return models.ProviderStatus{State: models.ProviderFailed, Error: sub.failReason}, nil
	case elapsed < p.timings.QueueFor+p.timings.RunFor:
		return models.ProviderStatus{State: models.ProviderRunning}, nil
	default:
		return models.ProviderStatus{State: models.ProviderCompleted}, nil
	}
}

func (p *Provider) Result(ctx context.Context, endpoint, handle string) (models.ProviderResult, error) {
	status, err := p.Status(ctx, endpoint, handle)
	if err != nil {
		return models.ProviderResult{}, err
	}
	if status.State != models.ProviderCompleted {
		return models.ProviderResult{}, &models.ProviderError{
			StatusCode: 400,
			Message:    fmt.Sprintf("request %s is %s", handle, status.State),
			Kind:       models.ErrProviderRejected,
		}
	}
	return models.ProviderResult{URL: SampleResultURL}, nil
}

var _ models.VideoProvider = (*Provider)(nil)
