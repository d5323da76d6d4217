package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vista/pkg/models"
)

var (
	ErrNotFound = errors.New("job not found")

	// ErrTerminal and ErrInvalidTransition alias the model errors so callers can match
	// either name with errors.Is.
	ErrTerminal          = models.ErrTerminalJob
	ErrInvalidTransition = models.ErrInvalidTransition
)

// JobStore is the data access interface for job records. All implementations must be safe for
// concurrent use and must apply updates as an atomic read-modify-write per record.
type JobStore interface {
	Ping(ctx context.Context) error

	// List returns records most recent first.
	List(ctx context.Context, filter ListFilter) ([]*models.Job, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	// Create assigns the id and timestamps and defaults the state to PENDING.
	Create(ctx context.Context, job *models.Job) error
	// Update returns ErrNotFound for a missing id, ErrTerminal for a finished record.
	Update(ctx context.Context, id string, opts ...JobUpdateOption) (*models.Job, error)
	Delete(ctx context.Context, id string) error

	Close() error
}

type ListFilter struct {
	States []models.JobState
	Limit  int
}

// JobUpdateOption sets one field of a record patch.
type JobUpdateOption func(*models.JobPatch)

func WithState(state models.JobState) JobUpdateOption {
	return func(p *models.JobPatch) {
		p.State = &state
	}
}

// WithProviderHandle records the submission acknowledgment and moves the record to IN_QUEUE.
func WithProviderHandle(endpoint, handle string) JobUpdateOption {
	return func(p *models.JobPatch) {
		state := models.JobStateInQueue
		p.State = &state
		p.ProviderEndpoint = &endpoint
		p.ProviderHandle = &handle
	}
}

func WithQueuePosition(pos int) JobUpdateOption {
	return func(p *models.JobPatch) {
		p.QueuePosition = &pos
	}
}

func WithInputURL(url string) JobUpdateOption {
	return func(p *models.JobPatch) {
		p.InputURL = &url
	}
}

// WithResult completes the record.
func WithResult(url string) JobUpdateOption {
	return func(p *models.JobPatch) {
		state := models.JobStateCompleted
		p.State = &state
		p.ResultURL = &url
	}
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *models.JobPatch) {
		p.ErrorMessage = &msg
	}
}

// WithFailure marks the record FAILED with msg.
func WithFailure(msg string) JobUpdateOption {
	return func(p *models.JobPatch) {
		state := models.JobStateFailed
		p.State = &state
		p.ErrorMessage = &msg
	}
}

func buildPatch(opts []JobUpdateOption) models.JobPatch {
	var p models.JobPatch
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// timestamp truncates to the precision every backend can round-trip.
func timestamp() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func prepareCreate(job *models.Job) error {
	if job.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate job id: %w", err)
		}
		job.ID = id.String()
	}
	if job.State == "" {
		job.State = models.JobStatePending
	}
	if !job.State.Valid() {
		return fmt.Errorf("create job: unknown state %q", job.State)
	}
	now := timestamp()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.CompletedAt = nil
	return nil
}

func (f ListFilter) matches(job *models.Job) bool {
	return len(f.States) == 0 || slices.Contains(f.States, job.State)
}

// sortNewestFirst orders by creation time, falling back to the time-ordered id.
func sortNewestFirst(jobs []*models.Job) {
	slices.SortFunc(jobs, func(a, b *models.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
}

func (f ListFilter) limit(jobs []*models.Job) []*models.Job {
	if f.Limit > 0 && len(jobs) > f.Limit {
		return jobs[:f.Limit]
	}
	return jobs
}
