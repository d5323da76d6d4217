// Package poller runs one status-polling session per submitted job and reconciles provider
// status into the job store until the job is terminal.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vista/internal/cache"
	"github.com/kiranshivaraju/vista/internal/store"
	"github.com/kiranshivaraju/vista/pkg/models"
)

var ErrPoll = errors.New("poll failed")

// StatusSource is the slice of the provider the poller needs.
type StatusSource interface {
	Status(ctx context.Context, endpoint, handle string) (models.ProviderStatus, error)
	Result(ctx context.Context, endpoint, handle string) (models.ProviderResult, error)
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithMaxConsecutiveErrors sets how many transport errors in a row fail the job. The
// default of 1 fails it on the first error.
func WithMaxConsecutiveErrors(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxErrors = n
		}
	}
}

// WithLeases makes sessions hold a per-handle lease in c so that several server processes
// sharing one store never poll the same job twice.
func WithLeases(c cache.Cache) Option {
	return func(p *Poller) {
		p.leases = c
	}
}

type Poller struct {
	store     store.JobStore
	source    StatusSource
	leases    cache.Cache
	owner     string
	interval  time.Duration
	maxErrors int

	mu       sync.Mutex
	sessions map[string]*session
	handles  map[string]string
}

type session struct {
	jobID    string
	handle   string
	endpoint string
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(st store.JobStore, source StatusSource, opts ...Option) *Poller {
	p := &Poller{
		store:     st,
		source:    source,
		owner:     uuid.NewString(),
		interval:  3 * time.Second,
		maxErrors: 1,
		sessions:  make(map[string]*session),
		handles:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins polling job. It reports false without doing anything when the job is
// terminal, has no handle, or is already being polled.
func (p *Poller) Start(job models.Job) bool {
	if job.State.IsTerminal() || job.ProviderHandle == "" || job.ProviderEndpoint == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sessions[job.ID]; ok {
		return false
	}
	if _, ok := p.handles[job.ProviderHandle]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		jobID:    job.ID,
		handle:   job.ProviderHandle,
		endpoint: job.ProviderEndpoint,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	p.sessions[s.jobID] = s
	p.handles[s.handle] = s.jobID

	go p.run(ctx, s)
	return true
}

// Stop cancels the session for jobID and waits for it to exit. After Stop returns no
// further writes for the job come from this poller.
func (p *Poller) Stop(jobID string) bool {
	p.mu.Lock()
	s, ok := p.sessions[jobID]
	if ok {
		p.detach(s)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}

	s.cancel()
	<-s.done
	return true
}

func (p *Poller) Active(jobID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.sessions[jobID]
	return ok
}

func (p *Poller) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// Shutdown stops every session.
func (p *Poller) Shutdown() {
	p.mu.Lock()
	all := make([]*session, 0, len(p.sessions))
	for _, s := range p.sessions {
		all = append(all, s)
		p.detach(s)
	}
	p.mu.Unlock()

	for _, s := range all {
		s.cancel()
	}
	for _, s := range all {
		<-s.done
	}
}

// detach removes s from the maps if it is still the registered session. Callers hold p.mu.
func (p *Poller) detach(s *session) {
	if cur, ok := p.sessions[s.jobID]; ok && cur == s {
		delete(p.sessions, s.jobID)
	}
	if id, ok := p.handles[s.handle]; ok && id == s.jobID {
		delete(p.handles, s.handle)
	}
}

func (p *Poller) run(ctx context.Context, s *session) {
	logger := slog.With("job_id", s.jobID, "provider_handle", s.handle, "endpoint", s.endpoint)

	defer close(s.done)
	defer func() {
		p.mu.Lock()
		p.detach(s)
		p.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in poll session", "error", r)
			_, _ = p.store.Update(context.Background(), s.jobID,
				store.WithFailure(fmt.Sprintf("%v: panic: %v", ErrPoll, r)))
		}
	}()

	if !p.acquire(ctx, s, logger) {
		return
	}
	defer p.release(s)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		done, err := p.tick(ctx, s)
		if ctx.Err() != nil || done {
			return
		}
		if err != nil {
			failures++
			if failures < p.maxErrors {
				logger.Warn("status check failed, will retry", "error", err, "consecutive_errors", failures)
				continue
			}
			logger.Warn("status check failed, failing job", "error", err)
			p.write(ctx, s.jobID, store.WithFailure(err.Error()))
			return
		}
		failures = 0

		if !p.renew(ctx, s, logger) {
			return
		}
	}
}

// tick performs one status check. It reports done when the session must end; err is a
// provider error that has not been written to the record.
func (p *Poller) tick(ctx context.Context, s *session) (done bool, err error) {
	opts, terminal, err := p.observe(ctx, s.endpoint, s.handle)
	if err != nil {
		return false, err
	}
	written, stop := p.write(ctx, s.jobID, opts...)
	if written != nil && written.State.IsTerminal() {
		slog.Info("job reached terminal state", "job_id", s.jobID, "state", written.State)
	}
	return terminal || stop, nil
}

// Check performs one status check for job outside its session and returns the record
// after the update. Provider errors are returned without failing the job.
func (p *Poller) Check(ctx context.Context, job models.Job) (*models.Job, error) {
	if job.State.IsTerminal() || job.ProviderHandle == "" {
		return &job, nil
	}

	opts, terminal, err := p.observe(ctx, job.ProviderEndpoint, job.ProviderHandle)
	if err != nil {
		return nil, err
	}
	updated, err := p.store.Update(ctx, job.ID, opts...)
	switch {
	case errors.Is(err, store.ErrTerminal), errors.Is(err, store.ErrInvalidTransition):
		return p.store.Get(ctx, job.ID)
	case err != nil:
		return nil, err
	}
	if terminal {
		p.Stop(job.ID)
	}
	return updated, nil
}

// observe queries the provider using the endpoint the job was submitted to and turns the
// answer into a record update. A completed job costs one extra result fetch.
func (p *Poller) observe(ctx context.Context, endpoint, handle string) ([]store.JobUpdateOption, bool, error) {
	status, err := p.source.Status(ctx, endpoint, handle)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrPoll, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	switch status.State {
	case models.ProviderCompleted:
		res, err := p.source.Result(ctx, endpoint, handle)
		if err != nil {
			return nil, false, fmt.Errorf("%w: fetch result: %w", ErrPoll, err)
		}
		if res.URL == "" {
			return nil, false, fmt.Errorf("%w: result has no url", ErrPoll)
		}
		return []store.JobUpdateOption{store.WithResult(res.URL)}, true, nil
	case models.ProviderFailed:
		msg := status.Error
		if msg == "" {
			msg = "generation failed"
		}
		return []store.JobUpdateOption{store.WithFailure(msg)}, true, nil
	case models.ProviderRunning:
		return []store.JobUpdateOption{store.WithState(models.JobStateInProgress)}, false, nil
	case models.ProviderQueued:
		opts := []store.JobUpdateOption{store.WithState(models.JobStateInQueue)}
		if status.QueuePosition != nil {
			opts = append(opts, store.WithQueuePosition(*status.QueuePosition))
		}
		return opts, false, nil
	default:
		return nil, false, fmt.Errorf("%w: unknown provider state %q", ErrPoll, status.State)
	}
}

// write applies opts unless the session was cancelled. stop reports that the record is
// gone or terminal, so the session has nothing left to do.
func (p *Poller) write(ctx context.Context, jobID string, opts ...store.JobUpdateOption) (*models.Job, bool) {
	if ctx.Err() != nil {
		return nil, true
	}
	job, err := p.store.Update(ctx, jobID, opts...)
	switch {
	case err == nil:
		return job, job.State.IsTerminal()
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrTerminal):
		return nil, true
	case errors.Is(err, store.ErrInvalidTransition):
		// The provider reported an earlier phase than the record already holds.
		slog.Debug("ignoring stale provider status", "job_id", jobID, "error", err)
		return nil, false
	default:
		slog.Error("failed to update job", "job_id", jobID, "error", err)
		return nil, false
	}
}

func (p *Poller) leaseTTL() time.Duration {
	return 3*p.interval + time.Second
}

func (p *Poller) acquire(ctx context.Context, s *session, logger *slog.Logger) bool {
	if p.leases == nil {
		return true
	}
	ok, err := p.leases.AcquireLease(ctx, cache.PollLeaseKey(s.handle), p.owner, p.leaseTTL())
	if err != nil {
		logger.Warn("poll lease unavailable, polling without it", "error", err)
		return true
	}
	if !ok {
		logger.Info("job is polled by another process")
	}
	return ok
}

func (p *Poller) renew(ctx context.Context, s *session, logger *slog.Logger) bool {
	if p.leases == nil {
		return true
	}
	ok, err := p.leases.RenewLease(ctx, cache.PollLeaseKey(s.handle), p.owner, p.leaseTTL())
	if err != nil {
		logger.Warn("failed to renew poll lease", "error", err)
		return true
	}
	if !ok {
		logger.Warn("poll lease lost, stopping session")
	}
	return ok
}

func (p *Poller) release(s *session) {
	if p.leases == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.leases.ReleaseLease(ctx, cache.PollLeaseKey(s.handle), p.owner); err != nil {
		slog.Warn("failed to release poll lease", "job_id", s.jobID, "error", err)
	}
}
