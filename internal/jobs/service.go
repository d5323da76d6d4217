// Package jobs is the public face of the orchestrator: it starts generation jobs, runs
// their submission pipeline and hands them to the poller.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/vista/internal/events"
	"github.com/kiranshivaraju/vista/internal/gateway"
	"github.com/kiranshivaraju/vista/internal/poller"
	"github.com/kiranshivaraju/vista/internal/resolver"
	"github.com/kiranshivaraju/vista/internal/store"
	"github.com/kiranshivaraju/vista/pkg/models"
)

const (
	CancelledMessage   = "cancelled"
	InterruptedMessage = "interrupted before submission"
)

var ErrWatchUnavailable = errors.New("job events are not enabled")

// StartRequest is one user submission.
type StartRequest struct {
	TemplateID string
	Media      []byte
	MimeType   string
	FileName   string
}

// ResumeReport summarizes one reconciliation pass.
type ResumeReport struct {
	Resumed  int
	Orphaned int
}

type Option func(*Service)

// WithEvents enables Watch. b should be the notifier of the store passed to New.
func WithEvents(b *events.Broker) Option {
	return func(s *Service) { s.events = b }
}

// WithOrphanAfter sets how long a record may sit unsubmitted, with no pipeline attached,
// before Resume fails it.
func WithOrphanAfter(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.orphanAfter = d
		}
	}
}

// Service owns the lifecycle of generation jobs.
type Service struct {
	store       store.JobStore
	resolver    *resolver.Resolver
	gateway     *gateway.Gateway
	poller      *poller.Poller
	events      *events.Broker
	orphanAfter time.Duration

	mu        sync.Mutex
	pipelines map[string]*pipeline
}

type pipeline struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewService(st store.JobStore, res *resolver.Resolver, gw *gateway.Gateway, pl *poller.Poller, opts ...Option) *Service {
	s := &Service{
		store:       st,
		resolver:    res,
		gateway:     gw,
		poller:      pl,
		orphanAfter: 10 * time.Minute,
		pipelines:   make(map[string]*pipeline),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartJob validates the request, creates a PENDING record and returns it while the
// upload and submission continue in the background. Template and media problems are
// returned directly and leave no record behind.
func (s *Service) StartJob(ctx context.Context, req StartRequest) (*models.Job, error) {
	res, err := s.resolver.Resolve(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}

	contentType, err := s.gateway.Validate(req.Media, req.MimeType)
	if err != nil {
		return nil, err
	}
	if want := res.Template.InputType; want != "" && !strings.HasPrefix(contentType, string(want)+"/") {
		return nil, fmt.Errorf("%w: %w: template %s expects %s input, got %s",
			gateway.ErrUpload, gateway.ErrUnsupportedMedia, res.Template.ID, want, contentType)
	}

	job := &models.Job{
		TemplateID:   res.Template.ID,
		TemplateName: res.Template.Name,
		State:        models.JobStatePending,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	pctx, cancel := context.WithCancel(context.Background())
	p := &pipeline{cancel: cancel, done: make(chan struct{})}
	s.mu.Lock()
	s.pipelines[job.ID] = p
	s.mu.Unlock()

	slog.Info("job started", "job_id", job.ID, "template_id", job.TemplateID, "endpoint", res.Endpoint,
		"content_type", contentType, "size", len(req.Media))

	go s.runPipeline(pctx, p, job.ID, res, req.Media, contentType, req.FileName)

	created := *job
	return &created, nil
}

// runPipeline uploads, submits and hands the job to the poller. Every failure leaves the
// record FAILED unless the pipeline was cancelled, in which case the canceller owns the
// final write.
func (s *Service) runPipeline(ctx context.Context, p *pipeline, jobID string, res *resolver.Resolution,
	media []byte, contentType, fileName string) {
	logger := slog.With("job_id", jobID, "endpoint", res.Endpoint)

	defer close(p.done)
	defer s.removePipeline(jobID, p)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in job pipeline", "error", r)
			s.fail(ctx, jobID, fmt.Errorf("panic: %v", r))
		}
	}()

	if !s.advance(ctx, jobID, store.WithState(models.JobStateUploading)) {
		return
	}

	url, err := s.gateway.UploadMedia(ctx, media, contentType, fileName)
	if err != nil {
		s.fail(ctx, jobID, err)
		return
	}
	if !s.advance(ctx, jobID, store.WithState(models.JobStateSubmitting), store.WithInputURL(url)) {
		return
	}

	handle, err := s.gateway.SubmitJob(ctx, res.Endpoint, res.Shape.Input(url))
	if err != nil {
		s.fail(ctx, jobID, err)
		return
	}
	if ctx.Err() != nil {
		logger.Warn("job cancelled after provider accepted it", "provider_handle", handle)
		return
	}

	job, err := s.store.Update(ctx, jobID, store.WithProviderHandle(res.Endpoint, handle))
	if err != nil {
		if !gone(err) {
			logger.Error("failed to record provider handle", "provider_handle", handle, "error", err)
			s.fail(ctx, jobID, err)
		}
		return
	}
	logger.Info("job submitted", "provider_handle", handle)
	s.poller.Start(*job)
}

// advance writes a pipeline step. It reports false when the pipeline must stop.
func (s *Service) advance(ctx context.Context, jobID string, opts ...store.JobUpdateOption) bool {
	if ctx.Err() != nil {
		return false
	}
	if _, err := s.store.Update(ctx, jobID, opts...); err != nil {
		if !gone(err) {
			slog.Error("failed to update job", "job_id", jobID, "error", err)
			s.fail(ctx, jobID, err)
		}
		return false
	}
	return true
}

func (s *Service) fail(ctx context.Context, jobID string, cause error) {
	if ctx.Err() != nil {
		return
	}
	slog.Warn("job failed", "job_id", jobID, "error", cause)
	if _, err := s.store.Update(context.Background(), jobID, store.WithFailure(cause.Error())); err != nil && !gone(err) {
		slog.Error("failed to mark job failed", "job_id", jobID, "error", err)
	}
}

// gone reports errors meaning the record no longer accepts writes from this job's workers.
func gone(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrTerminal)
}

func (s *Service) removePipeline(jobID string, p *pipeline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.pipelines[jobID]; ok && cur == p {
		delete(s.pipelines, jobID)
	}
}

// stopPipeline cancels the job's pipeline, if any, and waits for it to return.
func (s *Service) stopPipeline(jobID string) bool {
	s.mu.Lock()
	p, ok := s.pipelines[jobID]
	if ok {
		delete(s.pipelines, jobID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	p.cancel()
	<-p.done
	return true
}

func (s *Service) hasPipeline(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pipelines[jobID]
	return ok
}

// RefreshJob checks the provider once, outside the polling interval, using the endpoint
// the job was submitted to. Terminal and unsubmitted records are returned unchanged.
func (s *Service) RefreshJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State.IsTerminal() || job.ProviderHandle == "" {
		return job, nil
	}

	updated, err := s.poller.Check(ctx, *job)
	if err != nil {
		return nil, err
	}
	if !updated.State.IsTerminal() {
		s.poller.Start(*updated)
	}
	return updated, nil
}

// CancelJob stops local work on the job and marks it FAILED. The provider keeps running
// anything it already accepted. Terminal records are returned unchanged.
func (s *Service) CancelJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State.IsTerminal() {
		return job, nil
	}

	s.stopPipeline(id)
	s.poller.Stop(id)

	updated, err := s.store.Update(ctx, id, store.WithFailure(CancelledMessage))
	if errors.Is(err, store.ErrTerminal) {
		return s.store.Get(ctx, id)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("job cancelled", "job_id", id)
	return updated, nil
}

// DeleteJob stops any work on the job, then removes the record.
func (s *Service) DeleteJob(ctx context.Context, id string) error {
	s.stopPipeline(id)
	s.poller.Stop(id)
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	slog.Info("job deleted", "job_id", id)
	return nil
}

func (s *Service) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return s.store.Get(ctx, id)
}

// ListJobs returns records most recent first.
func (s *Service) ListJobs(ctx context.Context, filter store.ListFilter) ([]*models.Job, error) {
	return s.store.List(ctx, filter)
}

// Watch subscribes to changes of one job, or of all jobs when id is empty.
func (s *Service) Watch(id string) (<-chan events.Event, func(), error) {
	if s.events == nil {
		return nil, nil, ErrWatchUnavailable
	}
	ch, unsubscribe := s.events.Subscribe(id, 16)
	return ch, unsubscribe, nil
}

// Resume restarts polling for submitted records that have no session and fails records
// that never reached the provider and have no pipeline attached.
func (s *Service) Resume(ctx context.Context) (ResumeReport, error) {
	var report ResumeReport
	pending, err := s.store.List(ctx, store.ListFilter{States: models.NonTerminalStates()})
	if err != nil {
		return report, fmt.Errorf("listing unfinished jobs: %w", err)
	}

	now := time.Now()
	for _, job := range pending {
		if job.ProviderHandle != "" {
			if s.poller.Start(*job) {
				report.Resumed++
			}
			continue
		}
		if s.hasPipeline(job.ID) || now.Sub(job.UpdatedAt) < s.orphanAfter {
			continue
		}
		if _, err := s.store.Update(ctx, job.ID, store.WithFailure(InterruptedMessage)); err != nil {
			if !gone(err) {
				slog.Error("failed to fail orphaned job", "job_id", job.ID, "error", err)
			}
			continue
		}
		report.Orphaned++
	}

	if report.Resumed > 0 || report.Orphaned > 0 {
		slog.Info("jobs reconciled", "resumed", report.Resumed, "orphaned", report.Orphaned)
	}
	return report, nil
}

// Shutdown cancels running pipelines and stops all poll sessions.
func (s *Service) Shutdown() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.pipelines))
	for id := range s.pipelines {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.stopPipeline(id)
	}
	s.poller.Shutdown()
}
