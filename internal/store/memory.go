package store

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/vista/pkg/models"
)

// MemoryStore keeps job records in a process-local map.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]models.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]models.Job)}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if filter.matches(&j) {
			job := j
			jobs = append(jobs, &job)
		}
	}
	sortNewestFirst(jobs)
	return filter.limit(jobs), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &j, nil
}

func (s *MemoryStore) Create(_ context.Context, job *models.Job) error {
	if err := prepareCreate(job); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = *job
	return nil
}

func (s *MemoryStore) Update(_ context.Context, id string, opts ...JobUpdateOption) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	next, err := current.Apply(buildPatch(opts), timestamp())
	if err != nil {
		return nil, err
	}
	s.jobs[id] = next
	return &next, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
