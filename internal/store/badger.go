package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/kiranshivaraju/vista/pkg/models"
	"github.com/timshannon/badgerhold/v4"
)

// BadgerStore persists job records in an embedded Badger database so history
// survives restarts without an external server.
type BadgerStore struct {
	// mu serializes writers; badger transactions alone would surface conflicts as errors.
	mu    sync.Mutex
	store *badgerhold.Store
}

// OpenBadgerStore opens (or creates) the database at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create badger directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{store: store}, nil
}

func (s *BadgerStore) Ping(context.Context) error {
	if s.store.Badger().IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

func (s *BadgerStore) List(_ context.Context, filter ListFilter) ([]*models.Job, error) {
	query := badgerhold.Where("ID").Ne("")
	if len(filter.States) > 0 {
		states := make([]any, len(filter.States))
		for i, st := range filter.States {
			states[i] = st
		}
		query = query.And("State").In(states...)
	}

	var found []models.Job
	if err := s.store.Find(&found, query); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]*models.Job, len(found))
	for i := range found {
		jobs[i] = &found[i]
	}
	sortNewestFirst(jobs)
	return filter.limit(jobs), nil
}

func (s *BadgerStore) Get(_ context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.store.Get(id, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

func (s *BadgerStore) Create(_ context.Context, job *models.Job) error {
	if err := prepareCreate(job); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Insert(job.ID, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *BadgerStore) Update(_ context.Context, id string, opts ...JobUpdateOption) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next models.Job
	err := s.store.Badger().Update(func(tx *badger.Txn) error {
		var current models.Job
		if err := s.store.TxGet(tx, id, &current); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("get job: %w", err)
		}

		var err error
		next, err = current.Apply(buildPatch(opts), timestamp())
		if err != nil {
			return err
		}
		return s.store.TxUpdate(tx, id, &next)
	})
	if err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *BadgerStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Delete(id, &models.Job{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.store.Close()
}
