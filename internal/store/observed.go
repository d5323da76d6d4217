package store

import (
	"context"

	"github.com/kiranshivaraju/vista/pkg/models"
)

// ChangeNotifier receives committed record changes.
type ChangeNotifier interface {
	JobChanged(job models.Job)
	JobDeleted(id string)
}

// Observed wraps a JobStore and reports every successful write to a ChangeNotifier.
type Observed struct {
	JobStore
	notify ChangeNotifier
}

func NewObserved(inner JobStore, notify ChangeNotifier) *Observed {
	return &Observed{JobStore: inner, notify: notify}
}

func (o *Observed) Create(ctx context.Context, job *models.Job) error {
	if err := o.JobStore.Create(ctx, job); err != nil {
		return err
	}
	o.notify.JobChanged(*job)
	return nil
}

func (o *Observed) Update(ctx context.Context, id string, opts ...JobUpdateOption) (*models.Job, error) {
	job, err := o.JobStore.Update(ctx, id, opts...)
	if err != nil {
		return nil, err
	}
	o.notify.JobChanged(*job)
	return job, nil
}

func (o *Observed) Delete(ctx context.Context, id string) error {
	if err := o.JobStore.Delete(ctx, id); err != nil {
		return err
	}
	o.notify.JobDeleted(id)
	return nil
}
