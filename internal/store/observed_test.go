package store_test

import (
	"context"
	"sync"
	"testing"

	"github.com/kiranshivaraju/vista/internal/store"
	"github.com/kiranshivaraju/vista/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu      sync.Mutex
	changed []models.Job
	deleted []string
}

func (r *recordingNotifier) JobChanged(job models.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, job)
}

func (r *recordingNotifier) JobDeleted(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
}

func TestObserved_NotifiesOnCommittedWrites(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	s := store.NewObserved(store.NewMemoryStore(), n)

	job := &models.Job{TemplateID: "dance"}
	require.NoError(t, s.Create(ctx, job))
	_, err := s.Update(ctx, job.ID, store.WithState(models.JobStateUploading))
	require.NoError(t, err)

	// Rejected writes are not reported.
	_, err = s.Update(ctx, job.ID, store.WithState(models.JobStatePending))
	require.Error(t, err)

	require.NoError(t, s.Delete(ctx, job.ID))

	require.Len(t, n.changed, 2)
	assert.Equal(t, models.JobStatePending, n.changed[0].State)
	assert.Equal(t, models.JobStateUploading, n.changed[1].State)
	assert.Equal(t, []string{job.ID}, n.deleted)
}
