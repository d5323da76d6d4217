package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/kiranshivaraju/vista/internal/jobs"
	"github.com/kiranshivaraju/vista/internal/provider/mock"
	"github.com/kiranshivaraju/vista/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler_InvalidSchedule(t *testing.T) {
	h := newHarness(t, mock.NewMockProvider())
	_, err := jobs.NewScheduler(h.svc, "whenever")
	assert.Error(t, err)
}

func TestScheduler_ReconcilesOnSchedule(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a cron tick")
	}
	h := newHarness(t, mock.NewMockProvider(), jobs.WithOrphanAfter(time.Millisecond))
	ctx := context.Background()

	orphan := &models.Job{TemplateID: "dance"}
	require.NoError(t, h.store.Create(ctx, orphan))

	sched, err := jobs.NewScheduler(h.svc, "@every 1s")
	require.NoError(t, err)
	sched.Start()
	defer sched.Stop()

	h.waitState(t, orphan.ID, models.JobStateFailed)
}
