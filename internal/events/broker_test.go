package events_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/vista/internal/events"
	"github.com/kiranshivaraju/vista/internal/store"
	"github.com/kiranshivaraju/vista/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	return events.Event{}
}

func TestBroker_FiltersByJob(t *testing.T) {
	b := events.NewBroker()
	mine, unsubMine := b.Subscribe("job-a", 4)
	defer unsubMine()
	all, unsubAll := b.Subscribe("", 4)
	defer unsubAll()

	b.JobChanged(models.Job{ID: "job-b", State: models.JobStateUploading})
	b.JobChanged(models.Job{ID: "job-a", State: models.JobStateInQueue})

	e := receive(t, mine)
	assert.Equal(t, "job-a", e.JobID)
	assert.Equal(t, events.JobUpdated, e.Type)
	require.NotNil(t, e.Job)
	assert.Equal(t, models.JobStateInQueue, e.Job.State)

	assert.Equal(t, "job-b", receive(t, all).JobID)
	assert.Equal(t, "job-a", receive(t, all).JobID)
}

func TestBroker_DeleteEvent(t *testing.T) {
	b := events.NewBroker()
	ch, unsub := b.Subscribe("job-a", 1)
	defer unsub()

	b.JobDeleted("job-a")
	e := receive(t, ch)
	assert.Equal(t, events.JobDeleted, e.Type)
	assert.Nil(t, e.Job)
}

func TestBroker_UnsubscribeClosesChannel(t *testing.T) {
	b := events.NewBroker()
	ch, unsub := b.Subscribe("", 1)
	assert.Equal(t, 1, b.Subscribers())

	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Subscribers())

	// publishing after unsubscribe must not panic on the closed channel
	b.JobDeleted("x")
}

func TestBroker_SlowSubscriberDoesNotBlock(t *testing.T) {
	b := events.NewBroker()
	_, unsub := b.Subscribe("", 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.JobDeleted("x")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestBroker_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	b := events.NewBroker()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		_, unsub := b.Subscribe("", 2)
		go func() {
			defer wg.Done()
			b.JobDeleted("x")
		}()
		go func() {
			defer wg.Done()
			unsub()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, b.Subscribers())
}

func TestBroker_DropsChangeOlderThanLastSent(t *testing.T) {
	b := events.NewBroker()
	ch, unsub := b.Subscribe("", 4)
	defer unsub()

	base := time.Now()
	queued := models.Job{ID: "job-a", State: models.JobStateInQueue, UpdatedAt: base}
	running := models.Job{ID: "job-a", State: models.JobStateInProgress, UpdatedAt: base.Add(time.Millisecond)}

	// the later commit is reported first
	b.JobChanged(running)
	b.JobChanged(queued)
	b.JobChanged(models.Job{ID: "job-b", State: models.JobStatePending, UpdatedAt: base})

	assert.Equal(t, models.JobStateInProgress, receive(t, ch).Job.State)
	assert.Equal(t, "job-b", receive(t, ch).JobID)
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %+v", e)
	default:
	}
}

func TestBroker_DeleteResetsOrdering(t *testing.T) {
	b := events.NewBroker()
	ch, unsub := b.Subscribe("job-a", 4)
	defer unsub()

	base := time.Now()
	b.JobChanged(models.Job{ID: "job-a", State: models.JobStateCompleted, UpdatedAt: base})
	b.JobDeleted("job-a")
	b.JobChanged(models.Job{ID: "job-a", State: models.JobStatePending, UpdatedAt: base.Add(-time.Second)})

	assert.Equal(t, events.JobUpdated, receive(t, ch).Type)
	assert.Equal(t, events.JobDeleted, receive(t, ch).Type)
	assert.Equal(t, models.JobStatePending, receive(t, ch).Job.State)
}

// slowQueueStore returns IN_QUEUE commits late, after signalling that they are committed.
type slowQueueStore struct {
	store.JobStore
	committed chan struct{}
}

func (s *slowQueueStore) Update(ctx context.Context, id string, opts ...store.JobUpdateOption) (*models.Job, error) {
	job, err := s.JobStore.Update(ctx, id, opts...)
	if err == nil && job.State == models.JobStateInQueue {
		close(s.committed)
		time.Sleep(50 * time.Millisecond)
	}
	return job, err
}

func TestBroker_ObservedStorePublishesInCommitOrder(t *testing.T) {
	b := events.NewBroker()
	inner := &slowQueueStore{JobStore: store.NewMemoryStore(), committed: make(chan struct{})}
	st := store.NewObserved(inner, b)
	ctx := context.Background()

	job := &models.Job{TemplateID: "dance"}
	require.NoError(t, st.Create(ctx, job))

	ch, unsub := b.Subscribe(job.ID, 8)
	defer unsub()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := st.Update(ctx, job.ID, store.WithProviderHandle("fal-ai/kling-video", "req-1"))
		assert.NoError(t, err)
	}()

	<-inner.committed
	time.Sleep(time.Millisecond)
	_, err := st.Update(ctx, job.ID, store.WithState(models.JobStateInProgress))
	require.NoError(t, err)
	wg.Wait()

	assert.Equal(t, models.JobStateInProgress, receive(t, ch).Job.State)
	select {
	case e := <-ch:
		t.Fatalf("stale event delivered: %s", e.Job.State)
	default:
	}

	got, err := st.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateInProgress, got.State)
}
