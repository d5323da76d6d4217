// Package events fans committed job changes out to observers.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/vista/pkg/models"
)

type EventType string

const (
	JobUpdated EventType = "job.updated"
	JobDeleted EventType = "job.deleted"
)

// Event carries a snapshot of the record after the change. Job is nil for deletions.
type Event struct {
	Type  EventType   `json:"type"`
	JobID string      `json:"jobId"`
	Job   *models.Job `json:"job,omitempty"`
}

type subscriber struct {
	jobID string
	ch    chan Event
}

// Broker delivers events to per-job and catch-all subscribers. Publishing never blocks:
// a subscriber whose buffer is full misses the event.
type Broker struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*subscriber

	// seqMu orders job events; last holds the UpdatedAt of the newest change sent per job.
	seqMu sync.Mutex
	last  map[string]time.Time
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[int]*subscriber), last: make(map[string]time.Time)}
}

// Subscribe registers for events of jobID, or of every job when jobID is empty.
// The returned func unsubscribes and closes the channel; it is safe to call twice.
func (b *Broker) Subscribe(jobID string, buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	s := &subscriber{jobID: jobID, ch: make(chan Event, buffer)}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(s.ch)
			b.mu.Unlock()
		})
	}
}

func (b *Broker) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subs {
		if s.jobID != "" && s.jobID != e.JobID {
			continue
		}
		select {
		case s.ch <- e:
		default:
			slog.Warn("dropping job event for slow subscriber", "job_id", e.JobID, "type", e.Type)
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// JobChanged implements store.ChangeNotifier. Writers notify after their commit, so two
// writers can arrive out of order; a change older than the last one sent is dropped.
func (b *Broker) JobChanged(job models.Job) {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()

	if prev, ok := b.last[job.ID]; ok && job.UpdatedAt.Before(prev) {
		slog.Debug("dropping stale job event", "job_id", job.ID, "state", job.State)
		return
	}
	b.last[job.ID] = job.UpdatedAt
	b.Publish(Event{Type: JobUpdated, JobID: job.ID, Job: &job})
}

// JobDeleted implements store.ChangeNotifier.
func (b *Broker) JobDeleted(id string) {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()

	delete(b.last, id)
	b.Publish(Event{Type: JobDeleted, JobID: id})
}
