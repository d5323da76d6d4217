package models

import (
	"errors"
	"fmt"
	"time"
)

// JobState is the lifecycle state of a generation job.
type JobState string

const (
	JobStatePending    JobState = "PENDING"
	JobStateUploading  JobState = "UPLOADING"
	JobStateSubmitting JobState = "SUBMITTING"
	JobStateInQueue    JobState = "IN_QUEUE"
	JobStateInProgress JobState = "IN_PROGRESS"
	JobStateCompleted  JobState = "COMPLETED"
	JobStateFailed     JobState = "FAILED"
)

// stateRank orders states for the forward-only rule. Terminal states share the top rank.
var stateRank = map[JobState]int{
	JobStatePending:    0,
	JobStateUploading:  1,
	JobStateSubmitting: 2,
	JobStateInQueue:    3,
	JobStateInProgress: 4,
	JobStateCompleted:  5,
	JobStateFailed:     5,
}

// Valid reports whether s is a known state.
func (s JobState) Valid() bool {
	_, ok := stateRank[s]
	return ok
}

// IsTerminal reports whether no further transitions are permitted from s.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// CanTransition reports whether a record in state s may move to next.
// Polling states may be re-entered to refresh queue position.
func (s JobState) CanTransition(next JobState) bool {
	if !s.Valid() || !next.Valid() || s.IsTerminal() {
		return false
	}
	if next == s {
		return s == JobStateInQueue || s == JobStateInProgress
	}
	return stateRank[next] > stateRank[s]
}

// NonTerminalStates lists the states a job may be polled or resumed from.
func NonTerminalStates() []JobState {
	return []JobState{
		JobStatePending,
		JobStateUploading,
		JobStateSubmitting,
		JobStateInQueue,
		JobStateInProgress,
	}
}

var (
	ErrTerminalJob       = errors.New("job is in a terminal state")
	ErrInvalidTransition = errors.New("invalid job state transition")
	ErrMissingHandle     = errors.New("provider handle required before leaving SUBMITTING")
	ErrResultURL         = errors.New("result url must be set exactly when the job is COMPLETED")
)

// Job is the durable record of one generation request. It is created PENDING, mutated only
// by the submission pipeline and the status poller, and deleted only on explicit request.
type Job struct {
	ID               string     `json:"id"`
	TemplateID       string     `json:"templateId"`
	TemplateName     string     `json:"templateName"`
	State            JobState   `json:"state"`
	ProviderHandle   string     `json:"providerHandle,omitempty"`
	ProviderEndpoint string     `json:"providerEndpoint,omitempty"`
	QueuePosition    *int       `json:"queuePosition,omitempty"`
	InputURL         string     `json:"inputUrl,omitempty"`
	ResultURL        string     `json:"resultUrl,omitempty"`
	ErrorMessage     string     `json:"errorMessage,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// JobPatch is a partial update. Nil fields are left unchanged.
type JobPatch struct {
	State            *JobState
	ProviderHandle   *string
	ProviderEndpoint *string
	QueuePosition    *int
	InputURL         *string
	ResultURL        *string
	ErrorMessage     *string
}

// Apply validates p against the record invariants and returns the patched copy.
// The receiver is never modified.
func (j Job) Apply(p JobPatch, now time.Time) (Job, error) {
	if j.State.IsTerminal() {
		return j, fmt.Errorf("%w: %s is %s", ErrTerminalJob, j.ID, j.State)
	}

	next := j
	if p.State != nil && *p.State != j.State {
		if !j.State.CanTransition(*p.State) {
			return j, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, *p.State)
		}
		next.State = *p.State
	}

	if p.ProviderHandle != nil {
		next.ProviderHandle = *p.ProviderHandle
	}
	if p.ProviderEndpoint != nil {
		next.ProviderEndpoint = *p.ProviderEndpoint
	}
	if p.QueuePosition != nil {
		pos := *p.QueuePosition
		next.QueuePosition = &pos
	}
	if p.InputURL != nil {
		next.InputURL = *p.InputURL
	}
	if p.ResultURL != nil {
		next.ResultURL = *p.ResultURL
	}
	if p.ErrorMessage != nil {
		next.ErrorMessage = *p.ErrorMessage
	}

	if stateRank[next.State] > stateRank[JobStateSubmitting] && next.State != JobStateFailed && next.ProviderHandle == "" {
		return j, ErrMissingHandle
	}
	if (next.ResultURL != "") != (next.State == JobStateCompleted) {
		return j, ErrResultURL
	}

	if next.State != JobStateInQueue {
		next.QueuePosition = nil
	}
	next.UpdatedAt = now
	if next.State.IsTerminal() {
		done := now
		next.CompletedAt = &done
	}
	return next, nil
}
