// Package jobs tracks every submitted job and enforces its lifecycle:
// queued → processing → {completed, failed, cancelled}, with
// monotonically non-decreasing progress while processing. Terminal
// states are final.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/EdisAganovic/musicremoval/internal/types"
)

// ErrNotFound is returned for unknown job ids.
var ErrNotFound = errors.New("job not found")

// ErrAlreadyTerminal is returned when cancelling a finished job.
var ErrAlreadyTerminal = errors.New("already_terminal")

// Job is the mutable record owned by the worker running it. External
// readers only ever see snapshots.
type Job struct {
	ID          string
	Kind        string
	Input       string
	Model       string
	Status      string
	Progress    float64
	CurrentStep string
	ResultFiles []string
	Metadata    *types.MediaProbe
	Error       string
	CreatedAt   time.Time
	cancel      context.CancelFunc
}

func terminal(status string) bool {
	switch status {
	case types.StatusCompleted, types.StatusFailed, types.StatusCancelled:
		return true
	}
	return false
}

// Manager is the guarded job table. The pipeline mutates jobs through
// it; HTTP handlers read snapshots.
type Manager struct {
	mu     sync.RWMutex
	jobs   map[string]*Job
	events *EventBus
}

func NewManager(events *EventBus) *Manager {
	return &Manager{jobs: make(map[string]*Job), events: events}
}

// Create registers a queued job and returns it.
func (m *Manager) Create(id, kind, input, model string) *Job {
	job := &Job{
		ID:        id,
		Kind:      kind,
		Input:     input,
		Model:     model,
		Status:    types.StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()
	m.publish(job, "Queued")
	return job
}

// BindCancel attaches the cancel function for the job's run context.
func (m *Manager) BindCancel(id string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.cancel = cancel
	}
}

// Start moves a queued job to processing.
func (m *Manager) Start(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || terminal(job.Status) {
		return
	}
	job.Status = types.StatusProcessing
}

// SetMetadata stores the probe snapshot taken at the head of the run.
func (m *Manager) SetMetadata(id string, probe *types.MediaProbe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		job.Metadata = probe
	}
}

// Progress updates progress and step. Progress never decreases within a
// run; stale or out-of-order callback values are clamped.
func (m *Manager) Progress(id string, pct float64, step string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || terminal(job.Status) {
		m.mu.Unlock()
		return
	}
	if pct > job.Progress {
		job.Progress = pct
	}
	if step != "" {
		job.CurrentStep = step
	}
	m.mu.Unlock()
	m.publishByID(id)
}

// Complete marks the job finished with its result paths.
func (m *Manager) Complete(id string, resultFiles []string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || terminal(job.Status) {
		m.mu.Unlock()
		return
	}
	job.Status = types.StatusCompleted
	job.Progress = 100
	job.CurrentStep = "Finished"
	job.ResultFiles = append([]string(nil), resultFiles...)
	m.mu.Unlock()
	m.publishByID(id)
}

// Fail marks the job failed, or cancelled when the error is a
// cancellation.
func (m *Manager) Fail(id string, err error) {
	status := types.StatusFailed
	if errors.Is(err, context.Canceled) || types.KindOf(err) == types.KindCancelled {
		status = types.StatusCancelled
	}
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || terminal(job.Status) {
		m.mu.Unlock()
		return
	}
	job.Status = status
	if status == types.StatusCancelled {
		job.CurrentStep = "Cancelled"
	} else {
		job.CurrentStep = "Failed: " + err.Error()
		job.Error = err.Error()
	}
	m.mu.Unlock()
	m.publishByID(id)
}

// Cancel requests cancellation of a live job. Terminal jobs reject the
// request with ErrAlreadyTerminal.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if terminal(job.Status) {
		m.mu.Unlock()
		return ErrAlreadyTerminal
	}
	cancel := job.cancel
	queued := job.Status == types.StatusQueued
	if queued {
		// Never picked up by a worker; finish it here.
		job.Status = types.StatusCancelled
		job.CurrentStep = "Cancelled"
	}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if queued {
		m.publishByID(id)
	}
	return nil
}

// Snapshot returns an immutable view of one job.
func (m *Manager) Snapshot(id string) (types.JobSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return types.JobSnapshot{}, ErrNotFound
	}
	return snapshotLocked(job), nil
}

// List returns snapshots of all jobs, optionally filtered by kind.
func (m *Manager) List(kind string) []types.JobSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.JobSnapshot, 0, len(m.jobs))
	for _, job := range m.jobs {
		if kind != "" && job.Kind != kind {
			continue
		}
		out = append(out, snapshotLocked(job))
	}
	return out
}

func snapshotLocked(job *Job) types.JobSnapshot {
	return types.JobSnapshot{
		TaskID:      job.ID,
		Kind:        job.Kind,
		Status:      job.Status,
		Progress:    int(job.Progress),
		CurrentStep: job.CurrentStep,
		ResultFiles: append([]string(nil), job.ResultFiles...),
		Metadata:    job.Metadata,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
	}
}

func (m *Manager) publishByID(id string) {
	snap, err := m.Snapshot(id)
	if err != nil {
		return
	}
	m.events.Publish(Event{JobID: id, Status: snap.Status, Progress: snap.Progress, Step: snap.CurrentStep})
}

func (m *Manager) publish(job *Job, step string) {
	m.events.Publish(Event{JobID: job.ID, Status: job.Status, Progress: int(job.Progress), Step: step})
}
