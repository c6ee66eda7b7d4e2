// Package jobs tracks document-generation jobs. A job wraps one pipeline run
// over a finalized session and fans the completed document out to the
// configured sinks.
package jobs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/voxdoc/internal/eventbus"
	"github.com/snarg/voxdoc/internal/metrics"
	"github.com/snarg/voxdoc/internal/pipeline"
	"github.com/snarg/voxdoc/internal/session"
)

// Status is a job's lifecycle phase.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is one document-generation run. Result is populated only once Status
// is completed.
type Job struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Status     Status         `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Error      string         `json:"error,omitempty"`
	Result     *session.State `json:"result,omitempty"`
}

// Sink receives completed documents. Sink failures are logged and recorded
// as job warnings; they never fail the job.
type Sink interface {
	StoreDocument(ctx context.Context, state *session.State) error
	Name() string
}

// Manager owns the job table and runs pipelines in the background.
type Manager struct {
	runner *pipeline.Runner
	bus    *eventbus.Bus
	sinks  []Sink
	log    zerolog.Logger

	mu   sync.RWMutex
	jobs map[string]*Job

	wg sync.WaitGroup
}

func NewManager(runner *pipeline.Runner, bus *eventbus.Bus, log zerolog.Logger, sinks ...Sink) *Manager {
	return &Manager{
		runner: runner,
		bus:    bus,
		sinks:  sinks,
		log:    log,
		jobs:   make(map[string]*Job),
	}
}

// completedEvent is the job-completed payload.
type completedEvent struct {
	JobID              string `json:"job_id"`
	Status             Status `json:"status"`
	CognitiveLoadIndex int    `json:"cognitive_load_index"`
	Warnings           int    `json:"warnings"`
}

// Submit registers a job for the session state and runs the pipeline in the
// background. The returned snapshot reflects the job at submission time.
func (m *Manager) Submit(ctx context.Context, state *session.State) Job {
	job := &Job{
		ID:        newJobID(),
		SessionID: state.SessionID,
		Status:    StatusRunning,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	// Snapshot before the run goroutine can touch the job.
	snap := job.snapshot()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, job.ID, state)
	}()

	return snap
}

// snapshot copies the job for handing outside the lock. Result is cloned
// because the sink loop may still append warnings to the stored copy.
func (j *Job) snapshot() Job {
	out := *j
	if j.Result != nil {
		out.Result = j.Result.Clone()
	}
	return out
}

func (m *Manager) run(ctx context.Context, jobID string, state *session.State) {
	out, err := m.runner.Run(ctx, jobID, state)

	now := time.Now().UTC()
	m.mu.Lock()
	job := m.jobs[jobID]
	job.FinishedAt = &now
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
	} else {
		job.Status = StatusCompleted
		job.Result = out
	}
	status := job.Status
	m.mu.Unlock()

	if err != nil {
		m.log.Error().Err(err).Str("job_id", jobID).Str("session_id", state.SessionID).Msg("job failed")
		m.publishCompleted(jobID, state.SessionID, status, 0, len(state.Warnings))
		return
	}

	metrics.DocumentsCompletedTotal.Inc()

	for _, sink := range m.sinks {
		if serr := sink.StoreDocument(ctx, out); serr != nil {
			m.log.Warn().Err(serr).Str("sink", sink.Name()).Str("job_id", jobID).
				Msg("document sink failed")
			m.mu.Lock()
			job.Result.Warnings = append(job.Result.Warnings, "sink "+sink.Name()+": "+serr.Error())
			m.mu.Unlock()
		}
	}

	m.publishCompleted(jobID, state.SessionID, status, out.CognitiveLoadIndex, len(out.Warnings))
}

func (m *Manager) publishCompleted(jobID, sessionID string, status Status, score, warnings int) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.TypeJobCompleted, sessionID, completedEvent{
		JobID:              jobID,
		Status:             status,
		CognitiveLoadIndex: score,
		Warnings:           warnings,
	})
}

// Get returns a snapshot of the job.
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.snapshot(), true
}

// List returns snapshots of all known jobs, newest first.
func (m *Manager) List() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Wait blocks until all in-flight jobs finish. Used during shutdown.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func newJobID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "job-" + hex.EncodeToString([]byte(time.Now().Format("150405.000")))
	}
	return "job-" + hex.EncodeToString(b)
}
