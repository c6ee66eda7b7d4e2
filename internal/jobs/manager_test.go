package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/voxdoc/internal/eventbus"
	"github.com/snarg/voxdoc/internal/llm"
	"github.com/snarg/voxdoc/internal/pipeline"
	"github.com/snarg/voxdoc/internal/session"
)

// downLLM fails every call; the pipeline completes on fallbacks alone.
type downLLM struct{}

func (downLLM) Generate(context.Context, string, llm.Options) (string, error) {
	return "", llm.ErrServiceUnavailable
}
func (downLLM) Model() string { return "down" }

type recordingSink struct {
	mu     sync.Mutex
	stored []*session.State
	err    error
	name   string
}

func (s *recordingSink) StoreDocument(_ context.Context, state *session.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.stored = append(s.stored, state)
	return nil
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

func newTestManager(bus *eventbus.Bus, sinks ...Sink) *Manager {
	runner := pipeline.NewRunner(downLLM{}, time.Second, bus, zerolog.Nop())
	return NewManager(runner, bus, zerolog.Nop(), sinks...)
}

func waitStatus(t *testing.T, m *Manager, id string, want Status) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := m.Get(id); ok && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := m.Get(id)
	t.Fatalf("job %s stuck in %s, want %s", id, job.Status, want)
	return Job{}
}

func TestSubmitRunsJobToCompletion(t *testing.T) {
	sink := &recordingSink{name: "test"}
	m := newTestManager(nil, sink)

	job := m.Submit(context.Background(), &session.State{
		SessionID:  "s1",
		Transcript: "we talked about the plan and agreed on next steps",
	})
	if job.Status != StatusRunning {
		t.Fatalf("submitted job status = %s", job.Status)
	}

	done := waitStatus(t, m, job.ID, StatusCompleted)
	if done.Result == nil || done.Result.FinalDocument == "" {
		t.Fatal("completed job carries no document")
	}
	if done.FinishedAt == nil {
		t.Fatal("completed job has no finish time")
	}
	m.Wait()
	if sink.count() != 1 {
		t.Fatalf("sink stored %d documents, want 1", sink.count())
	}
}

func TestEmptyTranscriptFailsJob(t *testing.T) {
	sink := &recordingSink{name: "test"}
	m := newTestManager(nil, sink)

	job := m.Submit(context.Background(), &session.State{SessionID: "s1", Transcript: "  "})

	failed := waitStatus(t, m, job.ID, StatusFailed)
	if failed.Error == "" {
		t.Fatal("failed job has no error message")
	}
	m.Wait()
	if sink.count() != 0 {
		t.Fatal("failed job must not reach sinks")
	}
}

func TestSinkFailureBecomesWarning(t *testing.T) {
	sink := &recordingSink{name: "flaky", err: errors.New("connection refused")}
	m := newTestManager(nil, sink)

	job := m.Submit(context.Background(), &session.State{
		SessionID:  "s1",
		Transcript: "a perfectly fine session transcript",
	})

	done := waitStatus(t, m, job.ID, StatusCompleted)
	m.Wait()

	done, _ = m.Get(job.ID)
	found := false
	for _, w := range done.Result.Warnings {
		if w == "sink flaky: connection refused" {
			found = true
		}
	}
	if !found {
		t.Fatalf("sink failure not recorded as warning: %v", done.Result.Warnings)
	}
}

func TestJobCompletedEventPublished(t *testing.T) {
	bus := eventbus.New(64)
	events, cancel := bus.Subscribe(eventbus.Filter{Types: []string{eventbus.TypeJobCompleted}})
	defer cancel()

	m := newTestManager(bus)
	job := m.Submit(context.Background(), &session.State{
		SessionID:  "s1",
		Transcript: "a session worth documenting",
	})

	select {
	case e := <-events:
		var payload completedEvent
		if err := json.Unmarshal(e.Data, &payload); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if payload.JobID != job.ID || payload.Status != StatusCompleted {
			t.Fatalf("payload = %+v", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no job-completed event")
	}
}

func TestGetReturnsDetachedResult(t *testing.T) {
	m := newTestManager(nil)
	job := m.Submit(context.Background(), &session.State{
		SessionID:  "s1",
		Transcript: "a short talk about nothing in particular",
	})
	done := waitStatus(t, m, job.ID, StatusCompleted)
	m.Wait()

	// The snapshot must not share Result with the stored job: the sink loop
	// appends warnings to the stored copy after completion.
	done.Result.Warnings = append(done.Result.Warnings, "mutated by caller")
	done.Result.FinalDocument = "scribbled over"

	fresh, ok := m.Get(job.ID)
	if !ok {
		t.Fatal("job vanished")
	}
	if fresh.Result == done.Result {
		t.Fatal("Get handed out a shared Result pointer")
	}
	if fresh.Result.FinalDocument == "scribbled over" {
		t.Fatal("caller mutation leaked into the stored job")
	}
	for _, w := range fresh.Result.Warnings {
		if w == "mutated by caller" {
			t.Fatal("caller mutation leaked into the stored job")
		}
	}
}

func TestGetUnknownJob(t *testing.T) {
	m := newTestManager(nil)
	if _, ok := m.Get("nope"); ok {
		t.Fatal("unknown job id must not resolve")
	}
}

func TestListNewestFirst(t *testing.T) {
	m := newTestManager(nil)
	first := m.Submit(context.Background(), &session.State{SessionID: "s1", Transcript: "one"})
	time.Sleep(5 * time.Millisecond)
	second := m.Submit(context.Background(), &session.State{SessionID: "s2", Transcript: "two"})

	waitStatus(t, m, first.ID, StatusCompleted)
	waitStatus(t, m, second.ID, StatusCompleted)

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("got %d jobs", len(list))
	}
	if list[0].ID != second.ID {
		t.Fatalf("list not newest-first: %s before %s", list[0].ID, list[1].ID)
	}
}
