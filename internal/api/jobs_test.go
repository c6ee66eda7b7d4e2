package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/voxdoc/internal/eventbus"
	"github.com/snarg/voxdoc/internal/jobs"
	"github.com/snarg/voxdoc/internal/pipeline"
	"github.com/snarg/voxdoc/internal/session"
)

func newJobsFixture(t *testing.T) (*jobs.Manager, http.Handler) {
	t.Helper()
	bus := eventbus.New(16)
	runner := pipeline.NewRunner(downLLM{}, time.Second, bus, zerolog.Nop())
	mgr := jobs.NewManager(runner, bus, zerolog.Nop())

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) { NewJobsHandler(mgr).Routes(r) })
	return mgr, r
}

func submitAndWait(t *testing.T, mgr *jobs.Manager, transcript string) jobs.Job {
	t.Helper()
	job := mgr.Submit(context.Background(), &session.State{SessionID: "s1", Transcript: transcript})
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if j, ok := mgr.Get(job.ID); ok && j.Status != jobs.StatusRunning {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never finished")
	return jobs.Job{}
}

func TestGetJob(t *testing.T) {
	mgr, router := newJobsFixture(t)
	job := submitAndWait(t, mgr, "a session about scheduling")

	req := httptest.NewRequest("GET", "/api/v1/jobs/"+job.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got jobs.Job
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if got.ID != job.ID || got.Status != jobs.StatusCompleted {
		t.Fatalf("job = %+v", got)
	}
}

func TestGetJobNotFound(t *testing.T) {
	_, router := newJobsFixture(t)

	req := httptest.NewRequest("GET", "/api/v1/jobs/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestGetDocumentServesMarkdown(t *testing.T) {
	mgr, router := newJobsFixture(t)
	job := submitAndWait(t, mgr, "a session about quarterly planning goals")

	req := httptest.NewRequest("GET", "/api/v1/jobs/"+job.ID+"/document", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Fatalf("content type = %s", ct)
	}
	if !strings.Contains(rec.Body.String(), "# ") {
		t.Fatal("document body does not look like Markdown")
	}
}

func TestGetDocumentBeforeCompletion(t *testing.T) {
	mgr, router := newJobsFixture(t)
	// An empty transcript fails the job; the document endpoint must refuse.
	job := submitAndWait(t, mgr, "   ")

	req := httptest.NewRequest("GET", "/api/v1/jobs/"+job.ID+"/document", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestListJobs(t *testing.T) {
	mgr, router := newJobsFixture(t)
	submitAndWait(t, mgr, "one session")
	submitAndWait(t, mgr, "another session")

	req := httptest.NewRequest("GET", "/api/v1/jobs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Jobs []jobs.Job `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(resp.Jobs) != 2 {
		t.Fatalf("got %d jobs", len(resp.Jobs))
	}
}
