package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/voxdoc/internal/config"
	"github.com/snarg/voxdoc/internal/eventbus"
	"github.com/snarg/voxdoc/internal/jobs"
	"github.com/snarg/voxdoc/internal/llm"
	"github.com/snarg/voxdoc/internal/pipeline"
	"github.com/snarg/voxdoc/internal/selector"
	"github.com/snarg/voxdoc/internal/stt"
)

// stubSelector fakes the selector actor for handler tests.
type stubSelector struct {
	mu         sync.Mutex
	active     bool
	privacy    bool
	transcript selector.Transcript
}

func (s *stubSelector) StartSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return selector.ErrAlreadyActive
	}
	s.active = true
	s.transcript.SessionID = sessionID
	return nil
}

func (s *stubSelector) StopSession() (selector.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return selector.Transcript{}, selector.ErrNoActiveSession
	}
	s.active = false
	return s.transcript, nil
}

func (s *stubSelector) SetPrivacyMode(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.privacy = enabled
	return nil
}

func (s *stubSelector) Status() selector.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := selector.Status{Active: s.active, Online: true, PrivacyMode: s.privacy}
	if s.active {
		st.State = selector.StateNetworkActive
		st.Engine = stt.SourceNetwork
	} else {
		st.State = selector.StateIdle
	}
	return st
}

type stubAudio struct {
	mu     sync.Mutex
	chunks []stt.Chunk
	full   bool
}

func (a *stubAudio) Push(chunk stt.Chunk) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.full {
		return false
	}
	a.chunks = append(a.chunks, chunk)
	return true
}

func (a *stubAudio) Dropped() int64 { return 0 }

type downLLM struct{}

func (downLLM) Generate(context.Context, string, llm.Options) (string, error) {
	return "", llm.ErrServiceUnavailable
}
func (downLLM) Model() string { return "down" }

func newTestHandler(sel *stubSelector) (*SessionsHandler, *jobs.Manager, *stubAudio) {
	bus := eventbus.New(16)
	runner := pipeline.NewRunner(downLLM{}, time.Second, bus, zerolog.Nop())
	mgr := jobs.NewManager(runner, bus, zerolog.Nop())
	audio := &stubAudio{}
	cfg := &config.Config{
		GenerateDiagrams: true,
		TargetAudience:   "general",
		DocumentStyle:    "report",
		MaxSectionWords:  350,
		LLMModel:         "llama3.1:8b",
	}
	return NewSessionsHandler(sel, mgr, audio, cfg), mgr, audio
}

func testRouter(h *SessionsHandler) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) { h.Routes(r) })
	return r
}

func TestStartSession(t *testing.T) {
	sel := &stubSelector{}
	h, _, _ := newTestHandler(sel)
	router := testRouter(h)

	req := httptest.NewRequest("POST", "/api/v1/sessions", strings.NewReader(`{"session_id":"s1"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp startSessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if resp.SessionID != "s1" || !resp.Status.Active {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestStartSessionGeneratesID(t *testing.T) {
	sel := &stubSelector{}
	h, _, _ := newTestHandler(sel)
	router := testRouter(h)

	req := httptest.NewRequest("POST", "/api/v1/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp startSessionResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !strings.HasPrefix(resp.SessionID, "session-") {
		t.Fatalf("generated id = %q", resp.SessionID)
	}
}

func TestStartSessionConflict(t *testing.T) {
	sel := &stubSelector{active: true}
	h, _, _ := newTestHandler(sel)
	router := testRouter(h)

	req := httptest.NewRequest("POST", "/api/v1/sessions", strings.NewReader(`{"session_id":"s2"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestStopSessionSubmitsJob(t *testing.T) {
	sel := &stubSelector{
		active: true,
		transcript: selector.Transcript{
			SessionID: "s1",
			Text:      "we agreed on the plan and the next steps",
			Finals: []stt.Result{
				{Text: "we agreed on the plan", IsFinal: true, TimestampMs: 100},
				{Text: "and the next steps", IsFinal: true, TimestampMs: 2100},
			},
		},
	}
	h, mgr, _ := newTestHandler(sel)
	router := testRouter(h)

	req := httptest.NewRequest("DELETE", "/api/v1/sessions/current", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp stopSessionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if resp.Finals != 2 || resp.Job.ID == "" || resp.Job.SessionID != "s1" {
		t.Fatalf("resp = %+v", resp)
	}

	// The submitted job runs to completion in the background.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job, ok := mgr.Get(resp.Job.ID); ok && job.Status == jobs.StatusCompleted {
			if job.Result.FinalDocument == "" {
				t.Fatal("job completed without a document")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never completed")
}

func TestStopSessionWithoutActive(t *testing.T) {
	sel := &stubSelector{}
	h, _, _ := newTestHandler(sel)
	router := testRouter(h)

	req := httptest.NewRequest("DELETE", "/api/v1/sessions/current", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestSetPrivacy(t *testing.T) {
	sel := &stubSelector{}
	h, _, _ := newTestHandler(sel)
	router := testRouter(h)

	req := httptest.NewRequest("PATCH", "/api/v1/sessions/current/privacy", strings.NewReader(`{"enabled":true}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !sel.privacy {
		t.Fatal("privacy mode not applied")
	}
}

func TestFeedAudio(t *testing.T) {
	sel := &stubSelector{active: true}
	h, _, audio := newTestHandler(sel)
	router := testRouter(h)

	frame := bytes.Repeat([]byte{0x01, 0x02}, 160)
	req := httptest.NewRequest("POST", "/api/v1/sessions/current/audio?session_id=s1&timestamp_ms=250", bytes.NewReader(frame))
	req.Header.Set("Content-Type", "application/octet-stream")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	audio.mu.Lock()
	defer audio.mu.Unlock()
	if len(audio.chunks) != 1 {
		t.Fatalf("got %d chunks", len(audio.chunks))
	}
	c := audio.chunks[0]
	if c.SessionID != "s1" || c.TimestampMs != 250 || len(c.Samples) != len(frame) {
		t.Fatalf("chunk = %+v", c)
	}
}

func TestFeedAudioRejectsEmptyFrame(t *testing.T) {
	sel := &stubSelector{}
	h, _, _ := newTestHandler(sel)
	router := testRouter(h)

	req := httptest.NewRequest("POST", "/api/v1/sessions/current/audio", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestGetStatus(t *testing.T) {
	sel := &stubSelector{active: true}
	h, _, _ := newTestHandler(sel)
	router := testRouter(h)

	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if !resp.Active || resp.State != selector.StateNetworkActive {
		t.Fatalf("resp = %+v", resp)
	}
}
