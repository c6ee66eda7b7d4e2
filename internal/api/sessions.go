package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/snarg/voxdoc/internal/config"
	"github.com/snarg/voxdoc/internal/jobs"
	"github.com/snarg/voxdoc/internal/selector"
	"github.com/snarg/voxdoc/internal/session"
	"github.com/snarg/voxdoc/internal/stt"
)

// Transcriber is the selector surface the session endpoints use.
type Transcriber interface {
	StartSession(sessionID string) error
	StopSession() (selector.Transcript, error)
	SetPrivacyMode(enabled bool) error
	Status() selector.Status
}

// AudioSink receives raw capture frames.
type AudioSink interface {
	Push(chunk stt.Chunk) bool
	Dropped() int64
}

type SessionsHandler struct {
	sel   Transcriber
	mgr   *jobs.Manager
	audio AudioSink
	cfg   *config.Config
}

func NewSessionsHandler(sel Transcriber, mgr *jobs.Manager, audio AudioSink, cfg *config.Config) *SessionsHandler {
	return &SessionsHandler{sel: sel, mgr: mgr, audio: audio, cfg: cfg}
}

// Routes registers session routes on the given router.
func (h *SessionsHandler) Routes(r chi.Router) {
	r.Post("/sessions", h.StartSession)
	r.Delete("/sessions/current", h.StopSession)
	r.Patch("/sessions/current/privacy", h.SetPrivacy)
	r.Post("/sessions/current/audio", h.FeedAudio)
	r.Get("/status", h.GetStatus)
}

type startSessionRequest struct {
	SessionID string `json:"session_id"`
}

type startSessionResponse struct {
	SessionID string          `json:"session_id"`
	Status    selector.Status `json:"status"`
}

func (h *SessionsHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if r.ContentLength > 0 {
		if err := DecodeJSON(r, &req); err != nil {
			WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}
	if req.SessionID == "" {
		req.SessionID = newSessionID()
	}

	if err := h.sel.StartSession(req.SessionID); err != nil {
		if errors.Is(err, selector.ErrAlreadyActive) {
			WriteError(w, http.StatusConflict, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusCreated, startSessionResponse{
		SessionID: req.SessionID,
		Status:    h.sel.Status(),
	})
}

type stopSessionResponse struct {
	SessionID  string   `json:"session_id"`
	Transcript string   `json:"transcript"`
	Finals     int      `json:"finals"`
	Job        jobs.Job `json:"job"`
}

// StopSession finalizes the transcript and submits a document-generation
// job. The job runs in the background; poll /jobs/{id} or subscribe to the
// event stream for completion.
func (h *SessionsHandler) StopSession(w http.ResponseWriter, r *http.Request) {
	tr, err := h.sel.StopSession()
	if err != nil {
		if errors.Is(err, selector.ErrNoActiveSession) {
			WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The job outlives this request; it must not inherit the request context.
	state := h.newState(tr)
	job := h.mgr.Submit(context.Background(), state)

	WriteJSON(w, http.StatusAccepted, stopSessionResponse{
		SessionID:  tr.SessionID,
		Transcript: tr.Text,
		Finals:     len(tr.Finals),
		Job:        job,
	})
}

// newState seeds the pipeline state from the transcript and configured
// generation defaults.
func (h *SessionsHandler) newState(tr selector.Transcript) *session.State {
	segments := make([]session.Segment, 0, len(tr.Finals))
	for _, f := range tr.Finals {
		segments = append(segments, session.Segment{
			Text:        f.Text,
			TimestampMs: f.TimestampMs,
			Confidence:  f.Confidence,
		})
	}
	return &session.State{
		SessionID:  tr.SessionID,
		Transcript: tr.Text,
		Segments:   segments,
		Config: session.Config{
			GenerateDiagrams: h.cfg.GenerateDiagrams,
			TargetAudience:   session.Audience(h.cfg.TargetAudience),
			DocumentStyle:    session.Style(h.cfg.DocumentStyle),
			MaxSectionWords:  h.cfg.MaxSectionWords,
			ModelProvider:    "ollama",
			ModelName:        h.cfg.LLMModel,
		},
	}
}

type privacyRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *SessionsHandler) SetPrivacy(w http.ResponseWriter, r *http.Request) {
	var req privacyRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.sel.SetPrivacyMode(req.Enabled); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, h.sel.Status())
}

// maxAudioFrame caps one POSTed frame at 1 MiB.
const maxAudioFrame = 1 << 20

// FeedAudio accepts one raw PCM frame (application/octet-stream) and queues
// it for the active engine. Frames posted with no active session are dropped
// downstream; the endpoint stays cheap either way.
func (h *SessionsHandler) FeedAudio(w http.ResponseWriter, r *http.Request) {
	samples, err := io.ReadAll(io.LimitReader(r.Body, maxAudioFrame+1))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "reading audio frame failed")
		return
	}
	if len(samples) == 0 {
		WriteError(w, http.StatusBadRequest, "empty audio frame")
		return
	}
	if len(samples) > maxAudioFrame {
		WriteError(w, http.StatusRequestEntityTooLarge, "audio frame too large")
		return
	}

	ts, _ := QueryInt64(r, "timestamp_ms")
	chunk := stt.Chunk{Samples: samples, TimestampMs: ts}
	if sid, ok := QueryString(r, "session_id"); ok {
		chunk.SessionID = sid
	}

	accepted := h.audio.Push(chunk)
	WriteJSON(w, http.StatusAccepted, map[string]any{
		"accepted": accepted,
		"dropped":  h.audio.Dropped(),
	})
}

type statusResponse struct {
	selector.Status
	DroppedFrames int64 `json:"dropped_frames"`
}

func (h *SessionsHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, statusResponse{
		Status:        h.sel.Status(),
		DroppedFrames: h.audio.Dropped(),
	})
}

func newSessionID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "session-" + hex.EncodeToString([]byte(time.Now().Format("150405.000")))
	}
	return "session-" + hex.EncodeToString(b)
}
