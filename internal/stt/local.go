package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// LocalEngine implements Engine against a localhost recognizer server.
// Audio is buffered and posted in flush windows; each window's text is
// appended to a running partial, and Stop emits the accumulated text as the
// session's final result. It works with no network connectivity and is the
// only engine allowed in privacy mode.
type LocalEngine struct {
	url        string
	modelDir   string
	timeout    time.Duration
	flushBytes int
	sampleRate int
	client     *http.Client
	log        zerolog.Logger

	provisioned atomic.Bool
	watcher     *fsnotify.Watcher

	mu        sync.Mutex
	started   bool
	sessionID string
	epoch     time.Time
	buf       bytes.Buffer
	text      strings.Builder
	conf      float64
	confN     int
	results   chan Result
	ctx       context.Context
}

// LocalOptions configures the local engine.
type LocalOptions struct {
	URL        string
	ModelDir   string
	Timeout    time.Duration
	FlushMs    int
	SampleRate int
	Log        zerolog.Logger
}

type recognizerResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// NewLocalEngine creates the local engine and begins watching for the model
// asset. The engine is constructed even when the model directory is absent;
// Start fails with ErrEngineUnavailable until provisioning completes.
func NewLocalEngine(opts LocalOptions) *LocalEngine {
	if opts.SampleRate == 0 {
		opts.SampleRate = 16000
	}
	if opts.FlushMs == 0 {
		opts.FlushMs = 3000
	}
	e := &LocalEngine{
		url:        opts.URL,
		modelDir:   opts.ModelDir,
		timeout:    opts.Timeout,
		sampleRate: opts.SampleRate,
		flushBytes: opts.SampleRate * 2 * opts.FlushMs / 1000, // 16-bit mono PCM
		client:     &http.Client{Timeout: opts.Timeout},
		log:        opts.Log,
	}

	if dirExists(opts.ModelDir) {
		e.provisioned.Store(true)
	} else {
		e.log.Warn().Str("model_dir", opts.ModelDir).Msg("local model not provisioned, watching for it")
		e.watchProvisioning()
	}
	return e
}

func (e *LocalEngine) Source() Source { return SourceLocal }

// Provisioned reports whether the model asset is available.
func (e *LocalEngine) Provisioned() bool { return e.provisioned.Load() }

// watchProvisioning flips the provisioned flag when the model directory
// appears or disappears under the parent directory.
func (e *LocalEngine) watchProvisioning() {
	parent := filepath.Dir(e.modelDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		e.log.Warn().Err(err).Msg("cannot create model parent dir, provisioning watch disabled")
		return
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		e.log.Warn().Err(err).Msg("fsnotify unavailable, provisioning watch disabled")
		return
	}
	if err := w.Add(parent); err != nil {
		e.log.Warn().Err(err).Str("dir", parent).Msg("cannot watch model parent dir")
		w.Close()
		return
	}
	e.watcher = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(e.modelDir) {
					continue
				}
				switch {
				case ev.Op.Has(fsnotify.Create):
					e.provisioned.Store(true)
					e.log.Info().Str("model_dir", e.modelDir).Msg("local model provisioned")
				case ev.Op.Has(fsnotify.Remove), ev.Op.Has(fsnotify.Rename):
					e.provisioned.Store(false)
					e.log.Warn().Str("model_dir", e.modelDir).Msg("local model removed")
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				e.log.Warn().Err(err).Msg("model watcher error")
			}
		}
	}()
}

// Start begins a local transcription session.
func (e *LocalEngine) Start(ctx context.Context, sessionID string, epoch time.Time) error {
	if !e.provisioned.Load() {
		return fmt.Errorf("%w: model not provisioned at %s", ErrEngineUnavailable, e.modelDir)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("local engine: session %s already started", e.sessionID)
	}
	if epoch.IsZero() {
		epoch = time.Now()
	}
	e.started = true
	e.sessionID = sessionID
	e.epoch = epoch
	e.buf.Reset()
	e.text.Reset()
	e.conf = 0
	e.confN = 0
	e.results = make(chan Result, 64)
	e.ctx = ctx

	e.log.Info().Str("session_id", sessionID).Msg("local engine started")
	return nil
}

// Feed buffers one audio chunk and flushes a recognition window when enough
// audio has accumulated. The flush is synchronous so that result ordering
// matches chunk arrival order.
func (e *LocalEngine) Feed(chunk Chunk) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return ErrNotStarted
	}
	e.buf.Write(chunk.Samples)
	if e.buf.Len() < e.flushBytes {
		return nil
	}
	return e.flushLocked()
}

// flushLocked posts the buffered window to the recognizer and emits the
// accumulated text as a partial result. Caller holds e.mu.
func (e *LocalEngine) flushLocked() error {
	if e.buf.Len() == 0 {
		return nil
	}
	audio := make([]byte, e.buf.Len())
	copy(audio, e.buf.Bytes())
	e.buf.Reset()

	resp, err := e.recognize(e.ctx, audio)
	if err != nil {
		return fmt.Errorf("local recognizer: %w", err)
	}
	if t := strings.TrimSpace(resp.Text); t != "" {
		if e.text.Len() > 0 {
			e.text.WriteByte(' ')
		}
		e.text.WriteString(t)
		e.conf += resp.Confidence
		e.confN++
	}

	partial := Result{
		Text:        e.text.String(),
		IsFinal:     false,
		Confidence:  e.avgConfidence(),
		TimestampMs: time.Since(e.epoch).Milliseconds(),
		Source:      SourceLocal,
	}
	select {
	case e.results <- partial:
	default:
	}
	return nil
}

func (e *LocalEngine) recognize(ctx context.Context, audio []byte) (*recognizerResponse, error) {
	url := fmt.Sprintf("%s?sample_rate=%d", e.url, e.sampleRate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(audio))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recognizer request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recognizer error (status %d): %s", resp.StatusCode, string(body))
	}

	var result recognizerResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

func (e *LocalEngine) avgConfidence() float64 {
	if e.confN == 0 {
		return 0
	}
	return e.conf / float64(e.confN)
}

// Stop flushes any remaining buffered audio and returns the accumulated
// session text as the final result.
func (e *LocalEngine) Stop() (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil, ErrNotStarted
	}
	e.started = false

	if err := e.flushLocked(); err != nil {
		e.log.Warn().Err(err).Msg("final flush failed, returning accumulated text")
	}

	final := &Result{
		Text:        e.text.String(),
		IsFinal:     true,
		Confidence:  e.avgConfidence(),
		TimestampMs: time.Since(e.epoch).Milliseconds(),
		Source:      SourceLocal,
	}
	close(e.results)
	e.log.Info().Str("session_id", e.sessionID).Int("chars", len(final.Text)).Msg("local engine stopped")
	return final, nil
}

// Results returns the result stream for the current session.
func (e *LocalEngine) Results() <-chan Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.results
}

// Close stops the provisioning watcher.
func (e *LocalEngine) Close() error {
	if e.watcher != nil {
		return e.watcher.Close()
	}
	return nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
