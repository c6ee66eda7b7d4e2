package stt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestLocalEngine(t *testing.T, serverURL string, flushMs int) *LocalEngine {
	t.Helper()
	modelDir := filepath.Join(t.TempDir(), "model")
	mustMkdir(t, modelDir)
	return NewLocalEngine(LocalOptions{
		URL:      serverURL,
		ModelDir: modelDir,
		Timeout:  2 * time.Second,
		FlushMs:  flushMs,
		Log:      zerolog.Nop(),
	})
}

func mustMkdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestLocalEngine_UnprovisionedStartFails(t *testing.T) {
	e := NewLocalEngine(LocalOptions{
		URL:      "http://127.0.0.1:0",
		ModelDir: filepath.Join(t.TempDir(), "missing-model"),
		Timeout:  time.Second,
		Log:      zerolog.Nop(),
	})
	defer e.Close()

	err := e.Start(context.Background(), "s1", time.Time{})
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("Start err = %v, want ErrEngineUnavailable", err)
	}
}

func TestLocalEngine_ProvisioningWatcher(t *testing.T) {
	parent := t.TempDir()
	modelDir := filepath.Join(parent, "model")

	e := NewLocalEngine(LocalOptions{
		URL:      "http://127.0.0.1:0",
		ModelDir: modelDir,
		Timeout:  time.Second,
		Log:      zerolog.Nop(),
	})
	defer e.Close()

	if e.Provisioned() {
		t.Fatal("engine should start unprovisioned")
	}

	mustMkdir(t, modelDir)

	deadline := time.After(2 * time.Second)
	for !e.Provisioned() {
		select {
		case <-deadline:
			t.Fatal("watcher did not detect model provisioning")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestLocalEngine_FeedFlushesWindows(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		fmt.Fprintf(w, `{"text":"segment %d","confidence":0.8}`, n)
	}))
	defer srv.Close()

	// FlushMs=1 → flushBytes=32, so a 64-byte chunk flushes immediately.
	e := newTestLocalEngine(t, srv.URL, 1)
	defer e.Close()

	if err := e.Start(context.Background(), "s1", time.Time{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	results := e.Results()

	if err := e.Feed(Chunk{SessionID: "s1", Samples: make([]byte, 64)}); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	select {
	case r := <-results:
		if r.IsFinal {
			t.Error("flush should emit a partial, not a final")
		}
		if r.Text != "segment 1" {
			t.Errorf("partial text = %q, want %q", r.Text, "segment 1")
		}
		if r.Source != SourceLocal {
			t.Errorf("Source = %q, want local", r.Source)
		}
	case <-time.After(time.Second):
		t.Fatal("no partial result after flush")
	}

	if err := e.Feed(Chunk{SessionID: "s1", Samples: make([]byte, 64)}); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	select {
	case r := <-results:
		if r.Text != "segment 1 segment 2" {
			t.Errorf("accumulated partial = %q, want %q", r.Text, "segment 1 segment 2")
		}
	case <-time.After(time.Second):
		t.Fatal("no second partial result")
	}
}

func TestLocalEngine_TimestampsMeasuredFromEpoch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"text":"hi","confidence":0.5}`)
	}))
	defer srv.Close()

	e := newTestLocalEngine(t, srv.URL, 1)
	defer e.Close()

	// An epoch in the past stands in for a mid-session engine takeover.
	epoch := time.Now().Add(-5 * time.Second)
	if err := e.Start(context.Background(), "s1", epoch); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Feed(Chunk{SessionID: "s1", Samples: make([]byte, 64)}); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	select {
	case r := <-e.Results():
		if r.TimestampMs < 5000 {
			t.Errorf("TimestampMs = %d, want measured from the given epoch", r.TimestampMs)
		}
	case <-time.After(time.Second):
		t.Fatal("no partial result after flush")
	}

	final, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if final.TimestampMs < 5000 {
		t.Errorf("final TimestampMs = %d, want measured from the given epoch", final.TimestampMs)
	}
}

func TestLocalEngine_StopEmitsAccumulatedFinal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"text":"hello world","confidence":0.9}`)
	}))
	defer srv.Close()

	e := newTestLocalEngine(t, srv.URL, 1)
	defer e.Close()

	if err := e.Start(context.Background(), "s1", time.Time{}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Leave audio below the flush threshold so Stop performs the flush.
	if err := e.Feed(Chunk{SessionID: "s1", Samples: make([]byte, 16)}); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	final, err := e.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !final.IsFinal {
		t.Error("Stop must return a final result")
	}
	if final.Text != "hello world" {
		t.Errorf("final text = %q, want %q", final.Text, "hello world")
	}
	if final.Confidence != 0.9 {
		t.Errorf("final confidence = %v, want 0.9", final.Confidence)
	}

	// Result channel must be closed after Stop; draining must terminate.
	for range e.Results() {
	}
}

func TestLocalEngine_FeedBeforeStart(t *testing.T) {
	e := newTestLocalEngine(t, "http://127.0.0.1:0", 1)
	defer e.Close()

	if err := e.Feed(Chunk{Samples: []byte{0}}); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Feed err = %v, want ErrNotStarted", err)
	}
	if _, err := e.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop err = %v, want ErrNotStarted", err)
	}
}
