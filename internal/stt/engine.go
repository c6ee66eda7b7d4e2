// Package stt defines the speech-to-text engine contract and its two
// implementations: a network-backed cloud engine and a fully local one.
package stt

import (
	"context"
	"errors"
	"time"
)

// Source tags which engine produced a result.
type Source string

const (
	SourceNetwork Source = "network"
	SourceLocal   Source = "local"
)

// ErrEngineUnavailable means the engine cannot start (no credentials, no
// provisioned model). The selector degrades instead of failing the session.
var ErrEngineUnavailable = errors.New("transcription engine unavailable")

// ErrNotStarted means Feed or Stop was called without an active session.
var ErrNotStarted = errors.New("engine not started")

// Chunk is one fixed-size frame of mono 16kHz PCM audio from the capture
// layer, tagged with its session.
type Chunk struct {
	SessionID   string
	Samples     []byte
	TimestampMs int64
}

// Result is a partial or final transcription fragment. Partials for a
// session are overwritten by later partials; finals are appended, never
// mutated.
type Result struct {
	Text        string  `json:"text"`
	IsFinal     bool    `json:"is_final"`
	Confidence  float64 `json:"confidence"`
	TimestampMs int64   `json:"timestamp_ms"`
	Source      Source  `json:"source"`
}

// Engine is the uniform adapter contract both engines implement. Start and
// Stop bracket one engine activation; Feed routes audio; Results delivers
// partial and final fragments in non-decreasing timestamp order.
//
// epoch is the session start time. Result timestamps are measured from it
// rather than from engine activation, so they stay monotonic when the session
// is handed over to the other engine. A zero epoch means "now".
//
// Stop returns only recognized speech not yet delivered as a final on the
// result channel; it returns nil when every final was already streamed. The
// consumer appends exactly one of the two, never both.
type Engine interface {
	Start(ctx context.Context, sessionID string, epoch time.Time) error
	Feed(chunk Chunk) error
	Stop() (*Result, error)
	Results() <-chan Result
	Source() Source
}
