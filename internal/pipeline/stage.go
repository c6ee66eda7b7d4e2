// Package pipeline transforms a finalized transcript into a structured
// document and cognitive load score. Stages run strictly in sequence; each
// receives an immutable snapshot of the session state and returns a delta,
// which the runner merges. Per-stage failures are intercepted by the runner
// and recovered with the stage's fallback.
package pipeline

import (
	"context"
	"errors"

	"github.com/snarg/voxdoc/internal/session"
)

// ErrEmptyTranscript is the only fatal pipeline error: nothing downstream
// can proceed without text.
var ErrEmptyTranscript = errors.New("transcript is empty")

// Stage is one pipeline transformation. Run must not mutate the snapshot it
// receives. Fallback produces substitute content when Run fails; a stage
// with no fallback (ok=false) makes its failure fatal.
type Stage interface {
	Name() string
	Run(ctx context.Context, state *session.State) (Delta, error)
	Fallback(state *session.State) (Delta, bool)
}

// Delta is a partial state update. Nil/empty fields are left untouched;
// Warnings are always appended, never replaced.
type Delta struct {
	Transcript         *string
	Segments           []session.Segment
	Analysis           *session.Analysis
	Sections           []session.Section
	Diagrams           []session.Diagram
	FinalDocument      *string
	CognitiveLoadIndex *int
	Metrics            *session.CognitiveMetrics
	Warnings           []string
}

func (d Delta) apply(s *session.State) {
	if d.Transcript != nil {
		s.Transcript = *d.Transcript
	}
	if d.Segments != nil {
		s.Segments = d.Segments
	}
	if d.Analysis != nil {
		s.Analysis = d.Analysis
	}
	if d.Sections != nil {
		s.Sections = d.Sections
	}
	if d.Diagrams != nil {
		s.Diagrams = d.Diagrams
	}
	if d.FinalDocument != nil {
		s.FinalDocument = *d.FinalDocument
	}
	if d.CognitiveLoadIndex != nil {
		s.CognitiveLoadIndex = *d.CognitiveLoadIndex
	}
	if d.Metrics != nil {
		s.Metrics = *d.Metrics
	}
	s.Warnings = append(s.Warnings, d.Warnings...)
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
