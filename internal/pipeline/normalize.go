package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/snarg/voxdoc/internal/session"
)

// normalizeStage cleans whitespace and punctuation and segments the
// transcript into sentences. No external calls; an empty transcript here is
// fatal and aborts the job.
type normalizeStage struct{}

func (normalizeStage) Name() string { return "normalize" }

var (
	multiSpaceRe  = regexp.MustCompile(`\s+`)
	spacePunctRe  = regexp.MustCompile(`\s+([.,!?;:])`)
	repeatPunctRe = regexp.MustCompile(`([.,!?]){2,}`)
)

func (normalizeStage) Run(_ context.Context, state *session.State) (Delta, error) {
	text := multiSpaceRe.ReplaceAllString(state.Transcript, " ")
	text = spacePunctRe.ReplaceAllString(text, "$1")
	text = repeatPunctRe.ReplaceAllString(text, "$1")
	text = strings.TrimSpace(text)

	if text == "" {
		return Delta{}, fmt.Errorf("%w: session %s", ErrEmptyTranscript, state.SessionID)
	}

	sentences := splitSentences(text)
	var b strings.Builder
	for i, s := range sentences {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(capitalize(s))
		b.WriteByte('.')
	}

	return Delta{Transcript: strPtr(b.String())}, nil
}

// Fallback: none. An empty transcript aborts the job.
func (normalizeStage) Fallback(*session.State) (Delta, bool) {
	return Delta{}, false
}

func capitalize(s string) string {
	for i, r := range s {
		return s[:i] + string(unicode.ToUpper(r)) + s[i+len(string(r)):]
	}
	return s
}
