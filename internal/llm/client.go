// Package llm is the narrow call interface to the language-model service.
// The pipeline treats it as a black box that may be slow, return malformed
// text, or be unreachable.
package llm

import (
	"context"
	"errors"
)

// ErrServiceUnavailable means the language-model service could not be
// reached. Stages catch it and take their documented fallback path.
var ErrServiceUnavailable = errors.New("language-model service unavailable")

// Options are per-call generation parameters.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Client is the single call contract the pipeline depends on.
type Client interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	Model() string
}
