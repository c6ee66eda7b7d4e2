package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/voxdoc/internal/eventbus"
	"github.com/snarg/voxdoc/internal/llm"
	"github.com/snarg/voxdoc/internal/metrics"
	"github.com/snarg/voxdoc/internal/session"
)

// Runner drives the six stages in order, merging each stage's delta into the
// authoritative state. Stage errors are intercepted here: the stage's
// fallback supplies substitute content and the failure becomes a warning. A
// stage without a fallback aborts the run.
type Runner struct {
	stages []Stage
	bus    *eventbus.Bus
	log    zerolog.Logger
}

// NewRunner wires the standard stage sequence against the given model client.
func NewRunner(client llm.Client, llmTimeout time.Duration, bus *eventbus.Bus, log zerolog.Logger) *Runner {
	return &Runner{
		stages: []Stage{
			normalizeStage{},
			analyzeStage{llm: client, timeout: llmTimeout},
			sectionsStage{llm: client, timeout: llmTimeout, log: log},
			diagramStage{llm: client, timeout: llmTimeout, log: log},
			assembleStage{},
			cogloadStage{},
		},
		bus: bus,
		log: log,
	}
}

// progressEvent is the job-progress payload published before each stage.
type progressEvent struct {
	JobID    string `json:"job_id"`
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
}

// Run executes the pipeline over the state. The returned state is always the
// input pointer; on a fatal error its Errors slice records the cause.
func (r *Runner) Run(ctx context.Context, jobID string, state *session.State) (*session.State, error) {
	start := time.Now()
	defer func() {
		metrics.PipelineDuration.Observe(time.Since(start).Seconds())
	}()

	total := len(r.stages)
	for i, stage := range r.stages {
		if err := ctx.Err(); err != nil {
			state.Errors = append(state.Errors, err.Error())
			return state, err
		}

		r.publishProgress(jobID, state.SessionID, stage.Name(), i*100/total)

		delta, err := stage.Run(ctx, state.Clone())
		if err != nil {
			metrics.StageFallbacksTotal.WithLabelValues(stage.Name()).Inc()
			r.log.Warn().Err(err).Str("stage", stage.Name()).Str("session_id", state.SessionID).
				Msg("stage failed, attempting fallback")

			fb, ok := stage.Fallback(state.Clone())
			if !ok {
				state.Errors = append(state.Errors, err.Error())
				if errors.Is(err, ErrEmptyTranscript) {
					return state, err
				}
				return state, fmt.Errorf("stage %s: %w", stage.Name(), err)
			}
			delta = fb
			delta.Warnings = append(delta.Warnings,
				fmt.Sprintf("stage %s: %v (fallback applied)", stage.Name(), err))
		}
		delta.apply(state)
	}

	r.publishProgress(jobID, state.SessionID, "done", 100)
	r.log.Info().Str("session_id", state.SessionID).Str("job_id", jobID).
		Int("cognitive_load", state.CognitiveLoadIndex).
		Int("sections", len(state.Sections)).
		Int("diagrams", len(state.Diagrams)).
		Int("warnings", len(state.Warnings)).
		Dur("elapsed", time.Since(start)).
		Msg("pipeline completed")
	return state, nil
}

func (r *Runner) publishProgress(jobID, sessionID, stage string, progress int) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(eventbus.TypeJobProgress, sessionID, progressEvent{
		JobID:    jobID,
		Stage:    stage,
		Progress: progress,
	})
}
