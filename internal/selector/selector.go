// Package selector guarantees that exactly one transcription engine is
// active whenever a session is active and that switching engines mid-session
// is transparent to consumers of the result stream.
//
// All state is owned by a single actor goroutine; public methods enqueue
// commands, so TranscriptionStatus mutations are atomic with respect to
// concurrent FeedAudio calls.
package selector

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxdoc/internal/eventbus"
	"github.com/snarg/voxdoc/internal/metrics"
	"github.com/snarg/voxdoc/internal/stt"
)

var (
	ErrAlreadyActive   = errors.New("a transcription session is already active")
	ErrNoActiveSession = errors.New("no active transcription session")
)

// EngineState is the selector FSM state.
type EngineState string

const (
	StateIdle          EngineState = "idle"
	StateNetworkActive EngineState = "network_active"
	StateLocalActive   EngineState = "local_active"
	StateSwitching     EngineState = "switching"
)

// unavailableNotice is the synthetic final emitted when an engine cannot
// start; the session stays active but non-functional until mode or
// connectivity changes.
const unavailableNotice = "[transcription unavailable: engine could not start]"

// PickEngine is the engine-selection rule and the single source of truth:
// LOCAL iff privacyMode OR NOT online. Both manual toggles and connectivity
// changes funnel through it.
func PickEngine(online, privacyMode bool) stt.Source {
	if privacyMode || !online {
		return stt.SourceLocal
	}
	return stt.SourceNetwork
}

// Status is the externally visible transcription status.
type Status struct {
	Active      bool        `json:"active"`
	Engine      stt.Source  `json:"engine"`
	State       EngineState `json:"state"`
	Online      bool        `json:"online"`
	PrivacyMode bool        `json:"privacy_mode"`
}

// Transcript is the accumulated output of one stopped session.
type Transcript struct {
	SessionID string
	Text      string
	Finals    []stt.Result
}

type command func()

// Selector owns the two engine adapters and performs handovers between them.
type Selector struct {
	engines map[stt.Source]stt.Engine
	bus     *eventbus.Bus
	log     zerolog.Logger
	cmds    chan command

	// Actor-owned state. Touched only from the Run goroutine.
	state     EngineState
	online    bool
	privacy   bool
	sessionID string
	epoch     time.Time
	source    stt.Source
	active    stt.Engine
	queued    []stt.Chunk
	finals    []stt.Result
	lastPart  *stt.Result
	ctx       context.Context
}

// Options configures the selector.
type Options struct {
	Network     stt.Engine // may be nil when the cloud client could not init
	Local       stt.Engine
	Bus         *eventbus.Bus
	Online      bool
	PrivacyMode bool
	Log         zerolog.Logger
}

// New creates a selector. Run must be called before any other method.
func New(opts Options) *Selector {
	engines := make(map[stt.Source]stt.Engine, 2)
	if opts.Network != nil {
		engines[stt.SourceNetwork] = opts.Network
	}
	if opts.Local != nil {
		engines[stt.SourceLocal] = opts.Local
	}
	return &Selector{
		engines: engines,
		bus:     opts.Bus,
		log:     opts.Log,
		cmds:    make(chan command, 256),
		state:   StateIdle,
		online:  opts.Online,
		privacy: opts.PrivacyMode,
	}
}

// Run processes commands until ctx is cancelled. It is the sole goroutine
// that touches selector state.
func (s *Selector) Run(ctx context.Context) {
	s.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			if s.state != StateIdle {
				if _, err := s.stopSessionLocked(); err != nil {
					s.log.Warn().Err(err).Msg("stopping session on shutdown")
				}
			}
			return
		case cmd := <-s.cmds:
			cmd()
		}
	}
}

// do runs fn on the actor goroutine and waits for it to finish.
func (s *Selector) do(fn func() error) error {
	reply := make(chan error, 1)
	s.cmds <- func() { reply <- fn() }
	return <-reply
}

// StartSession begins a transcription session on the engine the current
// status selects. Fails with ErrAlreadyActive if one is running.
func (s *Selector) StartSession(sessionID string) error {
	return s.do(func() error {
		if s.state != StateIdle {
			return ErrAlreadyActive
		}
		s.sessionID = sessionID
		s.epoch = time.Now()
		s.finals = nil
		s.lastPart = nil
		s.queued = nil

		target := PickEngine(s.online, s.privacy)
		s.startEngine(target)
		s.bus.Publish(eventbus.TypeSessionStarted, sessionID, map[string]any{
			"session_id": sessionID,
			"engine":     target,
		})
		return nil
	})
}

// StopSession stops the active engine, flushes its pending partial as a
// final result, and returns the accumulated transcript. Fails with
// ErrNoActiveSession if none is running.
func (s *Selector) StopSession() (Transcript, error) {
	var tr Transcript
	err := s.do(func() error {
		var err error
		tr, err = s.stopSessionLocked()
		return err
	})
	return tr, err
}

func (s *Selector) stopSessionLocked() (Transcript, error) {
	if s.state == StateIdle {
		return Transcript{}, ErrNoActiveSession
	}
	s.stopActive()

	texts := make([]string, 0, len(s.finals))
	for _, f := range s.finals {
		if t := strings.TrimSpace(f.Text); t != "" {
			texts = append(texts, t)
		}
	}
	tr := Transcript{
		SessionID: s.sessionID,
		Text:      strings.Join(texts, " "),
		Finals:    append([]stt.Result(nil), s.finals...),
	}

	s.bus.Publish(eventbus.TypeSessionStopped, s.sessionID, map[string]any{
		"session_id": s.sessionID,
		"finals":     len(s.finals),
	})
	s.log.Info().Str("session_id", s.sessionID).Int("finals", len(s.finals)).Msg("session stopped")

	s.state = StateIdle
	s.sessionID = ""
	s.queued = nil
	return tr, nil
}

// SetPrivacyMode updates the privacy preference and performs a handover when
// the computed target engine changes mid-session.
func (s *Selector) SetPrivacyMode(enabled bool) error {
	return s.do(func() error {
		if s.privacy == enabled {
			return nil
		}
		s.privacy = enabled
		s.log.Info().Bool("privacy_mode", enabled).Msg("privacy mode changed")
		s.retarget()
		return nil
	})
}

// SetOnline is invoked by the connectivity monitor. A flip that changes the
// computed target engine triggers the same handover path as SetPrivacyMode.
func (s *Selector) SetOnline(online bool) {
	s.cmds <- func() {
		if s.online == online {
			return
		}
		s.online = online
		s.log.Info().Bool("online", online).Msg("connectivity changed")
		s.retarget()
	}
}

// FeedAudio routes one chunk to the currently active engine. Frames arriving
// during a handover are queued and replayed to the new engine; frames with
// no session active are dropped. Never blocks the caller on engine I/O.
func (s *Selector) FeedAudio(chunk stt.Chunk) {
	s.cmds <- func() {
		switch s.state {
		case StateIdle:
			// no-op
		case StateSwitching:
			s.queued = append(s.queued, chunk)
		default:
			s.feedActive(chunk)
		}
	}
}

// Status returns the current transcription status.
func (s *Selector) Status() Status {
	var st Status
	_ = s.do(func() error {
		st = Status{
			Active:      s.state != StateIdle,
			Engine:      s.source,
			State:       s.state,
			Online:      s.online,
			PrivacyMode: s.privacy,
		}
		if s.state == StateIdle {
			st.Engine = PickEngine(s.online, s.privacy)
		}
		return nil
	})
	return st
}

// ── actor internals ───────────────────────────────────────────────────

func (s *Selector) retarget() {
	if s.state == StateIdle || s.state == StateSwitching {
		return
	}
	target := PickEngine(s.online, s.privacy)
	if target == s.source {
		return
	}
	s.handover(target)
}

// handover stops the current engine (capturing its last partial as a
// synthetic final fragment) and enters SWITCHING. Completion runs as a
// separate command so frames arriving in the handover window land in the
// switching queue and are replayed to the new engine in arrival order.
func (s *Selector) handover(target stt.Source) {
	from := s.source
	s.state = StateSwitching
	s.stopActive()
	go func() {
		s.cmds <- func() { s.completeHandover(from, target) }
	}()
}

func (s *Selector) completeHandover(from, target stt.Source) {
	if s.state != StateSwitching {
		// Session was stopped while switching; nothing to start.
		s.queued = nil
		return
	}
	s.startEngine(target)

	for _, chunk := range s.queued {
		s.feedActive(chunk)
	}
	s.queued = nil

	metrics.EngineHandoversTotal.WithLabelValues(string(from), string(target)).Inc()
	s.bus.Publish(eventbus.TypeModeSwitched, s.sessionID, map[string]any{
		"session_id": s.sessionID,
		"from":       from,
		"to":         target,
	})
	s.log.Info().
		Str("session_id", s.sessionID).
		Str("from", string(from)).
		Str("to", string(target)).
		Msg("engine handover complete")

	// Status may have changed again mid-switch; converge.
	s.retarget()
}

// startEngine activates the target engine, degrading to a synthetic
// unavailable notice when it cannot start.
func (s *Selector) startEngine(target stt.Source) {
	s.source = target
	s.state = activeState(target)
	s.active = nil

	eng, ok := s.engines[target]
	if !ok {
		s.emitUnavailable(target)
		return
	}
	// The session epoch, not the activation time, keeps result timestamps
	// monotonic across handovers.
	if err := eng.Start(s.ctx, s.sessionID, s.epoch); err != nil {
		if errors.Is(err, stt.ErrEngineUnavailable) {
			s.log.Warn().Err(err).Str("engine", string(target)).Msg("engine unavailable, session degraded")
			s.emitUnavailable(target)
			return
		}
		s.log.Error().Err(err).Str("engine", string(target)).Msg("engine start failed")
		s.emitUnavailable(target)
		return
	}
	s.active = eng
	go s.forwardResults(eng)
}

// forwardResults pumps one engine's result channel into the actor. The
// goroutine exits when the engine's channel closes on Stop.
func (s *Selector) forwardResults(eng stt.Engine) {
	for r := range eng.Results() {
		res := r
		s.cmds <- func() { s.handleResult(res) }
	}
}

func (s *Selector) handleResult(r stt.Result) {
	if r.IsFinal {
		s.finals = append(s.finals, r)
		s.lastPart = nil
		s.bus.Publish(eventbus.TypeFinal, s.sessionID, r)
		return
	}
	p := r
	s.lastPart = &p
	s.bus.Publish(eventbus.TypePartial, s.sessionID, r)
}

// stopActive stops the running engine and appends what Stop surfaced. Stop
// returns only speech not already streamed as a final, so finals observed on
// the result channel are never counted twice here. When Stop returned nothing
// and a partial was pending, the partial is promoted so no recognized speech
// is dropped.
func (s *Selector) stopActive() {
	if s.active == nil {
		s.lastPart = nil
		return
	}
	final, err := s.active.Stop()
	s.active = nil
	if err != nil {
		s.log.Warn().Err(err).Msg("engine stop failed")
	}
	if final == nil && s.lastPart != nil {
		f := *s.lastPart
		f.IsFinal = true
		final = &f
	}
	s.lastPart = nil
	if final != nil && strings.TrimSpace(final.Text) != "" {
		s.finals = append(s.finals, *final)
		s.bus.Publish(eventbus.TypeFinal, s.sessionID, *final)
	}
}

func (s *Selector) feedActive(chunk stt.Chunk) {
	if s.active == nil {
		return
	}
	if err := s.active.Feed(chunk); err != nil {
		s.log.Warn().Err(err).Str("engine", string(s.source)).Msg("feed failed")
		return
	}
	metrics.AudioChunksRoutedTotal.WithLabelValues(string(s.source)).Inc()
}

func (s *Selector) emitUnavailable(target stt.Source) {
	notice := stt.Result{
		Text:    unavailableNotice,
		IsFinal: true,
		Source:  target,
	}
	s.finals = append(s.finals, notice)
	s.bus.Publish(eventbus.TypeFinal, s.sessionID, notice)
}

func activeState(source stt.Source) EngineState {
	if source == stt.SourceLocal {
		return StateLocalActive
	}
	return StateNetworkActive
}
