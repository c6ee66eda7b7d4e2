package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxdoc/internal/llm"
	"github.com/snarg/voxdoc/internal/session"
)

// diagramStage scans the transcript for lexical cues associated with each
// diagram archetype and asks the model for matching markup. Markup that does
// not begin with the archetype's keyword is silently replaced with a minimal
// template and recorded as a warning, never surfaced as an error.
type diagramStage struct {
	llm     llm.Client
	timeout time.Duration
	log     zerolog.Logger
}

func (diagramStage) Name() string { return "diagrams" }

// maxDiagrams caps candidates per document.
const maxDiagrams = 3

// archetype couples a diagram type with its detection cues, the keyword its
// markup must open with, and a minimal template for validation fallback.
type archetype struct {
	diagType session.DiagramType
	title    string
	cues     []string
	keyword  string
	template string
}

var archetypes = []archetype{
	{
		diagType: session.DiagramFlowchart,
		title:    "Process Flow",
		cues:     []string{"first", "then", "next", "step", "after that", "finally", "process", "workflow", "pipeline"},
		keyword:  "flowchart",
		template: "flowchart TD\n    A[Start] --> B[Process]\n    B --> C[End]",
	},
	{
		diagType: session.DiagramSequence,
		title:    "Interaction Sequence",
		cues:     []string{"request", "respond", "response", "send", "receive", "reply", "call", "message", "client", "server"},
		keyword:  "sequenceDiagram",
		template: "sequenceDiagram\n    participant A\n    participant B\n    A->>B: request\n    B-->>A: response",
	},
	{
		diagType: session.DiagramState,
		title:    "State Transitions",
		cues:     []string{"state", "transition", "switch", "mode", "becomes", "changes to", "idle", "active", "enabled", "disabled"},
		keyword:  "stateDiagram-v2",
		template: "stateDiagram-v2\n    [*] --> Idle\n    Idle --> Active\n    Active --> [*]",
	},
}

// conceptMap is detected by topic count rather than lexical cues.
var conceptMapArchetype = archetype{
	diagType: session.DiagramConceptMap,
	title:    "Concept Map",
	keyword:  "mindmap",
	template: "mindmap\n  root((Topics))\n    A\n    B",
}

// conceptMapTopicThreshold: documents covering this many topics get a
// concept-map candidate.
const conceptMapTopicThreshold = 6

func (d diagramStage) Run(ctx context.Context, state *session.State) (Delta, error) {
	if !state.Config.GenerateDiagrams {
		return Delta{}, nil
	}

	candidates := detectCandidates(state)
	if len(candidates) == 0 {
		return Delta{Diagrams: []session.Diagram{}}, nil
	}

	var warnings []string
	diagrams := make([]session.Diagram, 0, len(candidates))
	for _, cand := range candidates {
		diag, warn := d.generate(ctx, state, cand)
		if warn != "" {
			warnings = append(warnings, warn)
		}
		diagrams = append(diagrams, diag)
	}
	return Delta{Diagrams: diagrams, Warnings: warnings}, nil
}

// Fallback leaves the document diagram-free; assembly tolerates that.
func (diagramStage) Fallback(*session.State) (Delta, bool) {
	return Delta{Diagrams: []session.Diagram{}}, true
}

// detectCandidates ranks archetypes by cue hits in the transcript, capped at
// maxDiagrams. A high topic count additionally suggests a concept map.
func detectCandidates(state *session.State) []archetype {
	lower := strings.ToLower(state.Transcript)

	type scored struct {
		arch archetype
		hits int
	}
	var found []scored
	for _, a := range archetypes {
		hits := 0
		for _, cue := range a.cues {
			hits += strings.Count(lower, cue)
		}
		if hits >= 2 {
			found = append(found, scored{a, hits})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].hits > found[j].hits })

	out := make([]archetype, 0, maxDiagrams)
	for _, s := range found {
		if len(out) == maxDiagrams {
			break
		}
		out = append(out, s.arch)
	}

	if len(out) < maxDiagrams && state.Analysis != nil && len(state.Analysis.Topics) >= conceptMapTopicThreshold {
		out = append(out, conceptMapArchetype)
	}
	return out
}

const diagramPrompt = `Generate a %s diagram describing the %s in this
transcript. Reply with ONLY the diagram markup, starting with the keyword
%q on the first line.

Transcript:
%s`

// generate produces one diagram, substituting the archetype template when
// the model's markup fails keyword validation.
func (d diagramStage) generate(ctx context.Context, state *session.State, a archetype) (session.Diagram, string) {
	diag := session.Diagram{
		Type:        a.diagType,
		Title:       a.title,
		Description: fmt.Sprintf("%s detected from transcript cues", a.title),
	}

	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	prompt := fmt.Sprintf(diagramPrompt, a.diagType, strings.ToLower(a.title), a.keyword,
		truncateWords(state.Transcript, 400))
	reply, err := d.llm.Generate(cctx, prompt, llm.Options{Temperature: 0.2, MaxTokens: 512})
	if err != nil {
		d.log.Warn().Err(err).Str("type", string(a.diagType)).Msg("diagram generation failed, using template")
		diag.Code = a.template
		return diag, fmt.Sprintf("diagram %s: generation failed, substituted template", a.diagType)
	}

	code := strings.TrimSpace(strings.Trim(strings.TrimSpace(reply), "`"))
	if !strings.HasPrefix(code, a.keyword) {
		diag.Code = a.template
		return diag, fmt.Sprintf("diagram %s: markup failed validation, substituted template", a.diagType)
	}
	diag.Code = code
	return diag, ""
}
