package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/snarg/voxdoc/internal/llm"
	"github.com/snarg/voxdoc/internal/session"
)

// analyzeStage asks the language-model service for topics, complexity,
// content type, key points, and suggested section titles. A malformed or
// absent reply is recovered by the runner via the frequency-based fallback.
type analyzeStage struct {
	llm     llm.Client
	timeout time.Duration
}

func (analyzeStage) Name() string { return "analyze" }

const analyzePrompt = `Analyze the following transcript of a spoken session.
Reply with ONLY a JSON object, no prose, of the shape:
{"topics":["..."],"complexity":"low|medium|high","content_type":"meeting|lecture|technical|brainstorm|narrative|general","key_points":["..."],"suggested_sections":["..."]}

Transcript:
%s`

func (a analyzeStage) Run(ctx context.Context, state *session.State) (Delta, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reply, err := a.llm.Generate(ctx, fmt.Sprintf(analyzePrompt, state.Transcript), llm.Options{
		Temperature: 0.2,
		MaxTokens:   512,
	})
	if err != nil {
		return Delta{}, fmt.Errorf("content analysis: %w", err)
	}

	analysis, err := parseAnalysis(reply)
	if err != nil {
		return Delta{}, fmt.Errorf("content analysis: %w", err)
	}
	return Delta{Analysis: analysis}, nil
}

// Fallback builds a heuristic analysis: frequency-ranked keywords as topics,
// keyword buckets for content type, and a fixed three-section outline.
func (analyzeStage) Fallback(state *session.State) (Delta, bool) {
	return Delta{Analysis: heuristicAnalysis(state.Transcript)}, true
}

// parseAnalysis extracts the first JSON object from the reply and validates
// its fields. Models often wrap JSON in prose or code fences.
func parseAnalysis(reply string) (*session.Analysis, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var raw struct {
		Topics            []string `json:"topics"`
		Complexity        string   `json:"complexity"`
		ContentType       string   `json:"content_type"`
		KeyPoints         []string `json:"key_points"`
		SuggestedSections []string `json:"suggested_sections"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("malformed analysis JSON: %w", err)
	}
	if len(raw.SuggestedSections) == 0 {
		return nil, fmt.Errorf("analysis reply has no suggested sections")
	}

	a := &session.Analysis{
		Topics:            raw.Topics,
		Complexity:        session.Complexity(strings.ToLower(raw.Complexity)),
		ContentType:       session.ContentType(strings.ToLower(raw.ContentType)),
		KeyPoints:         raw.KeyPoints,
		SuggestedSections: raw.SuggestedSections,
	}
	switch a.Complexity {
	case session.ComplexityLow, session.ComplexityMedium, session.ComplexityHigh:
	default:
		a.Complexity = session.ComplexityMedium
	}
	switch a.ContentType {
	case session.ContentMeeting, session.ContentLecture, session.ContentTechnical,
		session.ContentBrainstorm, session.ContentNarrative, session.ContentGeneral:
	default:
		a.ContentType = session.ContentGeneral
	}
	return a, nil
}

// contentTypeCues maps each content type to its lexical markers.
var contentTypeCues = map[session.ContentType][]string{
	session.ContentMeeting:    {"agenda", "action", "meeting", "minutes", "attendees", "follow-up", "decision"},
	session.ContentLecture:    {"today", "lesson", "chapter", "concept", "explain", "understand", "course"},
	session.ContentTechnical:  {"server", "request", "database", "code", "api", "json", "function", "deploy", "system", "client", "response"},
	session.ContentBrainstorm: {"idea", "maybe", "what if", "brainstorm", "option", "possibility", "alternative"},
	session.ContentNarrative:  {"story", "remember", "happened", "once", "experience", "felt"},
}

func heuristicAnalysis(transcript string) *session.Analysis {
	lower := strings.ToLower(transcript)

	contentType := session.ContentGeneral
	best := 0
	for _, ct := range []session.ContentType{
		session.ContentMeeting, session.ContentLecture, session.ContentTechnical,
		session.ContentBrainstorm, session.ContentNarrative,
	} {
		score := 0
		for _, cue := range contentTypeCues[ct] {
			score += strings.Count(lower, cue)
		}
		if score > best {
			best = score
			contentType = ct
		}
	}

	sentences := splitSentences(transcript)
	complexity := session.ComplexityLow
	if avg := avgSentenceLen(sentences); avg > 22 {
		complexity = session.ComplexityHigh
	} else if avg > 12 {
		complexity = session.ComplexityMedium
	}

	// Key points: the longest sentences carry the most content, kept in
	// transcript order.
	keyPoints := pickKeyPoints(sentences, 5)

	return &session.Analysis{
		Topics:            topKeywords(transcript, 5),
		Complexity:        complexity,
		ContentType:       contentType,
		KeyPoints:         keyPoints,
		SuggestedSections: []string{"Overview", "Key Points", "Full Transcript"},
	}
}

func avgSentenceLen(sentences []string) float64 {
	if len(sentences) == 0 {
		return 0
	}
	words := 0
	for _, s := range sentences {
		words += len(strings.Fields(s))
	}
	return float64(words) / float64(len(sentences))
}

func pickKeyPoints(sentences []string, n int) []string {
	if len(sentences) <= n {
		return append([]string(nil), sentences...)
	}
	type ranked struct {
		idx, words int
	}
	rs := make([]ranked, len(sentences))
	for i, s := range sentences {
		rs[i] = ranked{i, len(strings.Fields(s))}
	}
	// Select the n longest, preserving original order.
	selected := make([]bool, len(sentences))
	for k := 0; k < n; k++ {
		best := -1
		for i, r := range rs {
			if selected[i] {
				continue
			}
			if best < 0 || r.words > rs[best].words {
				best = i
			}
		}
		selected[best] = true
	}
	var out []string
	for i, s := range sentences {
		if selected[i] {
			out = append(out, s)
		}
	}
	return out
}
