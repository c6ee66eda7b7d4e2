package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/snarg/voxdoc/internal/session"
)

// assembleStage builds the final Markdown document. Fully deterministic, no
// external calls, and it cannot fail the job: with no sections it falls back
// to the raw transcript plus any available analysis summary.
type assembleStage struct{}

func (assembleStage) Name() string { return "assemble" }

func (a assembleStage) Run(_ context.Context, state *session.State) (Delta, error) {
	return Delta{FinalDocument: strPtr(a.build(state))}, nil
}

func (a assembleStage) Fallback(state *session.State) (Delta, bool) {
	return Delta{FinalDocument: strPtr(a.build(state))}, true
}

func (a assembleStage) build(state *session.State) string {
	var b strings.Builder

	b.WriteString("# " + documentTitle(state) + "\n\n")
	writeHeaderBlock(&b, state)

	if len(state.Sections) == 0 {
		writeFallbackBody(&b, state)
		writeFooterBlock(&b, state)
		return b.String()
	}

	sections := append([]session.Section(nil), state.Sections...)
	sort.SliceStable(sections, func(i, j int) bool { return sections[i].Order < sections[j].Order })

	if len(sections) > 3 {
		writeTOC(&b, sections)
	}

	placed := make([]bool, len(state.Diagrams))
	for _, sec := range sections {
		heading := strings.Repeat("#", clampHeading(sec.HeadingLevel))
		b.WriteString(fmt.Sprintf("%s %s\n\n%s\n\n", heading, sec.Title, strings.TrimSpace(sec.Content)))

		// Interleave the first unplaced diagram whose archetype keywords
		// lexically match this section. Keyword overlap is a heuristic and
		// may misplace diagrams between similarly-worded sections.
		secText := strings.ToLower(sec.Title + " " + sec.Content)
		seen := make(map[session.DiagramType]bool)
		for i, d := range state.Diagrams {
			if placed[i] || seen[d.Type] {
				continue
			}
			if diagramMatchesSection(d, secText) {
				writeDiagram(&b, d)
				placed[i] = true
				seen[d.Type] = true
			}
		}
	}

	// Diagrams that matched no section still ship, appended at the end.
	var leftovers []session.Diagram
	for i, d := range state.Diagrams {
		if !placed[i] {
			leftovers = append(leftovers, d)
		}
	}
	if len(leftovers) > 0 {
		b.WriteString("## Diagrams\n\n")
		for _, d := range leftovers {
			writeDiagram(&b, d)
		}
	}

	writeFooterBlock(&b, state)
	return b.String()
}

func documentTitle(state *session.State) string {
	if state.Analysis != nil && len(state.Analysis.Topics) > 0 {
		return capitalize(state.Analysis.Topics[0]) + " Session Notes"
	}
	return "Session Notes"
}

func writeHeaderBlock(b *strings.Builder, state *session.State) {
	b.WriteString("> Session `" + state.SessionID + "`")
	if state.Analysis != nil {
		b.WriteString(fmt.Sprintf(" · %s · complexity: %s", state.Analysis.ContentType, state.Analysis.Complexity))
		if len(state.Analysis.Topics) > 0 {
			b.WriteString(" · topics: " + strings.Join(state.Analysis.Topics, ", "))
		}
	}
	b.WriteString("\n\n")
}

func writeTOC(b *strings.Builder, sections []session.Section) {
	b.WriteString("## Contents\n\n")
	for _, sec := range sections {
		anchor := strings.ToLower(strings.ReplaceAll(sec.Title, " ", "-"))
		b.WriteString(fmt.Sprintf("- [%s](#%s)\n", sec.Title, anchor))
	}
	b.WriteString("\n")
}

func writeFallbackBody(b *strings.Builder, state *session.State) {
	if state.Analysis != nil && len(state.Analysis.KeyPoints) > 0 {
		b.WriteString("## Summary\n\n")
		for _, kp := range state.Analysis.KeyPoints {
			b.WriteString("- " + kp + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("## Full Transcript\n\n" + state.Transcript + "\n\n")
}

func writeDiagram(b *strings.Builder, d session.Diagram) {
	b.WriteString(fmt.Sprintf("**%s** — %s\n\n```mermaid\n%s\n```\n\n", d.Title, d.Description, d.Code))
}

func writeFooterBlock(b *strings.Builder, state *session.State) {
	words := len(strings.Fields(state.Transcript))
	b.WriteString("---\n\n")
	b.WriteString(fmt.Sprintf("_Generated from session `%s` · %d transcript words · %d section(s) · %d diagram(s)_\n",
		state.SessionID, words, len(state.Sections), len(state.Diagrams)))
}

// diagramMatchesSection reports whether a section's text contains the
// diagram archetype's cue vocabulary.
func diagramMatchesSection(d session.Diagram, secText string) bool {
	for _, a := range archetypes {
		if a.diagType != d.Type {
			continue
		}
		for _, cue := range a.cues {
			if strings.Contains(secText, cue) {
				return true
			}
		}
		return false
	}
	// Concept maps match topic-heavy overview sections.
	return d.Type == session.DiagramConceptMap &&
		(strings.Contains(secText, "overview") || strings.Contains(secText, "topic"))
}

func clampHeading(level int) int {
	if level < 1 {
		return 2
	}
	if level > 6 {
		return 6
	}
	return level
}
