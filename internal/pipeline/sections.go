package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/voxdoc/internal/llm"
	"github.com/snarg/voxdoc/internal/session"
)

// sectionsStage expands each suggested section title into Markdown content.
// Sections are generated independently: a failure on one falls back to its
// raw extracted sentences and does not block the rest, so this stage never
// raises a stage error itself.
type sectionsStage struct {
	llm     llm.Client
	timeout time.Duration
	log     zerolog.Logger
}

func (sectionsStage) Name() string { return "sections" }

const sectionPrompt = `Write the body of a Markdown document section titled %q
for a %s audience, in %s style. Use at most %d words. Base it strictly on
these transcript excerpts, do not invent facts:

%s

Reply with the section body only, no heading.`

func (st sectionsStage) Run(ctx context.Context, state *session.State) (Delta, error) {
	titles := []string{"Overview", "Key Points", "Full Transcript"}
	if state.Analysis != nil && len(state.Analysis.SuggestedSections) > 0 {
		titles = state.Analysis.SuggestedSections
	}

	sentences := splitSentences(state.Transcript)
	var warnings []string
	sections := make([]session.Section, 0, len(titles))

	for i, title := range titles {
		content, warn := st.generateSection(ctx, state, title, sentences)
		if warn != "" {
			warnings = append(warnings, warn)
		}
		sections = append(sections, session.Section{
			Title:        title,
			Content:      content,
			HeadingLevel: 2,
			Order:        i,
		})
	}

	return Delta{Sections: sections, Warnings: warnings}, nil
}

// Fallback is unreachable in practice (Run degrades per section), but keeps
// the stage recoverable if it ever errors.
func (sectionsStage) Fallback(state *session.State) (Delta, bool) {
	return Delta{Sections: []session.Section{{
		Title:        "Full Transcript",
		Content:      state.Transcript,
		HeadingLevel: 2,
		Order:        0,
	}}}, true
}

// generateSection returns the section body and an optional warning when the
// fallback path was taken.
func (st sectionsStage) generateSection(ctx context.Context, state *session.State, title string, sentences []string) (string, string) {
	// The full-transcript section is always verbatim; no model call.
	if strings.EqualFold(title, "Full Transcript") {
		return state.Transcript, ""
	}

	excerpt := extractRelevant(sentences, title)
	if excerpt == "" {
		excerpt = truncateWords(state.Transcript, 120)
	}

	cctx, cancel := context.WithTimeout(ctx, st.timeout)
	defer cancel()

	maxWords := state.Config.MaxSectionWords
	if maxWords <= 0 {
		maxWords = 350
	}
	audience := state.Config.TargetAudience
	if audience == "" {
		audience = session.AudienceGeneral
	}
	style := state.Config.DocumentStyle
	if style == "" {
		style = session.StyleReport
	}

	prompt := fmt.Sprintf(sectionPrompt, title, audience, style, maxWords, excerpt)
	reply, err := st.llm.Generate(cctx, prompt, llm.Options{Temperature: 0.4, MaxTokens: maxWords * 2})
	if err != nil {
		st.log.Warn().Err(err).Str("section", title).Msg("section generation failed, using extracted sentences")
		return excerpt, fmt.Sprintf("section %q: generation failed, substituted transcript excerpts", title)
	}

	body := strings.TrimSpace(reply)
	if body == "" {
		return excerpt, fmt.Sprintf("section %q: empty reply, substituted transcript excerpts", title)
	}
	return truncateWords(body, maxWords), ""
}

// extractRelevant selects transcript sentences whose tokens overlap the
// title's keywords, in transcript order.
func extractRelevant(sentences []string, title string) string {
	keywords := contentWords(title)
	if len(keywords) == 0 {
		return ""
	}
	var picked []string
	for _, s := range sentences {
		if overlapScore(s, keywords) > 0 {
			picked = append(picked, s+".")
		}
	}
	return strings.Join(picked, " ")
}
