package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/snarg/voxdoc/internal/session"
)

// cogloadStage computes deterministic text metrics over the normalized
// transcript and folds them into a 0-100 cognitive load index: four 0-25
// sub-scores for sentence length, technical term density, conceptual
// density, and analyzed complexity. No external calls, cannot fail.
type cogloadStage struct{}

func (cogloadStage) Name() string { return "cogload" }

func (c cogloadStage) Run(_ context.Context, state *session.State) (Delta, error) {
	metrics := computeMetrics(state.Transcript)
	score := scoreCognitiveLoad(metrics, state.Analysis)
	return Delta{Metrics: &metrics, CognitiveLoadIndex: intPtr(score)}, nil
}

func (c cogloadStage) Fallback(state *session.State) (Delta, bool) {
	d, _ := c.Run(context.Background(), state)
	return d, true
}

var technicalTermRes = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Z]{2,}\b`),                  // acronyms
	regexp.MustCompile(`\b[a-z]+[A-Z][A-Za-z]*\b`),       // camelCase
	regexp.MustCompile(`\b[a-z0-9]+_[a-z0-9_]+\b`),       // snake_case
	regexp.MustCompile(`\b\w+(?:ware|base|sql|ology)\b`), // domain suffixes
}

// conceptPhraseRe matches two-word abstraction phrases, a rough proxy for
// how many distinct concepts a reader must hold at once.
var conceptPhraseRe = regexp.MustCompile(`\b[a-z][a-z-]+ (?:system|process|model|framework|architecture|pipeline|algorithm|structure|pattern|protocol|engine|interface|network|strategy|mechanism)\b`)

// conceptDensityCeiling: concept phrases per 100 words at which conceptual
// density saturates at 1.0.
const conceptDensityCeiling = 10.0

// readingWordsPerMinute for the estimated reading time.
const readingWordsPerMinute = 200

func computeMetrics(transcript string) session.CognitiveMetrics {
	words := strings.Fields(transcript)
	sentences := splitSentences(transcript)

	m := session.CognitiveMetrics{
		WordCount:     len(words),
		SentenceCount: len(sentences),
	}
	if m.SentenceCount > 0 {
		m.AvgWordsPerSentence = float64(m.WordCount) / float64(m.SentenceCount)
	}

	m.TechnicalTermCount = countTechnicalTerms(words)

	if m.WordCount > 0 {
		phrases := len(conceptPhraseRe.FindAllString(strings.ToLower(transcript), -1))
		per100 := float64(phrases) / float64(m.WordCount) * 100
		m.ConceptualDensity = per100 / conceptDensityCeiling
		if m.ConceptualDensity > 1 {
			m.ConceptualDensity = 1
		}
	}

	m.EstReadingMinutes = (m.WordCount + readingWordsPerMinute - 1) / readingWordsPerMinute
	return m
}

// countTechnicalTerms counts words matching any term pattern, each word at
// most once.
func countTechnicalTerms(words []string) int {
	count := 0
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:'\"()")
		for _, re := range technicalTermRes {
			if re.MatchString(w) {
				count++
				break
			}
		}
	}
	return count
}

// scoreCognitiveLoad folds the metrics into a 0-100 index. Each component
// contributes 0-25; a missing analysis contributes the medium tier.
func scoreCognitiveLoad(m session.CognitiveMetrics, a *session.Analysis) int {
	score := sentenceLengthScore(m) + termDensityScore(m) + conceptualScore(m) + complexityScore(a)
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// sentenceLengthScore penalizes averages outside the 15-20 words-per-sentence
// comfort band, in either direction.
func sentenceLengthScore(m session.CognitiveMetrics) int {
	if m.WordCount == 0 || m.SentenceCount == 0 {
		return 0
	}
	avg := m.AvgWordsPerSentence
	var dist float64
	switch {
	case avg < 15:
		dist = 15 - avg
	case avg > 20:
		dist = avg - 20
	}
	s := 5 + dist*1.5
	if s > 25 {
		s = 25
	}
	return int(s)
}

func termDensityScore(m session.CognitiveMetrics) int {
	if m.WordCount == 0 {
		return 0
	}
	ratio := float64(m.TechnicalTermCount) / float64(m.WordCount) * 100
	s := ratio * 2.5
	if s > 25 {
		s = 25
	}
	return int(s)
}

func conceptualScore(m session.CognitiveMetrics) int {
	return int(m.ConceptualDensity * 25)
}

func complexityScore(a *session.Analysis) int {
	if a == nil {
		return 15
	}
	switch a.Complexity {
	case session.ComplexityLow:
		return 5
	case session.ComplexityHigh:
		return 25
	default:
		return 15
	}
}
