// Package session defines the mutable state threaded through the
// document-generation pipeline. One State exists per recording job, owned
// exclusively by the pipeline runner for the job's lifetime.
package session

// Complexity is the analyzed difficulty tier of the source content.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// ContentType classifies what kind of session was recorded.
type ContentType string

const (
	ContentMeeting    ContentType = "meeting"
	ContentLecture    ContentType = "lecture"
	ContentTechnical  ContentType = "technical"
	ContentBrainstorm ContentType = "brainstorm"
	ContentNarrative  ContentType = "narrative"
	ContentGeneral    ContentType = "general"
)

// Audience is the intended readership of the generated document.
type Audience string

const (
	AudienceGeneral   Audience = "general"
	AudienceTechnical Audience = "technical"
	AudienceExecutive Audience = "executive"
)

// Style selects the overall formatting of the generated document.
type Style string

const (
	StyleReport  Style = "report"
	StyleNotes   Style = "notes"
	StyleArticle Style = "article"
)

// DiagramType is one of the recognized diagram archetypes.
type DiagramType string

const (
	DiagramFlowchart  DiagramType = "flowchart"
	DiagramSequence   DiagramType = "sequence"
	DiagramState      DiagramType = "state"
	DiagramConceptMap DiagramType = "concept-map"
)

// Segment is one finalized transcript fragment with its timing and confidence.
type Segment struct {
	Text        string  `json:"text"`
	TimestampMs int64   `json:"timestamp_ms"`
	Confidence  float64 `json:"confidence"`
}

// Analysis is the output of the content-analysis stage.
type Analysis struct {
	Topics            []string    `json:"topics"`
	Complexity        Complexity  `json:"complexity"`
	ContentType       ContentType `json:"content_type"`
	KeyPoints         []string    `json:"key_points"`
	SuggestedSections []string    `json:"suggested_sections"`
}

// Section is one generated document section. Sections are produced
// independently and ordered by Order during assembly.
type Section struct {
	Title        string `json:"title"`
	Content      string `json:"content"`
	HeadingLevel int    `json:"heading_level"`
	Order        int    `json:"order"`
}

// Diagram is one generated diagram with its plain-text markup.
type Diagram struct {
	Type        DiagramType `json:"type"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Code        string      `json:"code"`
}

// CognitiveMetrics are the deterministic text measurements feeding the
// cognitive load score.
type CognitiveMetrics struct {
	WordCount           int     `json:"word_count"`
	SentenceCount       int     `json:"sentence_count"`
	AvgWordsPerSentence float64 `json:"avg_words_per_sentence"`
	TechnicalTermCount  int     `json:"technical_term_count"`
	ConceptualDensity   float64 `json:"conceptual_density"`
	EstReadingMinutes   int     `json:"est_reading_minutes"`
}

// Config carries per-job generation settings.
type Config struct {
	GenerateDiagrams bool     `json:"generate_diagrams"`
	TargetAudience   Audience `json:"target_audience"`
	DocumentStyle    Style    `json:"document_style"`
	MaxSectionWords  int      `json:"max_section_words"`
	ModelProvider    string   `json:"model_provider"`
	ModelName        string   `json:"model_name"`
}

// State is the full per-job pipeline state. Errors and Warnings are
// append-only and never cleared mid-run.
type State struct {
	SessionID  string    `json:"session_id"`
	Transcript string    `json:"transcript"`
	Segments   []Segment `json:"segments"`

	Analysis *Analysis `json:"analysis,omitempty"`
	Sections []Section `json:"sections"`
	Diagrams []Diagram `json:"diagrams"`

	FinalDocument      string           `json:"final_document"`
	CognitiveLoadIndex int              `json:"cognitive_load_index"`
	Metrics            CognitiveMetrics `json:"cognitive_metrics"`

	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`

	Config Config `json:"config"`
}

// Clone returns a deep copy of the state. Stages receive clones so that no
// stage can mutate the runner's authoritative copy.
func (s *State) Clone() *State {
	c := *s
	c.Segments = append([]Segment(nil), s.Segments...)
	c.Sections = append([]Section(nil), s.Sections...)
	c.Diagrams = append([]Diagram(nil), s.Diagrams...)
	c.Errors = append([]string(nil), s.Errors...)
	c.Warnings = append([]string(nil), s.Warnings...)
	if s.Analysis != nil {
		a := *s.Analysis
		a.Topics = append([]string(nil), s.Analysis.Topics...)
		a.KeyPoints = append([]string(nil), s.Analysis.KeyPoints...)
		a.SuggestedSections = append([]string(nil), s.Analysis.SuggestedSections...)
		c.Analysis = &a
	}
	return &c
}
