package models

// KeyEntities holds named entities extracted from a chunk
type KeyEntities struct {
	People        []string `json:"people"`
	Organizations []string `json:"organizations"`
	Locations     []string `json:"locations"`
}

// Analysis is the per-chunk output of the LLM analyzer. The schema is
// deterministic: the analyzer always returns a populated Analysis, marking
// AnalysisError when the model output could not be used.
type Analysis struct {
	Sentiment         string      `json:"sentiment"`
	Category          string      `json:"category"`
	ContentType       string      `json:"content_type"`
	TechnicalLevel    string      `json:"technical_level"`
	MainTopics        []string    `json:"main_topics"`
	KeyConcepts       string      `json:"key_concepts"`
	Emotions          []string    `json:"emotions"`
	Tags              string      `json:"tags"`
	KeyEntities       KeyEntities `json:"key_entities"`
	ContextualSummary string      `json:"contextual_summary,omitempty"`
	DocumentSummary   string      `json:"document_summary,omitempty"`
	AnalysisError     string      `json:"analysis_error,omitempty"`
}

// DefaultAnalysis returns the analysis used when the model output is
// invalid or the analyzer is disabled. Callers fill in heuristic fields
// where they can.
func DefaultAnalysis() Analysis {
	return Analysis{
		Sentiment:      "neutral",
		Category:       "general",
		ContentType:    "text",
		TechnicalLevel: "intermediate",
		MainTopics:     []string{},
		Emotions:       []string{},
		KeyEntities: KeyEntities{
			People:        []string{},
			Organizations: []string{},
			Locations:     []string{},
		},
	}
}

// Normalize fills nil slices so the analysis marshals to a stable shape.
func (a *Analysis) Normalize() {
	if a.MainTopics == nil {
		a.MainTopics = []string{}
	}
	if a.Emotions == nil {
		a.Emotions = []string{}
	}
	if a.KeyEntities.People == nil {
		a.KeyEntities.People = []string{}
	}
	if a.KeyEntities.Organizations == nil {
		a.KeyEntities.Organizations = []string{}
	}
	if a.KeyEntities.Locations == nil {
		a.KeyEntities.Locations = []string{}
	}
}
