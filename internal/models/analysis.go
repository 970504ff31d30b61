package models

// AnalysisKind tags how an Analysis was produced.
type AnalysisKind string

const (
	// AnalysisStructured means the model returned well-formed JSON that
	// passed field validation.
	AnalysisStructured AnalysisKind = "structured"
	// AnalysisFallback means the raw response could not be parsed and the
	// keyword heuristic produced the result instead.
	AnalysisFallback AnalysisKind = "fallback"
)

// AnalysisDetails carries the secondary signals the model reports alongside
// the category.
type AnalysisDetails struct {
	PrimaryApplication string `json:"primary_application"`
	ContentType        string `json:"content_type"`
	// ProductivityIndicator is "productive", "neutral" or "distracting".
	ProductivityIndicator string `json:"productivity_indicator"`
	// DistractionLevel is "low", "medium" or "high".
	DistractionLevel string `json:"distraction_level"`
}

// Analysis is one classification of a captured frame. A nil *Analysis means
// "no result": AI disabled, no credential configured, or a hard API failure.
type Analysis struct {
	Kind       AnalysisKind    `json:"kind"`
	Category   Category        `json:"category"`
	Title      string          `json:"activity_title"`
	Confidence float64         `json:"confidence"`
	Details    AnalysisDetails `json:"details"`
	Insights   []string        `json:"insights,omitempty"`
}

// Fallback reports whether this analysis came from the keyword heuristic.
func (a *Analysis) Fallback() bool {
	return a != nil && a.Kind == AnalysisFallback
}
