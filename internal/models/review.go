package models

// Conclusion is the final state reported on a check run.
type Conclusion string

const (
	ConclusionSuccess        Conclusion = "success"
	ConclusionActionRequired Conclusion = "action_required"
	ConclusionNeutral        Conclusion = "neutral"
	ConclusionFailure        Conclusion = "failure"
)

// Annotation attaches a message to a file in a check run. Line 0 means the
// first line of the file.
type Annotation struct {
	Path    string `json:"path"`
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// GuardrailVerdict is the outcome of the test-ratio guardrail. Ratio is nil
// when no implementation lines were added.
type GuardrailVerdict struct {
	Ratio       *float64     `json:"ratio"`
	TestLines   int          `json:"test_lines"`
	ImplLines   int          `json:"impl_lines"`
	Threshold   float64      `json:"threshold"`
	Passed      bool         `json:"passed"`
	Overridden  bool         `json:"overridden"`
	Disabled    bool         `json:"disabled"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// Check is a completed check run ready to be reported.
type Check struct {
	Name        string       `json:"name"`
	HeadSHA     string       `json:"head_sha"`
	Conclusion  Conclusion   `json:"conclusion"`
	Title       string       `json:"title"`
	Summary     string       `json:"summary"`
	Annotations []Annotation `json:"annotations,omitempty"`
}
