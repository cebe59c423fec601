// Package analysis converts the analysis endpoint's responses into one
// internal shape. Deployments disagree on the payload: reasons arrive flat or
// grouped by category, recommendations as strings or objects, and the level
// under either "level" or "risk_level".
package analysis

import "encoding/json"

// Level is the normalized risk level.
type Level string

const (
	LevelLow    Level = "Low"
	LevelMedium Level = "Medium"
	LevelHigh   Level = "High"
)

// DefaultSeverity applies to recommendations sent as bare strings.
const DefaultSeverity = "info"

// Recommendation is one suggested change.
type Recommendation struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// RuleMatch is a hit from the rule engine, when the deployment reports them.
type RuleMatch struct {
	Category       string `json:"category"`
	Severity       string `json:"severity"`
	Recommendation string `json:"recommendation"`
}

// Result is an immutable analysis outcome. A new analysis replaces it.
type Result struct {
	Score int   `json:"score"`
	Level Level `json:"risk_level"`
	// LevelLabel is the server's own wording, humanized ("Medium Risk").
	LevelLabel      string              `json:"risk_label,omitempty"`
	Reasons         []string            `json:"reasons"`
	Recommendations []Recommendation    `json:"recommendations"`
	RawTriggers     map[string][]string `json:"raw_triggers,omitempty"`
	RuleMatches     []RuleMatch         `json:"rule_matches,omitempty"`
	Rationale       string              `json:"rationale,omitempty"`
	// Payload is the analysis as the server sent it (or its "raw" member),
	// echoed back verbatim when exporting a report.
	Payload json.RawMessage `json:"-"`
}

// LevelForScore derives a level from a 0..100 score.
func LevelForScore(score int) Level {
	switch {
	case score > 70:
		return LevelHigh
	case score > 30:
		return LevelMedium
	default:
		return LevelLow
	}
}
