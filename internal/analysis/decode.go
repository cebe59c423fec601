package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"greencheck-workspace/internal/shared/util"
)

// ErrInvalid is returned when the body is not an analysis object.
var ErrInvalid = errors.New("invalid analysis payload")

// Decode normalizes one analysis response.
func Decode(raw json.RawMessage) (Result, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Result{}, fmt.Errorf("%w: expected a json object", ErrInvalid)
	}

	res := Result{Payload: append(json.RawMessage(nil), raw...)}
	if inner, ok := fields["raw"]; ok && isObject(inner) {
		res.Payload = append(json.RawMessage(nil), inner...)
	}

	score, hasScore := number(fields["score"])
	res.Score = clampScore(score)

	label := stringField(fields, "level")
	if label == "" {
		label = stringField(fields, "risk_level")
	}
	res.LevelLabel = humanize(label)
	if lvl, ok := parseLevel(label); ok {
		res.Level = lvl
	} else if hasScore {
		res.Level = LevelForScore(res.Score)
	} else {
		res.Level = LevelLow
	}

	reasons := stringList(fields["reasons"])
	if triggers := triggerMap(fields["triggers"]); len(triggers) > 0 {
		res.RawTriggers = triggers
		reasons = append(reasons, flattenTriggers(triggers)...)
	}

	recs := recommendationList(fields["recommendations"])

	if gpt, ok := fields["gpt_analysis"]; ok {
		var g map[string]json.RawMessage
		if json.Unmarshal(gpt, &g) == nil {
			reasons = append(reasons, stringList(g["reasons"])...)
			recs = append(recs, recommendationList(g["recommendations"])...)
		}
	}

	res.Reasons = dedupe(util.StripMarkupAll(reasons))
	res.Recommendations = dedupeRecommendations(recs)
	res.RuleMatches = ruleMatches(fields["rule_matches"])
	res.Rationale = util.StripMarkup(stringField(fields, "rationale"))
	return res, nil
}

func isObject(raw json.RawMessage) bool {
	var m map[string]json.RawMessage
	return json.Unmarshal(raw, &m) == nil && m != nil
}

func number(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, !math.IsNaN(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil && !math.IsNaN(f) {
			return f, true
		}
	}
	return 0, false
}

func clampScore(f float64) int {
	switch {
	case f <= 0:
		return 0
	case f >= 100:
		return 100
	default:
		return int(math.Round(f))
	}
}

func stringField(fields map[string]json.RawMessage, key string) string {
	var s string
	if raw, ok := fields[key]; ok && json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

func parseLevel(label string) (Level, bool) {
	l := strings.ToLower(label)
	switch {
	case l == "":
		return "", false
	case strings.Contains(l, "high"), strings.Contains(l, "severe"), strings.Contains(l, "critical"):
		return LevelHigh, true
	case strings.Contains(l, "medium"), strings.Contains(l, "moderate"):
		return LevelMedium, true
	case strings.Contains(l, "low"), strings.Contains(l, "minimal"):
		return LevelLow, true
	}
	return "", false
}

// humanize turns "medium_risk" into "Medium Risk".
func humanize(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
	out := []rune(s)
	start := true
	for i, r := range out {
		if start && unicode.IsLetter(r) {
			out[i] = unicode.ToUpper(r)
		}
		start = !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}
	return string(out)
}

func stringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if json.Unmarshal(item, &s) == nil {
			out = append(out, s)
		}
	}
	return out
}

func triggerMap(raw json.RawMessage) map[string][]string {
	if len(raw) == 0 {
		return nil
	}
	var grouped map[string]json.RawMessage
	if json.Unmarshal(raw, &grouped) != nil {
		return nil
	}
	out := make(map[string][]string, len(grouped))
	for category, values := range grouped {
		name := util.StripMarkup(category)
		if name == "" {
			continue
		}
		out[name] = util.StripMarkupAll(stringList(values))
	}
	return out
}

func flattenTriggers(triggers map[string][]string) []string {
	categories := make([]string, 0, len(triggers))
	for c := range triggers {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	out := make([]string, 0, len(categories))
	for _, c := range categories {
		values := triggers[c]
		if len(values) == 0 {
			out = append(out, humanize(c))
			continue
		}
		out = append(out, humanize(c)+": "+strings.Join(values, ", "))
	}
	return out
}

func recommendationList(raw json.RawMessage) []Recommendation {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		return nil
	}
	out := make([]Recommendation, 0, len(items))
	for _, item := range items {
		var s string
		if json.Unmarshal(item, &s) == nil {
			out = append(out, Recommendation{Message: s, Severity: DefaultSeverity})
			continue
		}
		var obj struct {
			Message        string `json:"message"`
			Text           string `json:"text"`
			Recommendation string `json:"recommendation"`
			Severity       string `json:"severity"`
		}
		if json.Unmarshal(item, &obj) != nil {
			continue
		}
		msg := firstNonEmpty(obj.Message, obj.Text, obj.Recommendation)
		sev := strings.ToLower(strings.TrimSpace(obj.Severity))
		if sev == "" {
			sev = DefaultSeverity
		}
		out = append(out, Recommendation{Message: msg, Severity: sev})
	}
	return out
}

func ruleMatches(raw json.RawMessage) []RuleMatch {
	if len(raw) == 0 {
		return nil
	}
	var matches []RuleMatch
	if json.Unmarshal(raw, &matches) != nil {
		return nil
	}
	out := matches[:0]
	for _, m := range matches {
		m.Category = util.StripMarkup(m.Category)
		m.Severity = util.StripMarkup(m.Severity)
		m.Recommendation = util.StripMarkup(m.Recommendation)
		if m.Category == "" && m.Recommendation == "" {
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func dedupeRecommendations(in []Recommendation) []Recommendation {
	seen := make(map[string]struct{}, len(in))
	out := make([]Recommendation, 0, len(in))
	for _, r := range in {
		r.Message = util.StripMarkup(r.Message)
		r.Severity = util.StripMarkup(r.Severity)
		if r.Message == "" {
			continue
		}
		if _, ok := seen[r.Message]; ok {
			continue
		}
		seen[r.Message] = struct{}{}
		out = append(out, r)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
