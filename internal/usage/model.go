package usage

import (
	"encoding/json"
	"math"
	"time"
)

// Summary mirrors the server's usage counters. Nil fields were absent in the
// server payload; absence means "not applicable", not zero.
type Summary struct {
	UsedToday      *int `json:"used_today,omitempty"`
	RemainingToday *int `json:"remaining_today,omitempty"`
	Limit          *int `json:"limit,omitempty"`
	IsPremium      bool `json:"is_premium"`
}

// Log is one past analysis as recorded by the server.
type Log struct {
	ID                  string          `json:"id"`
	Timestamp           time.Time       `json:"timestamp"`
	InputType           string          `json:"input_type"`
	CharsCount          *int            `json:"chars_count,omitempty"`
	PremiumFeaturesUsed bool            `json:"premium_features_used"`
	DurationMs          int             `json:"duration_ms"`
	Result              json.RawMessage `json:"result_json,omitempty"`
}

// ParseSummary reads a summary from a decoded JSON value. It accepts the flat
// shape and the error envelope {detail: {...}}. Fields that are missing or not
// numeric are left nil. ok is false when body is not an object.
func ParseSummary(body any) (Summary, bool) {
	obj, ok := body.(map[string]any)
	if !ok {
		return Summary{}, false
	}
	if detail, ok := obj["detail"].(map[string]any); ok {
		obj = detail
	}
	s := Summary{
		UsedToday:      intField(obj, "used_today"),
		RemainingToday: intField(obj, "remaining_today"),
		Limit:          intField(obj, "limit"),
	}
	if premium, ok := obj["is_premium"].(bool); ok {
		s.IsPremium = premium
	}
	return s, true
}

func intField(obj map[string]any, key string) *int {
	switch v := obj[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		n := int(v)
		return &n
	case int:
		n := v
		return &n
	case json.Number:
		if i, err := v.Int64(); err == nil {
			n := int(i)
			return &n
		}
	}
	return nil
}

// Int is a convenience for building summaries.
func Int(n int) *int {
	return &n
}
