package util

import (
	"errors"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// SanitizeFileName removes path separators and rejects traversal patterns.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errors.New("invalid file name")
	}
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '"' {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return "", errors.New("invalid file name")
	}
	return s, nil
}

// StripMarkup removes every HTML element from a server-provided string and
// decodes entities, leaving plain text safe to hand to any renderer.
func StripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}

// StripMarkupAll applies StripMarkup to each element and drops empty results.
func StripMarkupAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if clean := StripMarkup(s); clean != "" {
			out = append(out, clean)
		}
	}
	return out
}
