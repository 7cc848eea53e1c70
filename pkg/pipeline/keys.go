package pipeline

import (
	"regexp"
	"strings"
)

var (
	camelBoundaryRe = regexp.MustCompile(`(.)([A-Z][a-z]+)`)
	lowerUpperRe    = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	letterDigitRe   = regexp.MustCompile(`([a-zA-Z])([0-9]+)`)
)

// CamelToSnake rewrites a mixed-case identifier into lowercase-with-
// underscores. Boundaries: lowercase/digit followed by uppercase, an
// uppercase run followed by lowercase, and a digit run right after a letter
// (windSpeedAt10m -> wind_speed_at_10m). Idempotent: already-snake input is
// returned unchanged.
func CamelToSnake(name string) string {
	s := camelBoundaryRe.ReplaceAllString(name, "${1}_${2}")
	s = lowerUpperRe.ReplaceAllString(s, "${1}_${2}")
	s = letterDigitRe.ReplaceAllString(s, "${1}_${2}")
	return strings.ToLower(s)
}

// NormalizeKeys returns a structurally identical copy of v in which every
// mapping key has been passed through CamelToSnake. Sequences and scalars
// are copied as-is. Pure function, safe to call on already-normalized input.
func NormalizeKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[CamelToSnake(k)] = NormalizeKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = NormalizeKeys(val)
		}
		return out
	default:
		return v
	}
}
