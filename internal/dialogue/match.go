package dialogue

import (
	"strconv"
	"strings"

	"github.com/peluqueria/booking-engine/internal/models"
)

// matchOrdinal accepts a bare "1".."N" selecting services[n-1].
func matchOrdinal(text string, n int) (int, bool) {
	idx, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || idx < 1 || idx > n {
		return 0, false
	}
	return idx - 1, true
}

// matchServiceText applies the normalise-then-exact/prefix/substring
// pipeline spec §4.1 calls for against the user's raw text and,
// secondarily, the NL interpreter's suggestion.
func matchServiceText(userText, nlpSuggestion string, services []models.Service) (int, bool) {
	needle := normalizeForServiceMatch(userText)
	if idx, ok := matchServiceNeedle(needle, services); ok {
		return idx, true
	}
	if nlpSuggestion != "" {
		needle2 := normalizeForServiceMatch(nlpSuggestion)
		if idx, ok := matchServiceNeedle(needle2, services); ok {
			return idx, true
		}
	}
	return 0, false
}

func matchServiceNeedle(needle string, services []models.Service) (int, bool) {
	if needle == "" {
		return 0, false
	}
	names := make([]string, len(services))
	for i, s := range services {
		names[i] = normalizeForServiceMatch(s.Name)
	}

	for i, n := range names {
		if n == needle {
			return i, true
		}
	}
	for i, n := range names {
		if strings.HasPrefix(n, needle) || strings.HasPrefix(needle, n) {
			return i, true
		}
	}
	for i, n := range names {
		if strings.Contains(n, needle) {
			return i, true
		}
	}
	return 0, false
}

// matchStaffText resolves a staff pick: ordinal, "cualquiera"/"any", or a
// name match against the roster, mirroring matchServiceText's shape.
func matchStaffText(userText string, staff []models.Professional) (idx int, matched bool, isAny bool) {
	normalized := normalizeForServiceMatch(userText)
	if normalized == "cualquiera" || normalized == "any" || normalized == "cualquier" {
		return 0, false, true
	}
	if idx, ok := matchOrdinal(userText, len(staff)); ok {
		return idx, true, false
	}
	for i, p := range staff {
		if normalizeForServiceMatch(p.Name) == normalized {
			return i, true, false
		}
	}
	for i, p := range staff {
		if strings.Contains(normalizeForServiceMatch(p.Name), normalized) {
			return i, true, false
		}
	}
	return 0, false, false
}
