package dialogue

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ParsedTime is normalize_time's result (spec §4.1).
type ParsedTime struct {
	Hour       int
	Minute     int
	AMPMClue   string // "am", "pm", or ""
	Ambiguous  bool
}

var (
	reHHMM      = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	reHHOnly    = regexp.MustCompile(`^(\d{1,2})h$`)
	reALasN     = regexp.MustCompile(`a las (\d{1,2})(?::(\d{2}))?`)
	reHourWord  = regexp.MustCompile(`\b(\d{1,2})(?:am|pm|\b)`)
)

// normalizeTime parses Spanish-style time expressions in pure code,
// grounded on interpreta_hora's accepted forms plus the "y cuarto/media"
// family the original left to the LLM — expressed here as deterministic
// rules instead, per spec §9's preference for pure code over an LLM call
// wherever the grammar is closed.
func normalizeTime(raw string) *ParsedTime {
	text := normalizeText(raw)
	text = strings.TrimSpace(text)

	switch text {
	case "mediodia":
		return &ParsedTime{Hour: 12, Minute: 0}
	case "medianoche":
		return &ParsedTime{Hour: 0, Minute: 0}
	}

	ampmClue := ""
	if strings.Contains(text, "pm") || strings.Contains(text, "tarde") || strings.Contains(text, "noche") {
		ampmClue = "pm"
	} else if strings.Contains(text, "am") || strings.Contains(text, "manana") {
		ampmClue = "am"
	}

	if m := reHHMM.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		return finishParsed(h, mm, ampmClue)
	}

	if m := reHHOnly.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		return finishParsed(h, 0, ampmClue)
	}

	if m := reALasN.FindStringSubmatch(text); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm := 0
		if m[2] != "" {
			mm, _ = strconv.Atoi(m[2])
		}
		return applyQuarterWords(text, h, mm, ampmClue)
	}

	if strings.Contains(text, "y cuarto") || strings.Contains(text, "y media") ||
		strings.Contains(text, "y veinte") || strings.Contains(text, "menos cuarto") {
		if m := reHourWord.FindStringSubmatch(text); m != nil {
			h, _ := strconv.Atoi(m[1])
			return applyQuarterWords(text, h, 0, ampmClue)
		}
	}

	if m := reHourWord.FindStringSubmatch(text); m != nil && (strings.Contains(text, "pm") || strings.Contains(text, "am") ||
		strings.Contains(text, "tarde") || strings.Contains(text, "manana") || strings.Contains(text, "noche")) {
		h, _ := strconv.Atoi(m[1])
		return finishParsed(h, 0, ampmClue)
	}

	return nil
}

func applyQuarterWords(text string, h, baseMin int, ampmClue string) *ParsedTime {
	mm := baseMin
	switch {
	case strings.Contains(text, "y cuarto"):
		mm = 15
	case strings.Contains(text, "y media"):
		mm = 30
	case strings.Contains(text, "y veinte"):
		mm = 20
	case strings.Contains(text, "menos cuarto"):
		h = h - 1
		mm = 45
	}
	return finishParsed(h, mm, ampmClue)
}

// finishParsed resolves ambiguity: an hour in 1..12 with no am/pm clue is
// ambiguous (spec §4.1); 0 or 13..23 is always a 24h literal.
func finishParsed(h, m int, ampmClue string) *ParsedTime {
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return nil
	}

	if ampmClue != "" {
		hour24 := h % 12
		if ampmClue == "pm" {
			hour24 += 12
		}
		return &ParsedTime{Hour: hour24, Minute: m, AMPMClue: ampmClue}
	}

	if h >= 1 && h <= 12 {
		return &ParsedTime{Hour: h, Minute: m, Ambiguous: true}
	}
	return &ParsedTime{Hour: h, Minute: m}
}

// AMVariant and PMVariant return the two candidate 24h times for an
// ambiguous hour (1..12).
func (p ParsedTime) AMVariant() string {
	h := p.Hour % 12
	return fmt.Sprintf("%02d:%02d", h, p.Minute)
}

func (p ParsedTime) PMVariant() string {
	h := (p.Hour % 12) + 12
	return fmt.Sprintf("%02d:%02d", h, p.Minute)
}

// HHMM renders an unambiguous parse as "HH:MM".
func (p ParsedTime) HHMM() string {
	return fmt.Sprintf("%02d:%02d", p.Hour, p.Minute)
}
