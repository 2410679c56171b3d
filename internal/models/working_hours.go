package models

import (
	"encoding/json"
	"strings"
	"time"
)

// StructuredWorkingHours unmarshals the structured per-weekday working
// hours, or returns nil if none is set (legacy string form should then be
// consulted).
func (s *Shop) StructuredWorkingHours() (WorkingHours, error) {
	if s.WorkingHoursJSON == "" {
		return nil, nil
	}
	var wh WorkingHours
	if err := json.Unmarshal([]byte(s.WorkingHoursJSON), &wh); err != nil {
		return nil, err
	}
	return wh, nil
}

// SetStructuredWorkingHours encodes wh into WorkingHoursJSON.
func (s *Shop) SetStructuredWorkingHours(wh WorkingHours) error {
	b, err := json.Marshal(wh)
	if err != nil {
		return err
	}
	s.WorkingHoursJSON = string(b)
	return nil
}

// Location resolves the shop's IANA timezone, falling back to UTC if the
// stored zone name cannot be loaded (a misconfigured shop row should
// still degrade rather than panic downstream).
func (s *Shop) Location() *time.Location {
	if s.TZ == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsClosedOn reports whether the shop is closed on date, combining the
// weekly, literal-date, and annual-recurring closure sets (spec §3).
func (s *Shop) IsClosedOn(date time.Time, weekday string) bool {
	if s.ClosedWeekdays()[weekday] {
		return true
	}
	if s.ClosedDates()[date.Format("2006-01-02")] {
		return true
	}
	if s.ClosedRecurring()[date.Format("01-02")] {
		return true
	}
	return false
}

// WorkingIntervalsFor resolves the ordered working intervals for weekday,
// preferring the structured per-weekday form and falling back to the
// legacy single-string form applied uniformly across non-closed days.
func (s *Shop) WorkingIntervalsFor(weekday string) []WorkingInterval {
	wh, err := s.StructuredWorkingHours()
	if err == nil && wh != nil {
		return wh[weekday]
	}

	legacy := "09:00-20:00"
	if s.WorkingHoursLegacy != nil && strings.TrimSpace(*s.WorkingHoursLegacy) != "" {
		legacy = *s.WorkingHoursLegacy
	}
	return parseLegacyHours(legacy)
}

func parseLegacyHours(raw string) []WorkingInterval {
	var out []WorkingInterval
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		bounds := strings.SplitN(part, "-", 2)
		if len(bounds) != 2 {
			continue
		}
		out = append(out, WorkingInterval{
			Start: strings.TrimSpace(bounds[0]),
			End:   strings.TrimSpace(bounds[1]),
		})
	}
	return out
}
