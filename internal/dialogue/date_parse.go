package dialogue

import (
	"time"

	"github.com/araddon/dateparse"

	"github.com/peluqueria/booking-engine/internal/models"
)

// parseDateLocale tries the locale-aware (day-month-year) parser first,
// relative to "now" in the shop's own timezone (spec §4.1). Returns the
// ISO date and true on success.
func parseDateLocale(text string, now time.Time) (string, bool) {
	t, err := dateparse.ParseIn(text, now.Location(), dateparse.PreferMonthFirst(false))
	if err != nil {
		return "", false
	}
	// A bare day-of-month with no year resolves against the parser's own
	// current-year default, which is what "relative base = today" means
	// here absent an explicit relative-phrase grammar.
	return t.Format("2006-01-02"), true
}

// DateCheckResult names which business rule a candidate date failed, if
// any (spec §4.1's four checks, applied in order).
type DateCheckResult int

const (
	DateOK DateCheckResult = iota
	DateInPast
	DateClosedWeekday
	DateClosedSpecific
	DateOutOfLeadWindow
)

// checkDate applies the four business checks in spec order.
func checkDate(shop *models.Shop, dateStr string, now time.Time) DateCheckResult {
	date, err := time.ParseInLocation("2006-01-02", dateStr, now.Location())
	if err != nil {
		return DateInPast
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	if date.Before(today) {
		return DateInPast
	}

	weekday := models.WeekdayOf(date)
	if shop.ClosedWeekdays()[weekday] {
		return DateClosedWeekday
	}
	if shop.ClosedDates()[date.Format("2006-01-02")] || shop.ClosedRecurring()[date.Format("01-02")] {
		return DateClosedSpecific
	}
	if date.After(today.AddDate(0, 0, shop.MaxLeadDays)) {
		return DateOutOfLeadWindow
	}
	return DateOK
}
