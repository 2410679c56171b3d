package dialogue

import (
	"testing"
	"time"

	"github.com/peluqueria/booking-engine/internal/models"
)

func madridNow(t *testing.T, iso string) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		t.Fatalf("loading Europe/Madrid: %v", err)
	}
	parsed, err := time.ParseInLocation("2006-01-02", iso, loc)
	if err != nil {
		t.Fatalf("parsing fixture date %q: %v", iso, err)
	}
	return parsed
}

func TestCheckDateInPast(t *testing.T) {
	shop := &models.Shop{MaxLeadDays: 150}
	now := madridNow(t, "2026-07-31")
	if got := checkDate(shop, "2026-07-30", now); got != DateInPast {
		t.Fatalf("checkDate past date = %v, want DateInPast", got)
	}
}

func TestCheckDateClosedWeekday(t *testing.T) {
	shop := &models.Shop{MaxLeadDays: 150, ClosedWeekdaysCSV: "sun"}
	now := madridNow(t, "2026-07-31") // Friday
	// 2026-08-02 is a Sunday.
	if got := checkDate(shop, "2026-08-02", now); got != DateClosedWeekday {
		t.Fatalf("checkDate closed weekday = %v, want DateClosedWeekday", got)
	}
}

func TestCheckDateClosedSpecific(t *testing.T) {
	shop := &models.Shop{MaxLeadDays: 150, ClosedDatesCSV: "2026-12-25", ClosedRecurringCSV: "01-01"}
	now := madridNow(t, "2026-07-31")
	if got := checkDate(shop, "2026-12-25", now); got != DateClosedSpecific {
		t.Fatalf("checkDate literal closed date = %v, want DateClosedSpecific", got)
	}
	if got := checkDate(shop, "2027-01-01", now); got != DateClosedSpecific {
		t.Fatalf("checkDate recurring closed date = %v, want DateClosedSpecific", got)
	}
}

func TestCheckDateOutOfLeadWindow(t *testing.T) {
	shop := &models.Shop{MaxLeadDays: 10}
	now := madridNow(t, "2026-07-31")
	if got := checkDate(shop, "2026-08-20", now); got != DateOutOfLeadWindow {
		t.Fatalf("checkDate beyond lead window = %v, want DateOutOfLeadWindow", got)
	}
}

func TestCheckDateOK(t *testing.T) {
	shop := &models.Shop{MaxLeadDays: 150}
	now := madridNow(t, "2026-07-31")
	if got := checkDate(shop, "2026-08-05", now); got != DateOK {
		t.Fatalf("checkDate valid date = %v, want DateOK", got)
	}
	if got := checkDate(shop, "2026-07-31", now); got != DateOK {
		t.Fatalf("checkDate today = %v, want DateOK", got)
	}
}
