// Package availability implements C6: pure slot computation over a
// shop's working hours, advance-booking window, and calendar/DB
// occupancy. Grounded on the original implementation's
// reserva_utils.py (horas_disponibles / horas_disponibles_para_peluquero),
// generalised from its Google-Calendar-only read path to the C3 Client
// interface and from its sqlite overlap helper to repository queries.
package availability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/peluqueria/booking-engine/internal/calendar"
	"github.com/peluqueria/booking-engine/internal/kv"
	"github.com/peluqueria/booking-engine/internal/models"
	"github.com/peluqueria/booking-engine/internal/repository"
	"github.com/peluqueria/booking-engine/pkg/logger"
)

const cacheTTL = 120 * time.Second

// Computer is C6.
type Computer struct {
	calendar      calendar.Client
	reservations  *repository.ReservationRepository
	kv            kv.Store
	logger        logger.Logger
}

func NewComputer(cal calendar.Client, reservations *repository.ReservationRepository, store kv.Store, log logger.Logger) *Computer {
	return &Computer{calendar: cal, reservations: reservations, kv: store, logger: log}
}

// Request describes one availability query (spec §4.2 inputs).
type Request struct {
	Shop           *models.Shop
	Service        *models.Service
	Date           time.Time // shop-local calendar date, time-of-day ignored
	ProfessionalID string    // empty ⇒ unspecified-professional path
}

// Cache keys are ordered shop, date, service so that a purge for a given
// (shop, date) can prefix-match across every service without knowing its
// id (spec §4.2: purge is "for that shop, date, across all service keys").
func cacheKey(shopID, date, serviceID string) string {
	return fmt.Sprintf("hours:%s:%s:%s", shopID, date, serviceID)
}

func cachePrefix(shopID, date string) string {
	return fmt.Sprintf("hours:%s:%s:", shopID, date)
}

// PurgePrefix purges every cached hours key for a shop/date across all
// services — called by the committer on commit/cancel (spec §4.2).
func PurgePrefix(ctx context.Context, store kv.Store, shopID, date string) error {
	return store.DeletePrefix(ctx, cachePrefix(shopID, date))
}

// Starts returns the ordered bookable HH:MM start times for req.
func (c *Computer) Starts(ctx context.Context, req Request) ([]string, error) {
	dateStr := req.Date.Format("2006-01-02")
	loc := req.Shop.Location()
	now := time.Now().In(loc)

	if req.Date.After(now.AddDate(0, 0, req.Shop.MaxLeadDays)) {
		return nil, nil
	}

	unspecified := req.ProfessionalID == ""
	if unspecified {
		key := cacheKey(req.Shop.ID, dateStr, req.Service.ID)
		if cached, ok, err := c.kv.Get(ctx, key); err == nil && ok {
			return decodeSlots(cached), nil
		}
	}

	starts, err := c.candidateStarts(req.Shop, req.Service, req.Date, now)
	if err != nil {
		return nil, err
	}
	if len(starts) == 0 {
		return nil, nil
	}

	busy, err := c.calendar.OccupiedIntervals(ctx, req.Shop.CalendarID, req.Date)
	if err != nil {
		return nil, fmt.Errorf("reading calendar occupancy: %w", err)
	}

	var bookable []string
	if unspecified {
		bookable = filterByCapacity(starts, req.Service.DurationMinutes, busy, req.Shop.NumStaff)
	} else {
		reserved, err := c.reservations.ConfirmedForProfessionalOnDate(ctx, req.Shop.ID, req.ProfessionalID, dateStr)
		if err != nil {
			return nil, fmt.Errorf("reading professional reservations: %w", err)
		}
		bookable = filterForProfessional(starts, req.Service.DurationMinutes, busy, reserved)
	}

	sort.Strings(bookable)

	if unspecified {
		key := cacheKey(req.Shop.ID, dateStr, req.Service.ID)
		if err := c.kv.Set(ctx, key, encodeSlots(bookable), cacheTTL); err != nil {
			c.logger.Warn("failed to cache availability", "error", err, "shop_id", req.Shop.ID)
		}
	}

	return bookable, nil
}

// candidateStarts implements step 2-3: every slot_step_minutes-aligned
// start within the day's working intervals that leaves room for the full
// duration, dropping same-day starts inside the minimum lead window.
func (c *Computer) candidateStarts(shop *models.Shop, service *models.Service, date, now time.Time) ([]string, error) {
	weekday := models.WeekdayOf(date)
	if shop.IsClosedOn(date, weekday) {
		return nil, nil
	}

	intervals := shop.WorkingIntervalsFor(weekday)
	if len(intervals) == 0 {
		return nil, nil
	}

	step := shop.SlotStepMinutes
	if step <= 0 {
		step = 30
	}
	dur := service.DurationMinutes

	var cutoffAbsMin = -1
	sameDay := now.Format("2006-01-02") == date.Format("2006-01-02")
	if sameDay {
		cutoffAbsMin = now.Hour()*60 + now.Minute() + shop.MinLeadMinutes
	}

	var starts []string
	for _, iv := range intervals {
		startMin, err := toMinutes(iv.Start)
		if err != nil {
			return nil, fmt.Errorf("parsing working interval start %q: %w", iv.Start, err)
		}
		endMin, err := toMinutes(iv.End)
		if err != nil {
			return nil, fmt.Errorf("parsing working interval end %q: %w", iv.End, err)
		}

		for cur := startMin; cur+dur <= endMin; cur += step {
			if sameDay && cur < cutoffAbsMin {
				continue
			}
			starts = append(starts, fromMinutes(cur))
		}
	}
	return starts, nil
}

func filterByCapacity(starts []string, dur int, busy []calendar.OccupiedInterval, capacity int) []string {
	var out []string
	for _, s := range starts {
		startMin, _ := toMinutes(s)
		if concurrentBusy(startMin, startMin+dur, busy) < capacity {
			out = append(out, s)
		}
	}
	return out
}

func filterForProfessional(starts []string, dur int, busy []calendar.OccupiedInterval, reserved []models.Reservation) []string {
	var out []string
	for _, s := range starts {
		startMin, _ := toMinutes(s)
		endMin := startMin + dur
		if concurrentBusy(startMin, endMin, busy) > 0 {
			continue
		}
		if overlapsAny(startMin, endMin, reserved) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func overlapsAny(startMin, endMin int, reserved []models.Reservation) bool {
	for _, r := range reserved {
		rStart, err := toMinutes(r.StartTime)
		if err != nil {
			continue
		}
		rEnd := rStart + r.DurationMinutes
		if startMin < rEnd && rStart < endMin {
			return true
		}
	}
	return false
}

func concurrentBusy(startMin, endMin int, busy []calendar.OccupiedInterval) int {
	count := 0
	for _, b := range busy {
		bStart := b.Start.Hour()*60 + b.Start.Minute()
		bEnd := b.End.Hour()*60 + b.End.Minute()
		if startMin < bEnd && bStart < endMin {
			count++
		}
	}
	return count
}

func toMinutes(hhmm string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	return h*60 + m, nil
}

func fromMinutes(n int) string {
	if n < 0 {
		n = 0
	}
	return fmt.Sprintf("%02d:%02d", n/60, n%60)
}

func encodeSlots(slots []string) string {
	return strings.Join(slots, ",")
}

func decodeSlots(raw string) []string {
	if raw == "" {
		return nil
	}
	return strings.Split(raw, ",")
}
