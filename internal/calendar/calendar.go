// Package calendar is the C3 collaborator: reads a shop's occupied ranges
// for a day and creates/cancels events idempotently by a private "gkey"
// property, exactly as spec'd in §4.2 step 4 and §4.3 Phase B.
package calendar

import (
	"context"
	"errors"
	"time"
)

// ErrCapacityExceeded is returned by CreateEvent when the post-insert
// overlap recount (spec §4.3 step 5) finds the shop's capacity already
// taken — the client has already deleted the event it just created.
var ErrCapacityExceeded = errors.New("calendar_capacity_exceeded")

// OccupiedInterval is one busy [Start, End) range on a calendar.
type OccupiedInterval struct {
	Start time.Time
	End   time.Time
}

// CreateEventRequest carries everything needed to idempotently publish a
// reservation's calendar event.
type CreateEventRequest struct {
	CalendarID    string
	GKey          string // private property: <shop_id>:<date>:<start_time>:<reservation_id>
	ReservationID string
	Summary       string
	Start         time.Time
	End           time.Time
}

// Client is the calendar collaborator C6/C8 depend on. Implementations
// must be safe for concurrent use.
type Client interface {
	// OccupiedIntervals returns every busy interval on the calendar for
	// the given date (any hour, in the calendar's own timestamps).
	OccupiedIntervals(ctx context.Context, calendarID string, date time.Time) ([]OccupiedInterval, error)

	// CreateEvent looks up an existing event tagged with req.GKey and
	// PATCHes it in place if found, otherwise inserts a new event; it
	// then re-queries the day and counts events overlapping
	// [req.Start, req.End). If that count exceeds capacity, it deletes
	// the event it just created/patched and returns ErrCapacityExceeded.
	// Returns the external event id on success.
	CreateEvent(ctx context.Context, req CreateEventRequest, capacity int) (eventID string, err error)

	// DeleteEvent removes an event by id. Best-effort: callers treat
	// failure as non-fatal to the surrounding commit.
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}
