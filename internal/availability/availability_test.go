package availability

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/peluqueria/booking-engine/internal/calendar"
	"github.com/peluqueria/booking-engine/internal/kv"
	"github.com/peluqueria/booking-engine/internal/models"
	"github.com/peluqueria/booking-engine/internal/repository"
	"github.com/peluqueria/booking-engine/pkg/logger"
)

// fakeCalendar reports a fixed set of occupied intervals for any date, and
// never actually creates or deletes anything — enough for availability
// tests, which never call CreateEvent/DeleteEvent.
type fakeCalendar struct {
	busy []calendar.OccupiedInterval
}

func (f *fakeCalendar) OccupiedIntervals(_ context.Context, _ string, _ time.Time) ([]calendar.OccupiedInterval, error) {
	return f.busy, nil
}

func (f *fakeCalendar) CreateEvent(_ context.Context, _ calendar.CreateEventRequest, _ int) (string, error) {
	return "evt", nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, _, _ string) error { return nil }

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Reservation{}); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return db
}

func testShop(t *testing.T) *models.Shop {
	t.Helper()
	shop := &models.Shop{
		ID:              "shop-1",
		TZ:              "Europe/Madrid",
		NumStaff:        2,
		SlotStepMinutes: 30,
		MinLeadMinutes:  60,
		MaxLeadDays:     150,
	}
	if err := shop.SetStructuredWorkingHours(models.WorkingHours{
		"mon": {{Start: "09:00", End: "13:00"}},
	}); err != nil {
		t.Fatalf("setting working hours: %v", err)
	}
	return shop
}

func TestStartsUnspecifiedProfessionalRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	reservations := repository.NewReservationRepository(db)
	store := kv.NewMemoryStore()
	log := logger.New("error")

	shop := testShop(t)
	service := &models.Service{ID: "svc-1", DurationMinutes: 60}

	// 2026-08-03 is a Monday.
	date, err := time.ParseInLocation("2006-01-02", "2026-08-03", shop.Location())
	if err != nil {
		t.Fatalf("parsing fixture date: %v", err)
	}

	busyStart := time.Date(2026, 8, 3, 9, 0, 0, 0, shop.Location())
	busyEnd := time.Date(2026, 8, 3, 11, 0, 0, 0, shop.Location())
	cal := &fakeCalendar{busy: []calendar.OccupiedInterval{
		{Start: busyStart, End: busyEnd},
		{Start: busyStart, End: busyEnd},
	}}

	computer := NewComputer(cal, reservations, store, log)
	starts, err := computer.Starts(ctx, Request{Shop: shop, Service: service, Date: date})
	if err != nil {
		t.Fatalf("Starts: %v", err)
	}

	for _, s := range starts {
		if s == "09:00" || s == "09:30" || s == "10:00" {
			t.Fatalf("expected %s to be filtered out, both staff are busy 09:00-11:00", s)
		}
	}
	if len(starts) == 0 {
		t.Fatal("expected some bookable starts after 11:00")
	}
}

func TestStartsCachesUnspecifiedProfessionalResult(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	reservations := repository.NewReservationRepository(db)
	store := kv.NewMemoryStore()
	log := logger.New("error")

	shop := testShop(t)
	service := &models.Service{ID: "svc-1", DurationMinutes: 60}
	date, _ := time.ParseInLocation("2006-01-02", "2026-08-03", shop.Location())

	cal := &fakeCalendar{}
	computer := NewComputer(cal, reservations, store, log)

	first, err := computer.Starts(ctx, Request{Shop: shop, Service: service, Date: date})
	if err != nil {
		t.Fatalf("Starts (first call): %v", err)
	}

	key := cacheKey(shop.ID, date.Format("2006-01-02"), service.ID)
	if _, ok, _ := store.Get(ctx, key); !ok {
		t.Fatal("expected the unspecified-professional result to be cached")
	}

	// A second call must use the cache: change the calendar's answer and
	// confirm the cached result from the first call is still returned.
	cal.busy = []calendar.OccupiedInterval{
		{Start: time.Date(2026, 8, 3, 9, 0, 0, 0, shop.Location()), End: time.Date(2026, 8, 3, 13, 0, 0, 0, shop.Location())},
	}
	second, err := computer.Starts(ctx, Request{Shop: shop, Service: service, Date: date})
	if err != nil {
		t.Fatalf("Starts (second call): %v", err)
	}
	if len(second) != len(first) {
		t.Fatalf("expected cached result to be reused, got %v vs first %v", second, first)
	}
}

func TestStartsPurgePrefixInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	reservations := repository.NewReservationRepository(db)
	store := kv.NewMemoryStore()
	log := logger.New("error")

	shop := testShop(t)
	service := &models.Service{ID: "svc-1", DurationMinutes: 60}
	date, _ := time.ParseInLocation("2006-01-02", "2026-08-03", shop.Location())

	cal := &fakeCalendar{}
	computer := NewComputer(cal, reservations, store, log)

	if _, err := computer.Starts(ctx, Request{Shop: shop, Service: service, Date: date}); err != nil {
		t.Fatalf("Starts: %v", err)
	}

	dateStr := date.Format("2006-01-02")
	if err := PurgePrefix(ctx, store, shop.ID, dateStr); err != nil {
		t.Fatalf("PurgePrefix: %v", err)
	}

	key := cacheKey(shop.ID, dateStr, service.ID)
	if _, ok, _ := store.Get(ctx, key); ok {
		t.Fatal("expected PurgePrefix to remove the cached hours key")
	}
}

func TestStartsBeyondLeadWindowReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	reservations := repository.NewReservationRepository(db)
	store := kv.NewMemoryStore()
	log := logger.New("error")

	shop := testShop(t)
	shop.MaxLeadDays = 1
	service := &models.Service{ID: "svc-1", DurationMinutes: 60}

	far := time.Now().In(shop.Location()).AddDate(0, 0, 30)
	cal := &fakeCalendar{}
	computer := NewComputer(cal, reservations, store, log)

	starts, err := computer.Starts(ctx, Request{Shop: shop, Service: service, Date: far})
	if err != nil {
		t.Fatalf("Starts: %v", err)
	}
	if len(starts) != 0 {
		t.Fatalf("expected no bookable starts beyond the lead window, got %v", starts)
	}
}
