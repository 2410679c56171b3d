package reservation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/peluqueria/booking-engine/internal/calendar"
	"github.com/peluqueria/booking-engine/internal/config"
	"github.com/peluqueria/booking-engine/internal/kv"
	"github.com/peluqueria/booking-engine/internal/models"
	"github.com/peluqueria/booking-engine/internal/repository"
	"github.com/peluqueria/booking-engine/pkg/events"
	"github.com/peluqueria/booking-engine/pkg/logger"
)

// The concurrency guarantees of the commit protocol (row locks plus the
// capacity count inside one transaction) depend on real FOR UPDATE
// semantics, which sqlite cannot reproduce. This suite runs only against a
// Postgres pointed to by TEST_DATABASE_URL.
func newPostgresCommitter(t *testing.T) (*Committer, *gorm.DB) {
	t.Helper()
	if os.Getenv("TEST_DATABASE_URL") == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping Postgres commit-protocol suite")
	}

	cfg := config.NewTestConfig()
	db, err := gorm.Open(postgres.Open(cfg.GetDatabaseURL()), &gorm.Config{})
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	if err := db.AutoMigrate(&models.Shop{}, &models.Service{}, &models.Professional{}, &models.Reservation{}); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	shops := repository.NewShopRepository(db)
	services := repository.NewServiceRepository(db)
	professionals := repository.NewProfessionalRepository(db)
	reservations := repository.NewReservationRepository(db)
	log := logger.New("error")

	committer := NewCommitter(db, kv.NewMemoryStore(), calendar.NewNoopClient(), shops, services, professionals, reservations, events.NewNullPublisher(log), log)
	return committer, db
}

func TestConcurrentBookingsNeverExceedCapacity(t *testing.T) {
	ctx := context.Background()
	committer, db := newPostgresCommitter(t)

	shop := &models.Shop{TZ: "Europe/Madrid", NumStaff: 2, SlotStepMinutes: 30}
	if err := db.Create(shop).Error; err != nil {
		t.Fatalf("seeding shop: %v", err)
	}
	service := &models.Service{ShopID: shop.ID, Name: "Corte", DurationMinutes: 30}
	if err := db.Create(service).Error; err != nil {
		t.Fatalf("seeding service: %v", err)
	}
	t.Cleanup(func() {
		db.Where("shop_id = ?", shop.ID).Delete(&models.Reservation{})
		db.Delete(service)
		db.Delete(shop)
	})

	const attempts = 3
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := committer.Book(ctx, BookRequest{
				ShopID: shop.ID, ServiceID: service.ID,
				CustomerName:  fmt.Sprintf("Cliente %d", i),
				CustomerPhone: fmt.Sprintf("+3460000000%d", i),
				Date:          "2026-08-03", StartTime: "11:00",
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	successes, noSlot := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrNoSlot):
			noSlot++
		default:
			t.Fatalf("unexpected commit error: %v", err)
		}
	}
	if successes != shop.NumStaff {
		t.Fatalf("successful commits = %d, want exactly capacity %d", successes, shop.NumStaff)
	}
	if noSlot != attempts-shop.NumStaff {
		t.Fatalf("no_slot results = %d, want %d", noSlot, attempts-shop.NumStaff)
	}

	var count int64
	db.Model(&models.Reservation{}).
		Where("shop_id = ? AND date = ? AND start_time = ? AND status = ?", shop.ID, "2026-08-03", "11:00", models.ReservationConfirmed).
		Count(&count)
	if count != int64(shop.NumStaff) {
		t.Fatalf("persisted confirmed reservations = %d, want %d", count, shop.NumStaff)
	}
}
