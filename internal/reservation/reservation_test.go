package reservation

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/peluqueria/booking-engine/internal/calendar"
	"github.com/peluqueria/booking-engine/internal/kv"
	"github.com/peluqueria/booking-engine/internal/models"
	"github.com/peluqueria/booking-engine/internal/repository"
	"github.com/peluqueria/booking-engine/pkg/events"
	"github.com/peluqueria/booking-engine/pkg/logger"
)

func newTestCommitter(t *testing.T) (*Committer, *repository.ShopRepository, *repository.ServiceRepository, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Shop{}, &models.Service{}, &models.Professional{}, &models.Reservation{}); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	shops := repository.NewShopRepository(db)
	services := repository.NewServiceRepository(db)
	professionals := repository.NewProfessionalRepository(db)
	reservations := repository.NewReservationRepository(db)
	store := kv.NewMemoryStore()
	cal := calendar.NewNoopClient()
	log := logger.New("error")
	publisher := events.NewNullPublisher(log)

	committer := NewCommitter(db, store, cal, shops, services, professionals, reservations, publisher, log)
	return committer, shops, services, db
}

func seedShopAndService(t *testing.T, db *gorm.DB, numStaff int) (*models.Shop, *models.Service) {
	t.Helper()
	shop := &models.Shop{TZ: "Europe/Madrid", NumStaff: numStaff, SlotStepMinutes: 30}
	if err := db.Create(shop).Error; err != nil {
		t.Fatalf("seeding shop: %v", err)
	}
	service := &models.Service{ShopID: shop.ID, Name: "Corte", DurationMinutes: 60}
	if err := db.Create(service).Error; err != nil {
		t.Fatalf("seeding service: %v", err)
	}
	return shop, service
}

func TestBookSucceedsWithinCapacity(t *testing.T) {
	ctx := context.Background()
	committer, _, _, db := newTestCommitter(t)
	shop, service := seedShopAndService(t, db, 2)

	result, err := committer.Book(ctx, BookRequest{
		ShopID: shop.ID, ServiceID: service.ID, CustomerName: "Ana", CustomerPhone: "+34600000001",
		Date: "2026-08-03", StartTime: "10:00",
	})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if result.ReservationID == "" {
		t.Fatal("expected a reservation id")
	}
	if result.Replayed {
		t.Fatal("first booking must not be reported as replayed")
	}
}

func TestBookRejectsWhenCapacityExhausted(t *testing.T) {
	ctx := context.Background()
	committer, _, _, db := newTestCommitter(t)
	shop, service := seedShopAndService(t, db, 1)

	if _, err := committer.Book(ctx, BookRequest{
		ShopID: shop.ID, ServiceID: service.ID, CustomerName: "Ana", CustomerPhone: "+34600000001",
		Date: "2026-08-03", StartTime: "10:00",
	}); err != nil {
		t.Fatalf("first Book: %v", err)
	}

	_, err := committer.Book(ctx, BookRequest{
		ShopID: shop.ID, ServiceID: service.ID, CustomerName: "Beto", CustomerPhone: "+34600000002",
		Date: "2026-08-03", StartTime: "10:30",
	})
	if !errors.Is(err, ErrNoSlot) {
		t.Fatalf("expected ErrNoSlot for a single-staff shop's overlapping slot, got %v", err)
	}
}

func TestBookIsIdempotentOnCallerSuppliedKey(t *testing.T) {
	ctx := context.Background()
	committer, _, _, db := newTestCommitter(t)
	shop, service := seedShopAndService(t, db, 2)

	req := BookRequest{
		ShopID: shop.ID, ServiceID: service.ID, CustomerName: "Ana", CustomerPhone: "+34600000001",
		Date: "2026-08-03", StartTime: "10:00", IdempotencyKey: "client-key-1",
	}

	first, err := committer.Book(ctx, req)
	if err != nil {
		t.Fatalf("first Book: %v", err)
	}

	second, err := committer.Book(ctx, req)
	if err != nil {
		t.Fatalf("replayed Book: %v", err)
	}
	if !second.Replayed {
		t.Fatal("expected the second call with the same idempotency key to be a replay")
	}
	if second.ReservationID != first.ReservationID {
		t.Fatalf("replayed result reservation id = %q, want %q", second.ReservationID, first.ReservationID)
	}

	var count int64
	db.Model(&models.Reservation{}).Where("shop_id = ?", shop.ID).Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one persisted reservation, found %d", count)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	committer, _, _, db := newTestCommitter(t)
	shop, service := seedShopAndService(t, db, 2)

	booked, err := committer.Book(ctx, BookRequest{
		ShopID: shop.ID, ServiceID: service.ID, CustomerName: "Ana", CustomerPhone: "+34600000001",
		Date: "2026-08-03", StartTime: "10:00",
	})
	if err != nil {
		t.Fatalf("Book: %v", err)
	}

	outcome, err := committer.Cancel(ctx, booked.ReservationID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if outcome.Skipped != "" {
		t.Fatalf("expected the first cancel to succeed, got skipped=%q", outcome.Skipped)
	}

	outcome, err = committer.Cancel(ctx, booked.ReservationID)
	if err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if outcome.Skipped != "already_cancelled" {
		t.Fatalf("expected the second cancel to report already_cancelled, got %q", outcome.Skipped)
	}
}

func TestCancelUnknownReservationReportsNotFound(t *testing.T) {
	ctx := context.Background()
	committer, _, _, _ := newTestCommitter(t)

	outcome, err := committer.Cancel(ctx, "00000000-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if outcome.Skipped != "not_found" {
		t.Fatalf("expected not_found for unknown reservation id, got %q", outcome.Skipped)
	}
}

func TestBookAutoAssignsFirstFreeProfessional(t *testing.T) {
	ctx := context.Background()
	committer, _, _, db := newTestCommitter(t)
	shop, service := seedShopAndService(t, db, 2)
	shop.EnableStaffSelection = true
	if err := db.Save(shop).Error; err != nil {
		t.Fatalf("updating shop: %v", err)
	}

	p1 := &models.Professional{ShopID: shop.ID, Name: "Ana"}
	p2 := &models.Professional{ShopID: shop.ID, Name: "Beto"}
	if err := db.Create(p1).Error; err != nil {
		t.Fatalf("seeding professional 1: %v", err)
	}
	if err := db.Create(p2).Error; err != nil {
		t.Fatalf("seeding professional 2: %v", err)
	}

	first, err := committer.Book(ctx, BookRequest{
		ShopID: shop.ID, ServiceID: service.ID, CustomerName: "Cliente 1", CustomerPhone: "+34600000001",
		Date: "2026-08-03", StartTime: "10:00",
	})
	if err != nil {
		t.Fatalf("first Book: %v", err)
	}
	if first.ProfessionalID != p1.ID {
		t.Fatalf("expected auto-assignment to pick the first listed professional %q, got %q", p1.ID, first.ProfessionalID)
	}

	second, err := committer.Book(ctx, BookRequest{
		ShopID: shop.ID, ServiceID: service.ID, CustomerName: "Cliente 2", CustomerPhone: "+34600000002",
		Date: "2026-08-03", StartTime: "10:00",
	})
	if err != nil {
		t.Fatalf("second Book: %v", err)
	}
	if second.ProfessionalID != p2.ID {
		t.Fatalf("expected auto-assignment to pick the second professional once the first is busy, got %q", second.ProfessionalID)
	}
}
