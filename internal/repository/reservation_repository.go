package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/peluqueria/booking-engine/internal/models"
)

type ReservationRepository struct {
	db *gorm.DB
}

func NewReservationRepository(db *gorm.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// DB exposes the underlying connection so the committer can open its own
// transactions spanning multiple repositories.
func (r *ReservationRepository) DB() *gorm.DB { return r.db }

// Create inserts a new confirmed reservation row inside tx.
func (r *ReservationRepository) Create(ctx context.Context, tx *gorm.DB, res *models.Reservation) error {
	if err := tx.WithContext(ctx).Create(res).Error; err != nil {
		return fmt.Errorf("creating reservation: %w", err)
	}
	return nil
}

// ConfirmedForDateForUpdate row-locks every confirmed reservation for
// (shopID, date) — step 2 of Phase A, the row the overlap/capacity count
// is taken against.
func (r *ReservationRepository) ConfirmedForDateForUpdate(ctx context.Context, tx *gorm.DB, shopID, date string) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := forUpdate(tx.WithContext(ctx)).
		Where("shop_id = ? AND date = ? AND status = ?", shopID, date, models.ReservationConfirmed).
		Find(&reservations).Error
	if err != nil {
		return nil, fmt.Errorf("locking reservations for shop %s on %s: %w", shopID, date, err)
	}
	return reservations, nil
}

// GetForUpdate row-locks a single reservation by id — used by the
// cancellation commit path.
func (r *ReservationRepository) GetForUpdate(ctx context.Context, tx *gorm.DB, id string) (*models.Reservation, error) {
	var res models.Reservation
	err := forUpdate(tx.WithContext(ctx)).First(&res, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("locking reservation %s: %w", id, err)
	}
	return &res, nil
}

func (r *ReservationRepository) GetByID(ctx context.Context, id string) (*models.Reservation, error) {
	var res models.Reservation
	err := r.db.WithContext(ctx).First(&res, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching reservation %s: %w", id, err)
	}
	return &res, nil
}

// UpdateStatus transitions a reservation's status (I3: confirmed ->
// cancelled only, enforced by callers) inside tx.
func (r *ReservationRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, id string, status models.ReservationStatus) error {
	result := tx.WithContext(ctx).Model(&models.Reservation{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("updating reservation %s status: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("reservation %s not found for status update", id)
	}
	return nil
}

// SetExternalEventID persists the calendar event id back onto the
// reservation row (Phase B, step 6 — best effort, failure here never
// fails the commit).
func (r *ReservationRepository) SetExternalEventID(ctx context.Context, id, eventID string) error {
	return r.db.WithContext(ctx).Model(&models.Reservation{}).Where("id = ?", id).Update("external_event_id", eventID).Error
}

// FindActiveByPhone returns confirmed reservations for a shop matching a
// customer's phone, ordered soonest first — the cancellation flow's
// "ask_phone" lookup (0/1/n>1 matches).
func (r *ReservationRepository) FindActiveByPhone(ctx context.Context, shopID, phone string) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := r.db.WithContext(ctx).
		Where("shop_id = ? AND customer_phone = ? AND status = ?", shopID, phone, models.ReservationConfirmed).
		Order("date asc, start_time asc").
		Find(&reservations).Error
	if err != nil {
		return nil, fmt.Errorf("finding reservations for phone: %w", err)
	}
	return reservations, nil
}

// FindExistingForIdempotency looks up a non-cancelled reservation matching
// the exact business fields a retried booking would carry — the fallback
// step of the gkey/idempotency-key derivation chain before hashing.
func (r *ReservationRepository) FindExistingForIdempotency(ctx context.Context, shopID, date, startTime, phone string) (*models.Reservation, error) {
	var res models.Reservation
	err := r.db.WithContext(ctx).
		Where("shop_id = ? AND date = ? AND start_time = ? AND customer_phone = ? AND status = ?",
			shopID, date, startTime, phone, models.ReservationConfirmed).
		First(&res).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("looking up existing reservation for idempotency: %w", err)
	}
	return &res, nil
}

// ConfirmedForProfessionalOnDate returns a professional's confirmed
// reservations on a date, for the per-professional exclusivity check (I2)
// both in availability computation and in the commit protocol.
func (r *ReservationRepository) ConfirmedForProfessionalOnDate(ctx context.Context, shopID, professionalID, date string) ([]models.Reservation, error) {
	var reservations []models.Reservation
	err := r.db.WithContext(ctx).
		Where("shop_id = ? AND professional_id = ? AND date = ? AND status = ?", shopID, professionalID, date, models.ReservationConfirmed).
		Find(&reservations).Error
	if err != nil {
		return nil, fmt.Errorf("finding professional reservations: %w", err)
	}
	return reservations, nil
}
