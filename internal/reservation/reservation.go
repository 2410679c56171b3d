// Package reservation implements C8: the two-phase, idempotent,
// concurrency-safe commit protocol that turns a confirmed dialogue step
// into a persisted reservation plus external calendar event. Grounded on
// the original implementation's bd_utils.py (guardar_reserva_db /
// cancelar_reserva_db / set_event_id_db), generalised from its MySQL
// GET_LOCK/RELEASE_LOCK advisory locks to the C1 KV store's SetNX, and
// from its per-(shop,date) lock key to the per-slot keys the spec calls
// for.
package reservation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/peluqueria/booking-engine/internal/availability"
	"github.com/peluqueria/booking-engine/internal/calendar"
	"github.com/peluqueria/booking-engine/internal/kv"
	"github.com/peluqueria/booking-engine/internal/models"
	"github.com/peluqueria/booking-engine/internal/repository"
	"github.com/peluqueria/booking-engine/pkg/events"
	"github.com/peluqueria/booking-engine/pkg/logger"
)

// Sentinel errors the dialogue engine matches on with errors.Is — never
// panics cross a commit boundary (spec §4.3, §9).
var (
	ErrNoSlot                 = errors.New("no_slot")
	ErrLockTimeout            = errors.New("lock_timeout")
	ErrCalendarCapacity       = calendar.ErrCapacityExceeded
	ErrMustChooseProfessional = errors.New("must_choose_professional")
)

const (
	maxLockRetries  = 1
	slotLockTTL     = 10 * time.Second
	idempotencyTTL  = 24 * time.Hour
	slotLockTimeout = 5 * time.Second
)

// Committer is C8.
type Committer struct {
	db            *gorm.DB
	kv            kv.Store
	calendar      calendar.Client
	shops         *repository.ShopRepository
	services      *repository.ServiceRepository
	professionals *repository.ProfessionalRepository
	reservations  *repository.ReservationRepository
	events        *events.Publisher
	logger        logger.Logger
}

func NewCommitter(
	db *gorm.DB,
	store kv.Store,
	cal calendar.Client,
	shops *repository.ShopRepository,
	services *repository.ServiceRepository,
	professionals *repository.ProfessionalRepository,
	reservations *repository.ReservationRepository,
	publisher *events.Publisher,
	log logger.Logger,
) *Committer {
	return &Committer{
		db: db, kv: store, calendar: cal,
		shops: shops, services: services, professionals: professionals, reservations: reservations,
		events: publisher, logger: log,
	}
}

// BookRequest is everything needed to attempt one booking commit.
type BookRequest struct {
	ShopID             string
	ServiceID          string
	ProfessionalID     string // empty ⇒ auto-assign or none, depending on shop policy
	CustomerName       string
	CustomerPhone      string // E.164
	Date               string // YYYY-MM-DD
	StartTime          string // HH:MM
	IdempotencyKey     string // caller-supplied override of the derived request key
}

// BookResult is the outcome of a successful (possibly replayed) commit.
type BookResult struct {
	ReservationID  string
	ProfessionalID string
	ExternalEventID string
	Replayed       bool
}

// Book executes the full two-phase commit, including idempotency replay
// and bounded lock-timeout retry (spec §4.3).
func (c *Committer) Book(ctx context.Context, req BookRequest) (*BookResult, error) {
	idempKey := requestIdempotencyKey(req)
	if cached, ok, err := c.kv.Get(ctx, idempKey); err == nil && ok {
		result, decodeErr := decodeBookResult(cached)
		if decodeErr == nil {
			result.Replayed = true
			return result, nil
		}
	}

	// Second link of the derivation chain: a retry whose cache entry has
	// expired (or that never had a caller key) still replays against the
	// durable ledger instead of double-booking.
	if req.IdempotencyKey == "" {
		existing, err := c.reservations.FindExistingForIdempotency(ctx, req.ShopID, req.Date, req.StartTime, req.CustomerPhone)
		if err == nil && existing != nil {
			result := &BookResult{ReservationID: existing.ID, Replayed: true}
			if existing.ProfessionalID != nil {
				result.ProfessionalID = *existing.ProfessionalID
			}
			if existing.ExternalEventID != nil {
				result.ExternalEventID = *existing.ExternalEventID
			}
			return result, nil
		}
	}

	var result *BookResult
	var err error
	for attempt := 0; attempt <= maxLockRetries; attempt++ {
		result, err = c.attemptBook(ctx, req)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrLockTimeout) || attempt == maxLockRetries {
			break
		}
		backoff := time.Duration(0.15*float64(time.Second)) * time.Duration(1<<uint(attempt))
		jitter := time.Duration(rand.Intn(50)) * time.Millisecond
		time.Sleep(backoff + jitter)
	}
	if err != nil {
		return nil, err
	}

	if encoded, encErr := encodeBookResult(result); encErr == nil {
		if setErr := c.kv.Set(ctx, idempKey, encoded, idempotencyTTL); setErr != nil {
			c.logger.Warn("failed to cache booking idempotency result", "error", setErr, "shop_id", req.ShopID)
		}
	}
	return result, nil
}

func (c *Committer) attemptBook(ctx context.Context, req BookRequest) (*BookResult, error) {
	shop, err := c.shops.GetByID(ctx, req.ShopID)
	if err != nil || shop == nil {
		return nil, fmt.Errorf("loading shop %s: %w", req.ShopID, err)
	}
	service, err := c.services.GetByID(ctx, req.ServiceID)
	if err != nil || service == nil {
		return nil, fmt.Errorf("loading service %s: %w", req.ServiceID, err)
	}

	professionalID := req.ProfessionalID
	if shop.EnableStaffSelection && professionalID == "" {
		if shop.StaffSelectionRequired {
			return nil, ErrMustChooseProfessional
		}
		professionalID, err = c.pickAnyAvailable(ctx, shop.ID, req.Date, req.StartTime, service.DurationMinutes)
		if err != nil {
			return nil, err
		}
	}

	slotKeys := slotLockKeys(shop.ID, req.Date, req.StartTime, service.DurationMinutes, shop.SlotStepMinutes)
	acquired, err := c.acquireLocks(ctx, slotKeys)
	if err != nil {
		return nil, ErrLockTimeout
	}
	defer c.releaseLocks(ctx, acquired)

	reservationID, err := c.commitPhaseA(ctx, shop, service, professionalID, req)
	if err != nil {
		return nil, err
	}

	eventID, err := c.publishPhaseB(ctx, shop, service, reservationID, req.Date, req.StartTime)
	if err != nil {
		if errors.Is(err, ErrCalendarCapacity) {
			c.compensate(ctx, reservationID, shop.ID, req.Date)
			return nil, ErrNoSlot
		}
		// Calendar publish failures other than a lost capacity race are
		// logged but do not unwind the DB reservation (spec §4.3 step 6).
		c.logger.Error("calendar publish failed, reservation kept", "error", err, "reservation_id", reservationID)
	}

	if err := availability.PurgePrefix(ctx, c.kv, shop.ID, req.Date); err != nil {
		c.logger.Warn("failed to purge availability cache", "error", err, "shop_id", shop.ID)
	}
	c.publish(events.ReservationConfirmedEvent, events.ReservationEvent{
		ShopID: shop.ID, ReservationID: reservationID, ServiceID: service.ID,
		ProfessionalID: professionalID, Date: req.Date, StartTime: req.StartTime,
	})
	c.publish(events.AvailabilityPurgedEvent, events.AvailabilityPurgedEventData{ShopID: shop.ID, Date: req.Date})

	return &BookResult{ReservationID: reservationID, ProfessionalID: professionalID, ExternalEventID: eventID}, nil
}

// publish is a thin best-effort wrapper: a dropped lifecycle event never
// fails a commit that has already been durably recorded in Postgres.
func (c *Committer) publish(subject string, data interface{}) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(subject, data); err != nil {
		c.logger.Warn("failed to publish event", "error", err, "subject", subject)
	}
}

// commitPhaseA is the DB half: lock hierarchy shop -> service ->
// reservations-of-day, capacity/overlap count, insert.
func (c *Committer) commitPhaseA(ctx context.Context, shop *models.Shop, service *models.Service, professionalID string, req BookRequest) (string, error) {
	var reservationID string

	err := c.db.Transaction(func(tx *gorm.DB) error {
		if _, err := c.shops.GetForUpdate(ctx, tx, shop.ID); err != nil {
			return err
		}
		if _, err := c.services.GetForUpdate(ctx, tx, service.ID); err != nil {
			return err
		}

		dayReservations, err := c.reservations.ConfirmedForDateForUpdate(ctx, tx, shop.ID, req.Date)
		if err != nil {
			return err
		}

		startMin, err := hhmmToMinutes(req.StartTime)
		if err != nil {
			return fmt.Errorf("parsing start time %q: %w", req.StartTime, err)
		}
		endMin := startMin + service.DurationMinutes

		if shop.EnableStaffSelection && professionalID != "" {
			for _, r := range dayReservations {
				if r.ProfessionalID == nil || *r.ProfessionalID != professionalID {
					continue
				}
				if overlapsMinutes(startMin, endMin, r) {
					return ErrNoSlot
				}
			}
		} else {
			overlapping := 0
			for _, r := range dayReservations {
				if overlapsMinutes(startMin, endMin, r) {
					overlapping++
				}
			}
			if overlapping >= shop.NumStaff {
				return ErrNoSlot
			}
		}

		res := &models.Reservation{
			ShopID:          shop.ID,
			ServiceID:       service.ID,
			CustomerName:    req.CustomerName,
			CustomerPhone:   req.CustomerPhone,
			Date:            req.Date,
			StartTime:       req.StartTime,
			DurationMinutes: service.DurationMinutes,
			Status:          models.ReservationConfirmed,
		}
		if professionalID != "" {
			res.ProfessionalID = &professionalID
		}
		if err := c.reservations.Create(ctx, tx, res); err != nil {
			return err
		}
		reservationID = res.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	return reservationID, nil
}

func overlapsMinutes(startMin, endMin int, r models.Reservation) bool {
	rStart, err := hhmmToMinutes(r.StartTime)
	if err != nil {
		return false
	}
	rEnd := rStart + r.DurationMinutes
	return startMin < rEnd && rStart < endMin
}

// publishPhaseB calls the calendar client's idempotent create and, on
// success, best-effort persists the external event id (spec §4.3 steps 4-6).
func (c *Committer) publishPhaseB(ctx context.Context, shop *models.Shop, service *models.Service, reservationID, date, startTime string) (string, error) {
	loc := shop.Location()
	start, err := time.ParseInLocation("2006-01-02 15:04", date+" "+startTime, loc)
	if err != nil {
		return "", fmt.Errorf("parsing reservation start: %w", err)
	}
	end := start.Add(time.Duration(service.DurationMinutes) * time.Minute)

	gkey := fmt.Sprintf("%s:%s:%s:%s", shop.ID, date, startTime, reservationID)
	eventID, err := c.calendar.CreateEvent(ctx, calendar.CreateEventRequest{
		CalendarID:    shop.CalendarID,
		GKey:          gkey,
		ReservationID: reservationID,
		Summary:       service.Name,
		Start:         start,
		End:           end,
	}, shop.NumStaff)
	if err != nil {
		return "", err
	}

	if setErr := c.reservations.SetExternalEventID(ctx, reservationID, eventID); setErr != nil {
		c.logger.Error("failed to persist external event id", "error", setErr, "reservation_id", reservationID)
	}
	return eventID, nil
}

// compensate cancels the Phase A reservation after a lost calendar race,
// keeping DB and calendar in agreement (spec §4.3 Compensation).
func (c *Committer) compensate(ctx context.Context, reservationID, shopID, date string) {
	err := c.db.Transaction(func(tx *gorm.DB) error {
		return c.reservations.UpdateStatus(ctx, tx, reservationID, models.ReservationCancelled)
	})
	if err != nil {
		c.logger.Error("compensation cancel failed", "error", err, "reservation_id", reservationID)
	}
	if purgeErr := availability.PurgePrefix(ctx, c.kv, shopID, date); purgeErr != nil {
		c.logger.Warn("failed to purge availability cache after compensation", "error", purgeErr, "shop_id", shopID)
	}
}

// CancelOutcome mirrors the original's {ok, skipped} result shape.
type CancelOutcome struct {
	Skipped string // "", "not_found", "already_cancelled"
}

// Cancel is the symmetric, simpler commit path (spec §4.3 Cancellation commit).
func (c *Committer) Cancel(ctx context.Context, reservationID string) (*CancelOutcome, error) {
	var outcome CancelOutcome
	var shopID, date, calendarID string
	var externalEventID *string

	err := c.db.Transaction(func(tx *gorm.DB) error {
		res, err := c.reservations.GetForUpdate(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if res == nil {
			outcome.Skipped = "not_found"
			return nil
		}
		if res.Status == models.ReservationCancelled {
			outcome.Skipped = "already_cancelled"
			return nil
		}
		if err := c.reservations.UpdateStatus(ctx, tx, reservationID, models.ReservationCancelled); err != nil {
			return err
		}
		shopID, date = res.ShopID, res.Date
		externalEventID = res.ExternalEventID
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Calendar delete happens strictly after commit: a transaction is never
	// held open across a calendar call, and a delete failure never rolls
	// back the DB change (spec §4.3 Cancellation step 3, §5).
	if outcome.Skipped == "" && externalEventID != nil {
		if shop, shopErr := c.shops.GetByID(ctx, shopID); shopErr == nil && shop != nil {
			calendarID = shop.CalendarID
		}
		if delErr := c.calendar.DeleteEvent(ctx, calendarID, *externalEventID); delErr != nil {
			c.logger.Warn("best-effort calendar delete failed", "error", delErr, "reservation_id", reservationID)
		}
	}

	if outcome.Skipped == "" {
		if purgeErr := availability.PurgePrefix(ctx, c.kv, shopID, date); purgeErr != nil {
			c.logger.Warn("failed to purge availability cache after cancel", "error", purgeErr, "shop_id", shopID)
		}
		c.publish(events.ReservationCancelledEvent, events.ReservationEvent{ShopID: shopID, ReservationID: reservationID, Date: date})
		c.publish(events.AvailabilityPurgedEvent, events.AvailabilityPurgedEventData{ShopID: shopID, Date: date})
	}
	return &outcome, nil
}

// pickAnyAvailable auto-assigns the first professional with no confirmed
// overlap at (date, startTime, duration) — grounded on peluqueros_utils.py's
// pick_any_available.
func (c *Committer) pickAnyAvailable(ctx context.Context, shopID, date, startTime string, duration int) (string, error) {
	staff, err := c.professionals.ListActiveByShop(ctx, shopID)
	if err != nil {
		return "", fmt.Errorf("listing staff for auto-assignment: %w", err)
	}
	startMin, err := hhmmToMinutes(startTime)
	if err != nil {
		return "", err
	}
	endMin := startMin + duration

	for _, p := range staff {
		reserved, err := c.reservations.ConfirmedForProfessionalOnDate(ctx, shopID, p.ID, date)
		if err != nil {
			return "", err
		}
		free := true
		for _, r := range reserved {
			if overlapsMinutes(startMin, endMin, r) {
				free = false
				break
			}
		}
		if free {
			return p.ID, nil
		}
	}
	return "", nil
}

// acquireLocks tries every slot key in order, releasing what it already
// holds and giving up on the first failure (spec §4.3 step 1).
func (c *Committer) acquireLocks(ctx context.Context, keys []string) ([]string, error) {
	perLock := slotLockTimeout
	if n := len(keys); n > 0 {
		perLock = slotLockTimeout / time.Duration(n)
		if perLock < time.Second {
			perLock = time.Second
		}
	}

	var acquired []string
	for _, key := range keys {
		ok, err := c.tryAcquire(ctx, key, perLock)
		if err != nil || !ok {
			c.releaseLocks(ctx, acquired)
			return nil, fmt.Errorf("failed to acquire slot lock %s", key)
		}
		acquired = append(acquired, key)
	}
	return acquired, nil
}

func (c *Committer) tryAcquire(ctx context.Context, key string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := c.kv.SetNX(ctx, key, "1", slotLockTTL)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func (c *Committer) releaseLocks(ctx context.Context, keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		if err := c.kv.Delete(ctx, keys[i]); err != nil {
			c.logger.Warn("failed to release slot lock", "error", err, "key", keys[i])
		}
	}
}

func slotLockKeys(shopID, date, startTime string, durationMinutes, stepMinutes int) []string {
	if stepMinutes <= 0 {
		stepMinutes = 15
	}
	start, err := hhmmToMinutes(startTime)
	if err != nil {
		return nil
	}
	end := start + durationMinutes

	var keys []string
	for m := start; m < end; m += stepMinutes {
		keys = append(keys, fmt.Sprintf("slot:%s:%s:%04d", shopID, date, m))
	}
	return keys
}

func hhmmToMinutes(hhmm string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	return h*60 + m, nil
}

// requestIdempotencyKey derives the request-level idempotency cache key
// (spec §4.3: caller header override, else a hash of the business fields).
func requestIdempotencyKey(req BookRequest) string {
	if req.IdempotencyKey != "" {
		return "idemp:" + sha256Hex(req.IdempotencyKey)
	}
	raw := fmt.Sprintf("book_confirm|%s|%s|%s|%s|%s", req.ShopID, req.Date, req.StartTime, req.ServiceID, req.CustomerPhone)
	return "idemp:" + sha256Hex(raw)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func encodeBookResult(r *BookResult) (string, error) {
	return strings.Join([]string{r.ReservationID, r.ProfessionalID, r.ExternalEventID}, "\x1f"), nil
}

func decodeBookResult(raw string) (*BookResult, error) {
	parts := strings.Split(raw, "\x1f")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed cached booking result")
	}
	return &BookResult{ReservationID: parts[0], ProfessionalID: parts[1], ExternalEventID: parts[2]}, nil
}
