package dialogue

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/peluqueria/booking-engine/internal/availability"
	"github.com/peluqueria/booking-engine/internal/calendar"
	"github.com/peluqueria/booking-engine/internal/kv"
	"github.com/peluqueria/booking-engine/internal/models"
	"github.com/peluqueria/booking-engine/internal/nlp"
	"github.com/peluqueria/booking-engine/internal/repository"
	"github.com/peluqueria/booking-engine/internal/reservation"
	"github.com/peluqueria/booking-engine/pkg/events"
	"github.com/peluqueria/booking-engine/pkg/logger"
)

// noopInterpreter always misses; the booking flows under test here are
// fully driven by list/ordinal replies, never free text NL extraction.
type noopInterpreter struct{}

func (noopInterpreter) Interpret(context.Context, string, nlp.SlotKind, nlp.ShopContext) (string, error) {
	return "", nlp.ErrNoUnderstand
}

func newTestEngine(t *testing.T) (*Engine, *gorm.DB, *models.Shop) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.Shop{}, &models.Service{}, &models.Professional{}, &models.Reservation{}); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	shop := &models.Shop{
		Name: "Peluquería Demo", TZ: "Europe/Madrid", CountryCode: "ES",
		NumStaff: 2, SlotStepMinutes: 30, MinLeadMinutes: 0, MaxLeadDays: 150,
	}
	if err := shop.SetStructuredWorkingHours(models.WorkingHours{
		"mon": {{Start: "09:00", End: "18:00"}},
		"tue": {{Start: "09:00", End: "18:00"}},
		"wed": {{Start: "09:00", End: "18:00"}},
		"thu": {{Start: "09:00", End: "18:00"}},
		"fri": {{Start: "09:00", End: "18:00"}},
	}); err != nil {
		t.Fatalf("setting working hours: %v", err)
	}
	if err := db.Create(shop).Error; err != nil {
		t.Fatalf("seeding shop: %v", err)
	}

	service := &models.Service{ShopID: shop.ID, Name: "Corte", DurationMinutes: 30, Active: true}
	if err := db.Create(service).Error; err != nil {
		t.Fatalf("seeding service: %v", err)
	}

	store := kv.NewMemoryStore()
	cal := calendar.NewNoopClient()
	log := logger.New("error")

	shops := repository.NewShopRepository(db)
	services := repository.NewServiceRepository(db)
	professionals := repository.NewProfessionalRepository(db)
	reservations := repository.NewReservationRepository(db)

	avail := availability.NewComputer(cal, reservations, store, log)
	committer := reservation.NewCommitter(db, store, cal, shops, services, professionals, reservations, events.NewNullPublisher(log), log)

	engine := NewEngine(store, noopInterpreter{}, avail, committer, services, professionals, reservations, log)
	return engine, db, shop
}

func TestEngineFullBookingFlowSingleService(t *testing.T) {
	ctx := context.Background()
	engine, _, shop := newTestEngine(t)
	sessionID := "wa_session_1"

	reply, err := engine.Handle(ctx, sessionID, shop, "quiero reservar", OriginText)
	if err != nil {
		t.Fatalf("book intent: %v", err)
	}
	if reply.Text == "" {
		t.Fatalf("expected a date prompt after the only service auto-selects, got %+v", reply)
	}

	// The first Monday at least a week after today in the shop's zone: a
	// working day that is always in the future, whatever "today" is.
	target := time.Now().In(shop.Location()).AddDate(0, 0, 7)
	for target.Weekday() != time.Monday {
		target = target.AddDate(0, 0, 1)
	}
	reply, err = engine.Handle(ctx, sessionID, shop, target.Format("02/01/2006"), OriginText)
	if err != nil {
		t.Fatalf("pick date: %v", err)
	}
	if len(reply.Choices) == 0 {
		t.Fatalf("expected available hours after a valid date, got %+v", reply)
	}
	firstSlot := reply.Choices[0].ID

	reply, err = engine.Handle(ctx, sessionID, shop, firstSlot, OriginText)
	if err != nil {
		t.Fatalf("pick time: %v", err)
	}
	if reply.Text == "" {
		t.Fatalf("expected a name prompt after choosing a time, got %+v", reply)
	}

	reply, err = engine.Handle(ctx, sessionID, shop, "Juan Pérez", OriginText)
	if err != nil {
		t.Fatalf("collect name: %v", err)
	}

	reply, err = engine.Handle(ctx, sessionID, shop, "+34600111222", OriginText)
	if err != nil {
		t.Fatalf("collect phone: %v", err)
	}

	reply, err = engine.Handle(ctx, sessionID, shop, "si", OriginText)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if reply.Text != "✅ ¡Reserva confirmada!" {
		t.Fatalf("expected booking confirmation, got %+v", reply)
	}

	session, err := LoadSession(ctx, engine.kv, sessionID)
	if err != nil {
		t.Fatalf("reloading session: %v", err)
	}
	if session.Step != StepPostConfirm {
		t.Fatalf("expected session to land on post-confirm, got step %q", session.Step)
	}
}

func TestEngineGlobalMenuCommandResetsSession(t *testing.T) {
	ctx := context.Background()
	engine, _, shop := newTestEngine(t)
	sessionID := "wa_session_2"

	if _, err := engine.Handle(ctx, sessionID, shop, "quiero reservar", OriginText); err != nil {
		t.Fatalf("book intent: %v", err)
	}

	reply, err := engine.Handle(ctx, sessionID, shop, "menu", OriginText)
	if err != nil {
		t.Fatalf("menu command: %v", err)
	}
	if reply.UI != UIMainMenu {
		t.Fatalf("expected the menu command to return to the main menu, got %+v", reply)
	}

	session, err := LoadSession(ctx, engine.kv, sessionID)
	if err != nil {
		t.Fatalf("reloading session: %v", err)
	}
	if session.Step != StepIdle {
		t.Fatalf("expected session to reset to idle, got step %q", session.Step)
	}
}

func TestEngineCancelFlowNoMatchingReservation(t *testing.T) {
	ctx := context.Background()
	engine, _, shop := newTestEngine(t)
	sessionID := "wa_session_3"

	reply, err := engine.Handle(ctx, sessionID, shop, "cancelar", OriginText)
	if err != nil {
		t.Fatalf("cancel intent: %v", err)
	}
	if reply.Text == "" {
		t.Fatalf("expected a phone prompt, got %+v", reply)
	}

	reply, err = engine.Handle(ctx, sessionID, shop, "+34699999999", OriginText)
	if err != nil {
		t.Fatalf("ask phone: %v", err)
	}

	session, err := LoadSession(ctx, engine.kv, sessionID)
	if err != nil {
		t.Fatalf("reloading session: %v", err)
	}
	if session.Step != StepOfferRetryPhone {
		t.Fatalf("expected to offer a phone retry for an unknown number, got step %q, reply %+v", session.Step, reply)
	}
}

func TestEngineFAQFlow(t *testing.T) {
	ctx := context.Background()
	engine, _, shop := newTestEngine(t)
	sessionID := "wa_session_faq"

	if _, err := engine.Handle(ctx, sessionID, shop, "duda", OriginText); err != nil {
		t.Fatalf("faq intent: %v", err)
	}

	reply, err := engine.Handle(ctx, sessionID, shop, "¿hacéis mechas?", OriginText)
	if err != nil {
		t.Fatalf("answering: %v", err)
	}
	if reply.Text == "" || reply.SecondText == "" {
		t.Fatalf("expected an answer plus an ask-more prompt, got %+v", reply)
	}

	reply, err = engine.Handle(ctx, sessionID, shop, "no", OriginText)
	if err != nil {
		t.Fatalf("ask more: %v", err)
	}

	session, err := LoadSession(ctx, engine.kv, sessionID)
	if err != nil {
		t.Fatalf("reloading session: %v", err)
	}
	if session.Step != StepIdle {
		t.Fatalf("expected the faq flow to end back at idle, got step %q", session.Step)
	}
}

func TestEngineUnknownStepResetsToIdle(t *testing.T) {
	ctx := context.Background()
	engine, _, shop := newTestEngine(t)
	sessionID := "wa_session_4"

	if err := Save(ctx, engine.kv, &Session{SessionID: sessionID, Step: Step("bogus_step")}); err != nil {
		t.Fatalf("seeding corrupt-step session: %v", err)
	}

	reply, err := engine.Handle(ctx, sessionID, shop, "hola", OriginText)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if reply.UI != UIMainMenu {
		t.Fatalf("expected an unrecognised step to fall back to the main menu, got %+v", reply)
	}
}
