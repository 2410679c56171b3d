package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/peluqueria/booking-engine/internal/availability"
	"github.com/peluqueria/booking-engine/internal/kv"
	"github.com/peluqueria/booking-engine/internal/models"
	"github.com/peluqueria/booking-engine/internal/nlp"
	"github.com/peluqueria/booking-engine/internal/phone"
	"github.com/peluqueria/booking-engine/internal/repository"
	"github.com/peluqueria/booking-engine/internal/reservation"
	"github.com/peluqueria/booking-engine/pkg/logger"
	"github.com/peluqueria/booking-engine/pkg/reporter"
)

// Origin mirrors the three channels a message can arrive on (spec §4.1).
type Origin string

const (
	OriginText   Origin = "text"
	OriginButton Origin = "button"
	OriginList   Origin = "list"
)

// idempotencyKeyCtxKey threads the loopback API's caller-supplied
// Idempotency-Key header (spec §6, §4.3) down to the one call site that
// needs it (handleConfirm's BookRequest) without widening every dispatch
// function's signature for a single optional field.
type idempotencyKeyCtxKey struct{}

// WithIdempotencyKey attaches a caller-supplied request-level idempotency
// key to ctx. A zero-value key leaves ctx unchanged.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, idempotencyKeyCtxKey{}, key)
}

func idempotencyKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKeyCtxKey{}).(string)
	return key
}

// Engine is C7: the per-session state machine. C1/C4/C6/C8 (and the
// repositories C6/C8 need) are injected so tests can substitute in-memory
// fakes (spec §9 "implicit globals to injected collaborators").
type Engine struct {
	kv            kv.Store
	nlp           nlp.Interpreter
	availability  *availability.Computer
	committer     *reservation.Committer
	services      *repository.ServiceRepository
	professionals *repository.ProfessionalRepository
	reservations  *repository.ReservationRepository
	logger        logger.Logger
}

func NewEngine(
	store kv.Store,
	interpreter nlp.Interpreter,
	avail *availability.Computer,
	committer *reservation.Committer,
	services *repository.ServiceRepository,
	professionals *repository.ProfessionalRepository,
	reservations *repository.ReservationRepository,
	log logger.Logger,
) *Engine {
	return &Engine{
		kv: store, nlp: interpreter, availability: avail, committer: committer,
		services: services, professionals: professionals, reservations: reservations,
		logger: log,
	}
}

// Handle is C7's single public operation.
func (e *Engine) Handle(ctx context.Context, sessionID string, shop *models.Shop, message string, origin Origin) (*Reply, error) {
	session, err := LoadSession(ctx, e.kv, sessionID)
	if err != nil {
		return nil, err
	}

	reply, err := e.dispatch(ctx, session, shop, message, origin)
	if err != nil {
		e.logger.Error("dialogue step failed, resetting session", "error", err, "session_id", sessionID)
		reporter.Capture(err, map[string]string{"shop_id": shop.ID, "session_id": sessionID, "step": string(session.Step)})
		session.Reset(true)
		reply = textReply("Lo siento, ha ocurrido un error interno. Por favor, inténtalo de nuevo en unos momentos.")
	}

	if saveErr := Save(ctx, e.kv, session); saveErr != nil {
		e.logger.Error("failed to save session", "error", saveErr, "session_id", sessionID)
	}
	return reply, nil
}

func (e *Engine) dispatch(ctx context.Context, session *Session, shop *models.Shop, message string, origin Origin) (*Reply, error) {
	normalized := normalizeText(message)

	if matchGlobalCommand(normalized) == cmdMenu {
		session.Reset(false)
		return e.welcomeReply(shop), nil
	}

	// A session that crashed mid-step re-emits the welcome on the next
	// message instead of continuing from half-reset state (spec §7).
	if session.ForceWelcome {
		session.Reset(false)
		return e.welcomeReply(shop), nil
	}

	switch session.Step {
	case StepIdle:
		return e.handleIdle(ctx, session, shop, message, normalized, origin)
	case StepPickService:
		return e.handlePickService(ctx, session, shop, message, normalized)
	case StepPickStaff:
		return e.handlePickStaff(ctx, session, shop, message)
	case StepPickDate:
		return e.handlePickDate(ctx, session, shop, message)
	case StepPickTime:
		return e.handlePickTime(ctx, session, shop, message)
	case StepDisambiguateAMPM:
		return e.handleDisambiguateAMPM(ctx, session, shop, normalized)
	case StepCollectName:
		return e.handleCollectName(session, message)
	case StepCollectPhone:
		return e.handleCollectPhone(session, shop, message)
	case StepConfirm:
		return e.handleConfirm(ctx, session, shop, normalized)
	case StepPostConfirm:
		return e.handlePostConfirm(session, shop, normalized)
	case StepAskPhone:
		return e.handleAskPhone(ctx, session, shop, message)
	case StepOfferRetryPhone:
		return e.handleOfferRetryPhone(session, normalized)
	case StepPickReservation:
		return e.handlePickReservation(ctx, session, message)
	case StepConfirmCancel:
		return e.handleConfirmCancel(ctx, session, shop, normalized)
	case StepAnswering:
		return e.handleAnswering(ctx, session, shop, message)
	case StepAskMore:
		return e.handleAskMore(session, shop, normalized)
	default:
		session.Reset(false)
		return e.welcomeReply(shop), nil
	}
}

func (e *Engine) welcomeReply(shop *models.Shop) *Reply {
	return uiReply(fmt.Sprintf("¡Hola! Bienvenido a %s. ¿Qué deseas hacer?", shop.Name), UIMainMenu, []Choice{
		{ID: "book", Label: "Reservar cita"},
		{ID: "cancel", Label: "Cancelar una cita"},
		{ID: "faq", Label: "Tengo una duda"},
	})
}

func (e *Engine) handleIdle(ctx context.Context, session *Session, shop *models.Shop, message, normalized string, origin Origin) (*Reply, error) {
	var intent Intent

	if origin == OriginButton || origin == OriginList {
		intent = matchIntentSynonym(normalized)
	} else {
		if cancelIntentWords[normalized] {
			intent = IntentCancel
		} else {
			intent = matchIntentSynonym(normalized)
			if intent == IntentNone {
				out, err := e.nlp.Interpret(ctx, message, nlp.SlotIntent, e.shopContext(shop))
				if err == nil {
					intent = mapNLPIntent(out)
				}
			}
		}
	}

	switch intent {
	case IntentBook:
		return e.startBooking(ctx, session, shop)
	case IntentCancel:
		session.Intent = IntentCancel
		session.Step = StepAskPhone
		return textReply("Claro, para buscar tu cita dime tu número de teléfono."), nil
	case IntentFAQ:
		session.Intent = IntentFAQ
		session.Step = StepAnswering
		return textReply("Cuéntame tu duda y te ayudo con la información del negocio."), nil
	default:
		return e.welcomeReply(shop), nil
	}
}

func mapNLPIntent(raw string) Intent {
	switch strings.TrimSpace(raw) {
	case string(nlp.IntentBook):
		return IntentBook
	case string(nlp.IntentCancel):
		return IntentCancel
	case string(nlp.IntentFAQ):
		return IntentFAQ
	}
	return IntentNone
}

func (e *Engine) startBooking(ctx context.Context, session *Session, shop *models.Shop) (*Reply, error) {
	session.Intent = IntentBook
	services, err := e.services.ListActiveByShop(ctx, shop.ID)
	if err != nil {
		return nil, err
	}
	if len(services) == 0 {
		session.Reset(false)
		return textReply("Lo siento, este negocio no tiene servicios configurados todavía."), nil
	}
	if len(services) == 1 {
		session.Data.ServiceID = services[0].ID
		return e.afterServiceChosen(ctx, session, shop)
	}

	session.Step = StepPickService
	return uiReply("¿Qué servicio te gustaría reservar?", UIServices, serviceChoices(services)), nil
}

func serviceChoices(services []models.Service) []Choice {
	choices := make([]Choice, len(services))
	for i, s := range services {
		choices[i] = Choice{ID: s.ID, Label: s.Name}
	}
	return choices
}

func (e *Engine) handlePickService(ctx context.Context, session *Session, shop *models.Shop, message, normalized string) (*Reply, error) {
	services, err := e.services.ListActiveByShop(ctx, shop.ID)
	if err != nil {
		return nil, err
	}

	if idx, ok := matchOrdinal(message, len(services)); ok {
		session.Data.ServiceID = services[idx].ID
		return e.afterServiceChosen(ctx, session, shop)
	}
	if id := resolveServiceListID(message, services); id != "" {
		session.Data.ServiceID = id
		return e.afterServiceChosen(ctx, session, shop)
	}
	// Button replies carry the raw choice id, which for services is the
	// service id itself.
	for _, s := range services {
		if s.ID == message {
			session.Data.ServiceID = s.ID
			return e.afterServiceChosen(ctx, session, shop)
		}
	}

	suggestion, _ := e.nlp.Interpret(ctx, message, nlp.SlotService, e.shopContext(shop))
	if idx, ok := matchServiceText(message, suggestion, services); ok {
		session.Data.ServiceID = services[idx].ID
		return e.afterServiceChosen(ctx, session, shop)
	}

	return uiReply("No he entendido el servicio. Por favor elige uno de la lista.", UIServices, serviceChoices(services)), nil
}

// resolveServiceListID resolves a SERV_P<page>_<index> list-reply id
// against the shop's ordered service list (spec §4.1).
func resolveServiceListID(raw string, services []models.Service) string {
	idx, ok := listReplyIndex(raw, "SERV_")
	if !ok || idx < 0 || idx >= len(services) {
		return ""
	}
	return services[idx].ID
}

func (e *Engine) afterServiceChosen(ctx context.Context, session *Session, shop *models.Shop) (*Reply, error) {
	if shop.EnableStaffSelection {
		staff, err := e.professionals.ListActiveByShop(ctx, shop.ID)
		if err != nil {
			return nil, err
		}
		if len(staff) > 0 {
			session.Step = StepPickStaff
			return uiReply("¿Con qué profesional prefieres la cita? (o escribe 'cualquiera')", UIStaff, staffChoices(staff)), nil
		}
	}
	session.Step = StepPickDate
	return textReply("¿Qué día te gustaría reservar? (por ejemplo 20/09/2025)"), nil
}

func staffChoices(staff []models.Professional) []Choice {
	choices := make([]Choice, 0, len(staff)+1)
	choices = append(choices, Choice{ID: "PEL_ANY", Label: "Cualquiera"})
	for _, p := range staff {
		choices = append(choices, Choice{ID: p.ID, Label: p.Name})
	}
	return choices
}

func (e *Engine) handlePickStaff(ctx context.Context, session *Session, shop *models.Shop, message string) (*Reply, error) {
	staff, err := e.professionals.ListActiveByShop(ctx, shop.ID)
	if err != nil {
		return nil, err
	}

	if message == "PEL_ANY" {
		session.Data.ProfessionalID = ""
		session.Step = StepPickDate
		return textReply("¿Qué día te gustaría reservar? (por ejemplo 20/09/2025)"), nil
	}
	if idx, ok := listReplyIndex(message, "PEL_"); ok && idx >= 0 && idx < len(staff) {
		session.Data.ProfessionalID = staff[idx].ID
		session.Step = StepPickDate
		return textReply("¿Qué día te gustaría reservar? (por ejemplo 20/09/2025)"), nil
	}
	for _, p := range staff {
		if p.ID == message {
			session.Data.ProfessionalID = p.ID
			session.Step = StepPickDate
			return textReply("¿Qué día te gustaría reservar? (por ejemplo 20/09/2025)"), nil
		}
	}

	idx, matched, isAny := matchStaffText(message, staff)
	if isAny {
		session.Data.ProfessionalID = ""
		session.Step = StepPickDate
		return textReply("¿Qué día te gustaría reservar? (por ejemplo 20/09/2025)"), nil
	}
	if matched {
		session.Data.ProfessionalID = staff[idx].ID
		session.Step = StepPickDate
		return textReply("¿Qué día te gustaría reservar? (por ejemplo 20/09/2025)"), nil
	}

	if shop.StaffSelectionRequired {
		return uiReply("Por favor elige un profesional de la lista.", UIStaff, staffChoices(staff)), nil
	}
	session.Data.ProfessionalID = ""
	session.Step = StepPickDate
	return textReply("¿Qué día te gustaría reservar? (por ejemplo 20/09/2025)"), nil
}

func (e *Engine) handlePickDate(ctx context.Context, session *Session, shop *models.Shop, message string) (*Reply, error) {
	now := time.Now().In(shop.Location())

	dateStr, ok := parseDateLocale(message, now)
	if !ok {
		out, err := e.nlp.Interpret(ctx, message, nlp.SlotDate, e.shopContext(shop))
		if err == nil {
			dateStr = out
			ok = true
		}
	}
	if !ok {
		return textReply("No he entendido la fecha. Intenta con un formato como '20/09/2025'."), nil
	}

	switch checkDate(shop, dateStr, now) {
	case DateInPast:
		return textReply("Esa fecha ya ha pasado. ¿Qué otro día te viene bien?"), nil
	case DateClosedWeekday, DateClosedSpecific:
		return textReply("Ese día el negocio permanece cerrado. ¿Qué otro día te viene bien?"), nil
	case DateOutOfLeadWindow:
		return textReply(fmt.Sprintf("Solo podemos reservar con hasta %d días de antelación. ¿Qué otro día te viene bien?", shop.MaxLeadDays)), nil
	}

	session.Data.Date = dateStr
	session.Step = StepPickTime
	return e.emitHours(ctx, session, shop)
}

func (e *Engine) emitHours(ctx context.Context, session *Session, shop *models.Shop) (*Reply, error) {
	service, err := e.services.GetByID(ctx, session.Data.ServiceID)
	if err != nil || service == nil {
		return nil, fmt.Errorf("loading service for availability: %w", err)
	}
	date, err := time.ParseInLocation("2006-01-02", session.Data.Date, shop.Location())
	if err != nil {
		return nil, err
	}

	starts, err := e.availability.Starts(ctx, availability.Request{
		Shop: shop, Service: service, Date: date, ProfessionalID: session.Data.ProfessionalID,
	})
	if err != nil {
		return nil, err
	}
	if len(starts) == 0 {
		return textReply("No quedan horas libres ese día. ¿Quieres probar otra fecha?"), nil
	}

	choices := make([]Choice, len(starts))
	for i, s := range starts {
		choices[i] = Choice{ID: s, Label: s}
	}
	return uiReply("Estas son las horas disponibles:", UIHours, choices), nil
}

func (e *Engine) handlePickTime(ctx context.Context, session *Session, shop *models.Shop, message string) (*Reply, error) {
	service, err := e.services.GetByID(ctx, session.Data.ServiceID)
	if err != nil || service == nil {
		return nil, fmt.Errorf("loading service: %w", err)
	}
	date, err := time.ParseInLocation("2006-01-02", session.Data.Date, shop.Location())
	if err != nil {
		return nil, err
	}
	freeSlots, err := e.availability.Starts(ctx, availability.Request{
		Shop: shop, Service: service, Date: date, ProfessionalID: session.Data.ProfessionalID,
	})
	if err != nil {
		return nil, err
	}
	freeSet := map[string]bool{}
	for _, s := range freeSlots {
		freeSet[s] = true
	}

	if idx, ok := listReplyIndex(message, "HORA_"); ok && idx >= 0 && idx < len(freeSlots) {
		session.Data.StartTime = freeSlots[idx]
		session.Step = StepCollectName
		return textReply("¿A nombre de quién hacemos la reserva?"), nil
	}

	parsed := normalizeTime(message)
	if parsed == nil {
		return uiReply("No he entendido la hora. Elige una de la lista o escríbela (ej. 10:00).", UIHours, hourChoices(freeSlots)), nil
	}

	if !parsed.Ambiguous {
		hhmm := parsed.HHMM()
		if freeSet[hhmm] {
			session.Data.StartTime = hhmm
			session.Step = StepCollectName
			return textReply("¿A nombre de quién hacemos la reserva?"), nil
		}
		return uiReply(closestSlotsMessage(hhmm, freeSlots), UIHours, hourChoices(freeSlots)), nil
	}

	amFree := freeSet[parsed.AMVariant()]
	pmFree := freeSet[parsed.PMVariant()]
	switch {
	case amFree && !pmFree:
		session.Data.StartTime = parsed.AMVariant()
		session.Step = StepCollectName
		return textReply("¿A nombre de quién hacemos la reserva?"), nil
	case pmFree && !amFree:
		session.Data.StartTime = parsed.PMVariant()
		session.Step = StepCollectName
		return textReply("¿A nombre de quién hacemos la reserva?"), nil
	case amFree && pmFree:
		session.Data.AmbiguousAM = parsed.AMVariant()
		session.Data.AmbiguousPM = parsed.PMVariant()
		session.Step = StepDisambiguateAMPM
		return textReply(fmt.Sprintf("¿Por la mañana (%s) o por la tarde (%s)?", parsed.AMVariant(), parsed.PMVariant())), nil
	default:
		return uiReply("Esa hora no está disponible. Elige una de la lista.", UIHours, hourChoices(freeSlots)), nil
	}
}

func hourChoices(slots []string) []Choice {
	choices := make([]Choice, len(slots))
	for i, s := range slots {
		choices[i] = Choice{ID: s, Label: s}
	}
	return choices
}

func closestSlotsMessage(requested string, freeSlots []string) string {
	if len(freeSlots) == 0 {
		return "Esa hora no está disponible y no quedan horas libres ese día."
	}
	if requested < freeSlots[0] {
		return fmt.Sprintf("Esa hora no está disponible; el negocio abre a las %s ese día. Aquí tienes las horas libres:", freeSlots[0])
	}
	if requested > freeSlots[len(freeSlots)-1] {
		return fmt.Sprintf("Esa hora no está disponible; la última hora libre ese día es %s. Aquí tienes las horas libres:", freeSlots[len(freeSlots)-1])
	}
	return "Esa hora no está disponible. Aquí tienes las horas libres más próximas:"
}

func (e *Engine) handleDisambiguateAMPM(ctx context.Context, session *Session, shop *models.Shop, normalized string) (*Reply, error) {
	switch {
	case strings.Contains(normalized, "manana") || normalized == "am":
		session.Data.StartTime = session.Data.AmbiguousAM
	case strings.Contains(normalized, "tarde") || normalized == "pm":
		session.Data.StartTime = session.Data.AmbiguousPM
	default:
		return textReply("¿Por la mañana o por la tarde?"), nil
	}
	session.Step = StepCollectName
	return textReply("¿A nombre de quién hacemos la reserva?"), nil
}

func (e *Engine) handleCollectName(session *Session, message string) (*Reply, error) {
	name := strings.TrimSpace(message)
	if name == "" {
		return textReply("¿A nombre de quién hacemos la reserva?"), nil
	}
	session.Data.CustomerName = name
	session.Step = StepCollectPhone
	return textReply("¿Cuál es tu número de teléfono de contacto?"), nil
}

func (e *Engine) handleCollectPhone(session *Session, shop *models.Shop, message string) (*Reply, error) {
	normalized, ok := phone.Normalize(message, shop.CountryCode)
	if !ok {
		return textReply("Ese teléfono no parece válido. ¿Puedes escribirlo de nuevo?"), nil
	}
	session.Data.CustomerPhone = normalized
	session.Step = StepConfirm
	return textReply(fmt.Sprintf(
		"Vas a reservar el %s a las %s a nombre de %s. ¿Confirmas? (sí/no)",
		session.Data.Date, session.Data.StartTime, session.Data.CustomerName,
	)), nil
}

func (e *Engine) handleConfirm(ctx context.Context, session *Session, shop *models.Shop, normalized string) (*Reply, error) {
	if isDeny(normalized) {
		session.Reset(false)
		return textReply("De acuerdo, he cancelado la reserva en curso."), nil
	}
	if !isAffirm(normalized) {
		return textReply("¿Confirmas la reserva? (sí/no)"), nil
	}

	result, err := e.committer.Book(ctx, reservation.BookRequest{
		ShopID: shop.ID, ServiceID: session.Data.ServiceID, ProfessionalID: session.Data.ProfessionalID,
		CustomerName: session.Data.CustomerName, CustomerPhone: session.Data.CustomerPhone,
		Date: session.Data.Date, StartTime: session.Data.StartTime,
		IdempotencyKey: idempotencyKeyFromContext(ctx),
	})
	if err != nil {
		return e.handleBookingFailure(ctx, session, shop, err)
	}
	e.logger.Info("reservation confirmed", "shop_id", shop.ID, "reservation_id", result.ReservationID, "replayed", result.Replayed)

	session.Step = StepPostConfirm
	session.Data = Data{}
	return &Reply{
		Text:       "✅ ¡Reserva confirmada!",
		SecondText: "¿Quieres hacer algo más? (*si*/*no*)",
	}, nil
}

func (e *Engine) handleBookingFailure(ctx context.Context, session *Session, shop *models.Shop, err error) (*Reply, error) {
	switch {
	case errors.Is(err, reservation.ErrNoSlot):
		service, svcErr := e.services.GetByID(ctx, session.Data.ServiceID)
		if svcErr != nil || service == nil {
			session.Step = StepPickDate
			return textReply("Esa hora ya se ocuparon justo antes. ¿Qué otro día te viene bien?"), nil
		}
		return e.freshHoursOrNextDates(ctx, session, shop, service)
	case errors.Is(err, reservation.ErrLockTimeout):
		return textReply("El sistema está ocupado. Por favor, inténtalo de nuevo en unos segundos."), nil
	case errors.Is(err, reservation.ErrMustChooseProfessional):
		session.Step = StepPickStaff
		return textReply("Necesitas elegir un profesional para continuar."), nil
	default:
		return nil, err
	}
}

// freshHoursOrNextDates recomputes bypassing the cache (already guaranteed
// by the committer's purge-on-compensation) and, if the same day is dry,
// proposes up to 5 forward dates with availability (spec §4.3 Compensation).
// It leaves the session on pick_time when offering hours for the same day,
// or back on pick_date when offering alternative dates.
func (e *Engine) freshHoursOrNextDates(ctx context.Context, session *Session, shop *models.Shop, service *models.Service) (*Reply, error) {
	date, err := time.ParseInLocation("2006-01-02", session.Data.Date, shop.Location())
	if err != nil {
		session.Step = StepPickDate
		return textReply("Esa hora ya se ocuparon justo antes. ¿Qué otro día te viene bien?"), nil
	}
	professionalID := session.Data.ProfessionalID

	starts, err := e.availability.Starts(ctx, availability.Request{Shop: shop, Service: service, Date: date, ProfessionalID: professionalID})
	if err == nil && len(starts) > 0 {
		session.Step = StepPickTime
		return uiReply("Esa hora se ocuparon justo antes. Aquí tienes las horas que quedan libres:", UIHours, hourChoices(starts)), nil
	}

	session.Step = StepPickDate
	var nextDates []string
	for i := 1; i <= shop.MaxLeadDays && len(nextDates) < 5; i++ {
		candidate := date.AddDate(0, 0, i)
		cStarts, cErr := e.availability.Starts(ctx, availability.Request{Shop: shop, Service: service, Date: candidate, ProfessionalID: professionalID})
		if cErr == nil && len(cStarts) > 0 {
			nextDates = append(nextDates, candidate.Format("2006-01-02"))
		}
	}
	if len(nextDates) == 0 {
		return textReply("Lo siento, no encontramos más disponibilidad próxima. Inténtalo más tarde."), nil
	}
	choices := make([]Choice, len(nextDates))
	for i, d := range nextDates {
		choices[i] = Choice{ID: d, Label: d}
	}
	return &Reply{Text: "Esa hora se ocuparon justo antes. Estos días sí tienen disponibilidad:", Choices: choices}, nil
}

func (e *Engine) handlePostConfirm(session *Session, shop *models.Shop, normalized string) (*Reply, error) {
	if isAffirm(normalized) {
		session.Reset(false)
		return e.welcomeReply(shop), nil
	}
	session.Reset(false)
	return textReply("¡Gracias por contactarnos! Que tengas un buen día."), nil
}

func (e *Engine) handleAskPhone(ctx context.Context, session *Session, shop *models.Shop, message string) (*Reply, error) {
	normalized, ok := phone.Normalize(message, shop.CountryCode)
	if !ok {
		return textReply("Ese teléfono no parece válido. ¿Puedes escribirlo de nuevo?"), nil
	}

	reservations, err := e.reservations.FindActiveByPhone(ctx, shop.ID, normalized)
	if err != nil {
		return nil, err
	}

	switch len(reservations) {
	case 0:
		session.Step = StepOfferRetryPhone
		return textReply("No encontré ninguna cita con ese número. ¿Quieres probar con otro número? (sí/no)"), nil
	case 1:
		session.Data.SelectedReservationID = reservations[0].ID
		session.Step = StepConfirmCancel
		return textReply(fmt.Sprintf("Encontré tu cita del %s a las %s. ¿Confirmas que quieres cancelarla? (sí/no)",
			reservations[0].Date, reservations[0].StartTime)), nil
	default:
		ids := make([]string, len(reservations))
		choices := make([]Choice, len(reservations))
		for i, r := range reservations {
			ids[i] = r.ID
			choices[i] = Choice{ID: fmt.Sprintf("RID_%d", i+1), Label: fmt.Sprintf("%s a las %s", r.Date, r.StartTime)}
		}
		session.Data.CandidateReservationIDs = ids
		session.Step = StepPickReservation
		return uiReply("Encontré varias citas. ¿Cuál quieres cancelar?", UIResList, choices), nil
	}
}

func (e *Engine) handleOfferRetryPhone(session *Session, normalized string) (*Reply, error) {
	if isAffirm(normalized) {
		session.Step = StepAskPhone
		return textReply("De acuerdo, dime el otro número de teléfono."), nil
	}
	session.Reset(false)
	return uiReply("Entendido.", UIMainMenu, nil), nil
}

func (e *Engine) handlePickReservation(ctx context.Context, session *Session, message string) (*Reply, error) {
	idx, ok := ridIndex(message)
	if !ok || idx < 0 || idx >= len(session.Data.CandidateReservationIDs) {
		return textReply("Por favor elige una de las citas de la lista."), nil
	}
	session.Data.SelectedReservationID = session.Data.CandidateReservationIDs[idx]
	session.Step = StepConfirmCancel
	return textReply("¿Confirmas que quieres cancelar esa cita? (sí/no)"), nil
}

func (e *Engine) handleConfirmCancel(ctx context.Context, session *Session, shop *models.Shop, normalized string) (*Reply, error) {
	if isDeny(normalized) {
		session.Reset(false)
		return textReply("De acuerdo, no se ha cancelado nada."), nil
	}
	if !isAffirm(normalized) {
		return textReply("¿Confirmas que quieres cancelar esa cita? (sí/no)"), nil
	}

	outcome, err := e.committer.Cancel(ctx, session.Data.SelectedReservationID)
	if err != nil {
		return nil, err
	}

	session.Step = StepPostConfirm
	session.Data = Data{}
	switch outcome.Skipped {
	case "not_found", "already_cancelled":
		return &Reply{Text: "Esa cita ya no estaba activa.", SecondText: "¿Quieres hacer algo más? (*si*/*no*)"}, nil
	default:
		return &Reply{Text: "✅ Tu cita ha sido cancelada.", SecondText: "¿Quieres hacer algo más? (*si*/*no*)"}, nil
	}
}

// handleAnswering runs one Q&A turn: the interpreter answers from the
// shop's own data (spec §4.1's faq flow), then the engine offers another
// round.
func (e *Engine) handleAnswering(ctx context.Context, session *Session, shop *models.Shop, message string) (*Reply, error) {
	answer, err := e.nlp.Interpret(ctx, message, nlp.SlotFAQ, e.faqContext(ctx, shop))
	if err != nil {
		answer = fmt.Sprintf("No tengo esa información. Por favor, contacta directamente con %s.", shop.Name)
	}
	session.Step = StepAskMore
	return &Reply{Text: answer, SecondText: "¿Quieres preguntarme algo más? (sí/no)"}, nil
}

func (e *Engine) handleAskMore(session *Session, shop *models.Shop, normalized string) (*Reply, error) {
	if isAffirm(normalized) {
		session.Step = StepAnswering
		return textReply("Cuéntame tu duda."), nil
	}
	session.Reset(false)
	return textReply("¡Gracias por contactarnos! Que tengas un buen día."), nil
}

func (e *Engine) shopContext(shop *models.Shop) nlp.ShopContext {
	now := time.Now().In(shop.Location())
	return nlp.ShopContext{
		Name:         shop.Name,
		Address:      shop.Address,
		Phone:        shop.ContactPhone,
		NumStaff:     shop.NumStaff,
		CurrencyCode: shop.CurrencyCode,
		TodayISO:     now.Format("2006-01-02"),
	}
}

// faqContext extends shopContext with the service catalogue and opening
// data the Q&A interpreter is allowed to answer from, and nothing else.
func (e *Engine) faqContext(ctx context.Context, shop *models.Shop) nlp.ShopContext {
	sc := e.shopContext(shop)

	services, err := e.services.ListActiveByShop(ctx, shop.ID)
	if err == nil {
		for _, s := range services {
			price := s.PriceCents
			sc.ServiceNames = append(sc.ServiceNames, s.Name)
			sc.ServiceSummary = append(sc.ServiceSummary, nlp.ServiceSummary{
				Name: s.Name, PriceCents: &price, DurationMinutes: s.DurationMinutes,
			})
		}
	}

	var closed []string
	closedSet := shop.ClosedWeekdays()
	for _, d := range models.Weekdays {
		if closedSet[d] {
			closed = append(closed, d)
		}
	}
	sc.ClosedDaysText = strings.Join(closed, ", ")

	var hours []string
	for _, d := range models.Weekdays {
		if closedSet[d] {
			continue
		}
		for _, iv := range shop.WorkingIntervalsFor(d) {
			hours = append(hours, fmt.Sprintf("%s %s-%s", d, iv.Start, iv.End))
		}
	}
	sc.HoursText = strings.Join(hours, "; ")
	return sc
}

// listReplyIndex extracts the 0-based index from an item-selection
// identifier of the form "<prefix>P<page>_<index>" (spec §4.4).
func listReplyIndex(raw, prefix string) (int, bool) {
	if !strings.HasPrefix(raw, prefix) {
		return 0, false
	}
	rest := strings.TrimPrefix(raw, prefix)
	parts := strings.SplitN(rest, "_", 2)
	if len(parts) != 2 || !strings.HasPrefix(parts[0], "P") {
		return 0, false
	}
	var idx int
	if _, err := fmt.Sscanf(parts[1], "%d", &idx); err != nil {
		return 0, false
	}
	return idx - 1, true
}

func ridIndex(raw string) (int, bool) {
	if !strings.HasPrefix(raw, "RID_") {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(strings.TrimPrefix(raw, "RID_"), "%d", &n); err != nil {
		return 0, false
	}
	return n - 1, true
}
