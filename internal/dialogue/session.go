// Package dialogue implements C7: the per-session conversational state
// machine. Session state is persisted to the KV store (C1) between
// messages as a single JSON document rather than the original
// implementation's open key/value "datos" bag: a Step tag plus one Data
// struct whose typed fields cover every step.
package dialogue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/peluqueria/booking-engine/internal/kv"
)

// Step is the dialogue engine's state tag.
type Step string

const (
	StepIdle               Step = "idle"
	StepPickService        Step = "pick_service"
	StepPickStaff          Step = "pick_staff"
	StepPickDate           Step = "pick_date"
	StepPickTime           Step = "pick_time"
	StepDisambiguateAMPM   Step = "disambiguate_am_pm"
	StepCollectName        Step = "collect_name"
	StepCollectPhone       Step = "collect_phone"
	StepConfirm            Step = "confirm"
	StepPostConfirm        Step = "post_confirm"
	StepAskPhone           Step = "ask_phone"
	StepOfferRetryPhone    Step = "offer_retry_phone"
	StepPickReservation    Step = "pick_reservation"
	StepConfirmCancel      Step = "confirm_cancel"
	StepAnswering          Step = "answering"
	StepAskMore            Step = "ask_more"
)

// Intent is the top-level user goal once resolved out of idle.
type Intent string

const (
	IntentNone   Intent = ""
	IntentBook   Intent = "book"
	IntentCancel Intent = "cancel"
	IntentFAQ    Intent = "faq"
)

// Data holds every field any step might need. Only the fields relevant
// to the current Step are populated; this is the Go analogue of the
// discriminated union described in spec §9 — one struct tagged by Step
// rather than N separate step types, to keep (de)serialisation trivial.
type Data struct {
	ServiceID      string   `json:"serviceId,omitempty"`
	ProfessionalID string   `json:"professionalId,omitempty"`
	Date           string   `json:"date,omitempty"`
	StartTime      string   `json:"startTime,omitempty"`
	CustomerName   string   `json:"customerName,omitempty"`
	CustomerPhone  string   `json:"customerPhone,omitempty"`

	AmbiguousAM string `json:"ambiguousAm,omitempty"`
	AmbiguousPM string `json:"ambiguousPm,omitempty"`

	CandidateReservationIDs []string `json:"candidateReservationIds,omitempty"`
	SelectedReservationID   string   `json:"selectedReservationId,omitempty"`
}

// Session is the full persisted conversational state for one session_id.
type Session struct {
	SessionID    string `json:"sessionId"`
	Step         Step   `json:"step"`
	Intent       Intent `json:"intent"`
	Data         Data   `json:"data"`
	ForceWelcome bool   `json:"forceWelcome,omitempty"`
}

func sessionKey(sessionID string) string { return "state:" + sessionID }

// sessionTTL matches spec §3: sessions live 5 hours in C1.
const sessionTTL = 5 * time.Hour

// LoadSession reads a session from the KV store, returning a fresh idle
// session if none exists yet.
func LoadSession(ctx context.Context, store kv.Store, sessionID string) (*Session, error) {
	raw, ok, err := store.Get(ctx, sessionKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	if !ok {
		return &Session{SessionID: sessionID, Step: StepIdle, Intent: IntentNone}, nil
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		// A corrupt or stale-format record should never wedge a user's
		// conversation; start clean instead of surfacing a 500.
		return &Session{SessionID: sessionID, Step: StepIdle, Intent: IntentNone}, nil
	}
	return &s, nil
}

// Save persists the session with the standard TTL.
func Save(ctx context.Context, store kv.Store, s *Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshalling session %s: %w", s.SessionID, err)
	}
	return store.Set(ctx, sessionKey(s.SessionID), string(b), sessionTTL)
}

// Reset returns the session to idle, clearing all step-local data — used
// by global commands and after unexpected errors (spec §7).
func (s *Session) Reset(forceWelcome bool) {
	s.Step = StepIdle
	s.Intent = IntentNone
	s.Data = Data{}
	s.ForceWelcome = forceWelcome
}
