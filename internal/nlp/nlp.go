// Package nlp is the C4 collaborator: a pure function from free text plus
// a slot kind plus shop context to an extracted value, or NO_UNDERSTAND.
// Grounded on the original implementation's interpretador_ia.py, which
// prompts an LLM per slot kind rather than hand-rolling NLU; this keeps
// that shape but drops the conversational "ask again" wording into the
// dialogue engine, since C4 here only extracts.
package nlp

import (
	"context"
	"errors"
)

// ErrNoUnderstand is the NO_UNDERSTAND sentinel: the interpreter could not
// confidently extract a value. Callers treat it as a re-prompt trigger,
// never as a transport-level failure.
var ErrNoUnderstand = errors.New("no_understand")

// SlotKind mirrors interpretador_ia.py's "paso" dispatch.
type SlotKind string

const (
	SlotIntent  SlotKind = "intent"
	SlotService SlotKind = "service"
	SlotDate    SlotKind = "date"
	SlotFAQ     SlotKind = "faq"
)

// Intent is the classification result for SlotIntent.
type Intent string

const (
	IntentBook   Intent = "reservar"
	IntentCancel Intent = "cancelar"
	IntentFAQ    Intent = "duda"
)

// ShopContext carries exactly what the interpreter needs to stay grounded
// to one shop's real data — it must never answer from outside this set
// (spec §4.1's FAQ guardrail).
type ShopContext struct {
	Name            string
	Address         string
	Phone           string
	ClosedDaysText  string
	HoursText       string
	NumStaff        int
	CurrencyCode    string
	Info            string
	ServiceNames    []string
	ServiceSummary  []ServiceSummary
	TodayISO        string // shop-local date, for relative date resolution
}

type ServiceSummary struct {
	Name            string
	PriceCents      *int64
	DurationMinutes int
}

// Interpreter is C4's contract. Implementations must be safe for
// concurrent use and must not mutate shop or session state.
type Interpreter interface {
	// Interpret extracts a value of the given kind from text. For
	// SlotIntent the returned string is one of the Intent constants.
	// For SlotDate it is an ISO YYYY-MM-DD. For SlotFAQ it is the
	// answer text itself. Returns ErrNoUnderstand when unsure.
	Interpret(ctx context.Context, text string, kind SlotKind, shop ShopContext) (string, error)
}
