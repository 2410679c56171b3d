package nlp

import "context"

// NoopInterpreter always reports NO_UNDERSTAND. Used when no NLP base URL
// is configured, so the core still starts and falls back to the dialogue
// engine's button/list-driven flows instead of free text.
type NoopInterpreter struct{}

func NewNoopInterpreter() *NoopInterpreter {
	return &NoopInterpreter{}
}

func (n *NoopInterpreter) Interpret(_ context.Context, _ string, _ SlotKind, _ ShopContext) (string, error) {
	return "", ErrNoUnderstand
}
