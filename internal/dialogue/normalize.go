package dialogue

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalizeText lowercases, strips diacritics, and trims a leading slash
// — the global-command and intent-matching pipeline (spec §4.1).
func normalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "/")
	s = stripDiacritics(s)
	return strings.TrimSpace(s)
}

// normalizeForServiceMatch applies the stronger pipeline spec §4.1's
// service-selection matcher calls for: lowercase, strip accents, strip
// non-alphanumerics, collapse whitespace.
func normalizeForServiceMatch(s string) string {
	s = stripDiacritics(strings.ToLower(s))
	var b strings.Builder
	lastWasSpace := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastWasSpace = false
		case unicode.IsSpace(r):
			if !lastWasSpace {
				b.WriteRune(' ')
				lastWasSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

var globalCommandWords = map[string]globalCommand{
	"menu": cmdMenu, "inicio": cmdMenu, "start": cmdMenu, "home": cmdMenu,
	"reiniciar": cmdMenu, "reset": cmdMenu,
	"salir": cmdMenu, "parar": cmdMenu, "cancelar flujo": cmdMenu,
	"volver": cmdMenu, "atras": cmdMenu,
}

type globalCommand int

const (
	cmdNone globalCommand = iota
	cmdMenu
)

// matchGlobalCommand checks the normalised text against the closed set of
// global commands that reset state to idle regardless of the current
// step (spec §4.1).
func matchGlobalCommand(normalized string) globalCommand {
	if cmd, ok := globalCommandWords[normalized]; ok {
		return cmd
	}
	return cmdNone
}

var affirmWords = map[string]bool{
	"si": true, "sí": true, "s": true, "yes": true, "y": true, "claro": true, "vale": true, "ok": true,
}

var denyWords = map[string]bool{
	"no": true, "n": true, "nop": true, "nel": true,
}

func isAffirm(normalized string) bool { return affirmWords[normalized] }
func isDeny(normalized string) bool   { return denyWords[normalized] }

var cancelIntentWords = map[string]bool{
	"cancelar": true, "anular": true, "cancelar cita": true, "anular cita": true, "cancelar reserva": true,
	"cancel": true,
}

var bookIntentWords = map[string]bool{
	"reservar": true, "reserva": true, "cita": true, "agendar": true, "quiero reservar": true, "book": true,
}

var faqIntentWords = map[string]bool{
	"duda": true, "pregunta": true, "info": true, "informacion": true, "horario": true, "precio": true,
	"faq": true,
}

// matchIntentSynonym is the closed synonym table consulted before falling
// back to the NL interpreter (spec §4.1).
func matchIntentSynonym(normalized string) Intent {
	if cancelIntentWords[normalized] {
		return IntentCancel
	}
	if bookIntentWords[normalized] {
		return IntentBook
	}
	if faqIntentWords[normalized] {
		return IntentFAQ
	}
	return IntentNone
}
