package dialogue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	cases := map[string]string{
		"  Hola  ": "hola",
		"/Menu":    "menu",
		"Mañana":   "manana",
		"CANCELAR": "cancelar",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeText(in), "normalizeText(%q)", in)
	}
}

func TestMatchGlobalCommand(t *testing.T) {
	for _, word := range []string{"menu", "inicio", "reset", "volver"} {
		assert.Equal(t, cmdMenu, matchGlobalCommand(word), "word %q", word)
	}
	assert.Equal(t, cmdNone, matchGlobalCommand("hola"))
}

func TestAffirmAndDeny(t *testing.T) {
	assert.True(t, isAffirm("si"))
	assert.True(t, isAffirm("ok"))
	assert.True(t, isDeny("no"))
	assert.False(t, isAffirm("no"))
	assert.False(t, isDeny("si"))
}

func TestMatchIntentSynonym(t *testing.T) {
	assert.Equal(t, IntentBook, matchIntentSynonym("reservar"))
	assert.Equal(t, IntentCancel, matchIntentSynonym("cancelar"))
	assert.Equal(t, IntentFAQ, matchIntentSynonym("horario"))
	assert.Equal(t, IntentNone, matchIntentSynonym("xyz"))
}
