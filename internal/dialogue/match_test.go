package dialogue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peluqueria/booking-engine/internal/models"
)

func TestMatchOrdinal(t *testing.T) {
	idx, ok := matchOrdinal("2", 3)
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = matchOrdinal("0", 3)
	assert.False(t, ok, "ordinals are 1-based")

	_, ok = matchOrdinal("4", 3)
	assert.False(t, ok, "out of range")

	_, ok = matchOrdinal("abc", 3)
	assert.False(t, ok, "not parseable")
}

func TestMatchServiceText(t *testing.T) {
	services := []models.Service{
		{Name: "Corte de pelo"},
		{Name: "Manicura"},
		{Name: "Tinte"},
	}
	cases := []struct {
		name string
		text string
		want int
		ok   bool
	}{
		{"exact accent-insensitive", "manicura", 1, true},
		{"prefix match", "corte", 0, true},
		{"substring match", "de pelo", 0, true},
		{"no match", "masaje", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			idx, ok := matchServiceText(tc.text, "", services)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, idx)
			}
		})
	}
}

func TestMatchServiceTextFallsBackToNLPSuggestion(t *testing.T) {
	services := []models.Service{{Name: "Corte de pelo"}, {Name: "Manicura"}}
	idx, ok := matchServiceText("quiero algo para las manos", "manicura", services)
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestMatchStaffText(t *testing.T) {
	staff := []models.Professional{{Name: "Ana"}, {Name: "Beto"}}

	idx, ok, any := matchStaffText("1", staff)
	require.True(t, ok)
	assert.False(t, any)
	assert.Equal(t, 0, idx)

	_, ok, any = matchStaffText("cualquiera", staff)
	assert.False(t, ok)
	assert.True(t, any)

	idx, ok, any = matchStaffText("ana", staff)
	require.True(t, ok)
	assert.False(t, any)
	assert.Equal(t, 0, idx)

	_, ok, any = matchStaffText("carlos", staff)
	assert.False(t, ok)
	assert.False(t, any)
}
