package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		region string
		want   string
		wantOK bool
	}{
		{"already e164", "+34600111222", "ES", "+34600111222", true},
		{"national with region", "600111222", "ES", "+34600111222", true},
		{"national US with region", "2125551234", "US", "+12125551234", true},
		{"empty", "", "ES", "", false},
		{"garbage", "not-a-number", "ES", "", false},
		{"too short", "123", "ES", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Normalize(tc.raw, tc.region)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("+34600111222", "ES"))
	assert.False(t, IsValid("", "ES"))
}
