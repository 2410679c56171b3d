package dialogue

import "testing"

func TestNormalizeTimeUnambiguous(t *testing.T) {
	cases := []struct {
		raw  string
		hhmm string
	}{
		{"14:30", "14:30"},
		{"9pm", "21:00"},
		{"9am", "09:00"},
		{"21h", "21:00"},
		{"mediodia", "12:00"},
		{"medianoche", "00:00"},
		{"a las 5 de la tarde", "17:00"},
		{"a las 9 de la manana", "09:00"},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			p := normalizeTime(tc.raw)
			if p == nil {
				t.Fatalf("normalizeTime(%q) = nil, want %q", tc.raw, tc.hhmm)
			}
			if got := p.HHMM(); got != tc.hhmm {
				t.Fatalf("normalizeTime(%q).HHMM() = %q, want %q", tc.raw, got, tc.hhmm)
			}
		})
	}
}

func TestNormalizeTimeAmbiguous(t *testing.T) {
	p := normalizeTime("5:00")
	if p == nil || !p.Ambiguous {
		t.Fatalf("expected bare 5:00 to parse as ambiguous, got %+v", p)
	}
	if p.AMVariant() != "05:00" {
		t.Fatalf("AMVariant() = %q, want 05:00", p.AMVariant())
	}
	if p.PMVariant() != "17:00" {
		t.Fatalf("PMVariant() = %q, want 17:00", p.PMVariant())
	}
}

func TestNormalizeTimeQuarterWords(t *testing.T) {
	cases := []struct {
		raw  string
		hhmm string
	}{
		{"a las 5 y cuarto", "05:15"},
		{"a las 5 y media", "05:30"},
		{"a las 6 menos cuarto", "05:45"},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			p := normalizeTime(tc.raw)
			if p == nil {
				t.Fatalf("normalizeTime(%q) = nil", tc.raw)
			}
			if got := p.HHMM(); got != tc.hhmm {
				t.Fatalf("normalizeTime(%q).HHMM() = %q, want %q", tc.raw, got, tc.hhmm)
			}
		})
	}
}

func TestNormalizeTimeInvalid(t *testing.T) {
	for _, raw := range []string{"", "hello there", "25:99"} {
		if p := normalizeTime(raw); p != nil {
			t.Fatalf("normalizeTime(%q) = %+v, want nil", raw, p)
		}
	}
}
