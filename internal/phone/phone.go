// Package phone normalises user-supplied phone numbers to E.164, the
// canonical form the reservation ledger stores customer_phone in.
// Grounded on the original implementation's phone_utils.py, which wraps
// Python's phonenumbers library; this wraps its Go port.
package phone

import (
	"github.com/nyaruka/phonenumbers"
)

// Normalize parses raw using defaultRegion (the shop's country_code) as
// the implicit region for numbers without a leading "+", and returns the
// E.164 form. Returns ("", false) if raw cannot be parsed as a plausible
// number.
func Normalize(raw, defaultRegion string) (string, bool) {
	if raw == "" {
		return "", false
	}
	num, err := phonenumbers.Parse(raw, defaultRegion)
	if err != nil {
		return "", false
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", false
	}
	return phonenumbers.Format(num, phonenumbers.E164), true
}

// IsValid reports whether raw parses to a valid number under
// defaultRegion without returning the formatted value.
func IsValid(raw, defaultRegion string) bool {
	_, ok := Normalize(raw, defaultRegion)
	return ok
}
