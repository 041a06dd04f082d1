package deduplication

import (
	"strings"

	"basecamp/types"
)

// SamePerson decides whether two contact records denote the same real-world
// person. Signals are consulted in priority order (email, then phone, then
// name) and the first rule where both sides have the field populated decides
// the outcome. Email is therefore authoritative when both sides carry one:
// mismatched emails return false even if the phones would match, so a shared
// household phone can never override two distinct clean addresses. With no
// field pair populated on both sides the answer is false; under-merging is
// preferred over wrongly suppressing a distinct lead.
func SamePerson(a, b types.ContactInfo) bool {
	aEmail, bEmail := normalizeEmail(a.Email), normalizeEmail(b.Email)
	if aEmail != "" && bEmail != "" {
		return aEmail == bEmail
	}

	aPhone, bPhone := phoneDigits(a.Phone), phoneDigits(b.Phone)
	if aPhone != "" && bPhone != "" {
		return lastDigits(aPhone, 10) == lastDigits(bPhone, 10)
	}

	aName, bName := normalizeName(a.Name), normalizeName(b.Name)
	if aName != "" && bName != "" {
		// Exact match only. Fuzzy name matching would merge distinct people.
		return aName == bName
	}

	return false
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// phoneDigits strips everything but digits.
func phoneDigits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}

// lastDigits canonicalizes a digit string to its last n digits, absorbing
// leading country and trunk codes.
func lastDigits(digits string, n int) string {
	if len(digits) <= n {
		return digits
	}
	return digits[len(digits)-n:]
}
