// Package phone canonicalizes chat-network contact identifiers.
package phone

import "strings"

// Suffix is the network suffix carried by full contact identifiers.
const Suffix = "@c.us"

// Normalize strips the network suffix if present and removes every
// non-digit character. Empty input yields an empty string; callers must
// treat an empty result as an invalid address.
func Normalize(raw string) string {
	raw = strings.TrimSuffix(raw, Suffix)
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ContactID builds the full network identifier for a digits-only number.
func ContactID(digits string) string {
	return digits + Suffix
}
