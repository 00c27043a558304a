// ABOUTME: Canonical counterparty identifiers per transport
// ABOUTME: Phone transports reduce JIDs to digits; Matrix keeps full user ids

package router

import (
	"regexp"
	"strings"
)

var phonePattern = regexp.MustCompile(`^[0-9]{7,15}$`)

// NormalizePhone reduces a phone JID or number to its digits. It strips the
// server suffix and any device part ("15551234567:12@s.whatsapp.net" becomes
// "15551234567") and rejects values outside 7 to 15 digits.
func NormalizePhone(id string) (string, bool) {
	s := strings.TrimSpace(id)
	if at := strings.IndexByte(s, '@'); at >= 0 {
		s = s[:at]
	}
	if colon := strings.IndexByte(s, ':'); colon >= 0 {
		s = s[:colon]
	}
	if dot := strings.IndexByte(s, '.'); dot >= 0 {
		s = s[:dot]
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return "", false
		}
	}

	digits := b.String()
	if !phonePattern.MatchString(digits) {
		return "", false
	}
	return digits, true
}

// NormalizeMatrixID validates a Matrix user id of the form "@local:server".
func NormalizeMatrixID(id string) (string, bool) {
	s := strings.TrimSpace(id)
	if len(s) < 4 || s[0] != '@' {
		return "", false
	}
	colon := strings.IndexByte(s, ':')
	if colon < 2 || colon == len(s)-1 {
		return "", false
	}
	return s, true
}

// Normalizer maps a transport's sender id to a counterparty key.
type Normalizer func(id string) (string, bool)

// normalizerFor picks the normalizer for a transport name. Unknown
// transports are treated as phone-based.
func normalizerFor(transport string) Normalizer {
	if transport == "matrix" {
		return NormalizeMatrixID
	}
	return NormalizePhone
}
