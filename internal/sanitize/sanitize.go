// Package sanitize masks customer data before it reaches logs and normalises
// phone numbers into the canonical lead key.
package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	phonePattern = regexp.MustCompile(`\+?[1-9]\d{6,14}`)
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
)

// Phone masks a phone number, keeping the first 3 and last 2 characters.
func Phone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:3] + strings.Repeat("*", len(phone)-5) + phone[len(phone)-2:]
}

// Email masks the local part of an email address.
func Email(email string) string {
	at := strings.Index(email, "@")
	if at <= 0 {
		return "[email]"
	}
	if at <= 2 {
		return email[:1] + "***" + email[at:]
	}
	return email[:2] + "***" + email[at:]
}

// Text masks phone numbers and emails embedded in free text and truncates
// the result to maxLen runes (0 means no limit).
func Text(s string, maxLen int) string {
	s = phonePattern.ReplaceAllStringFunc(s, Phone)
	s = emailPattern.ReplaceAllStringFunc(s, Email)
	if maxLen > 0 {
		runes := []rune(s)
		if len(runes) > maxLen {
			return string(runes[:maxLen]) + "…"
		}
	}
	return s
}

// NormalizePhone reduces a WhatsApp sender id or user-entered number to
// digits only, which is the canonical lead key. WhatsApp ids never carry
// the leading '+', so "+263 77 123 4567" and "263771234567" collide.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PartialMask masks the middle portion of a string, keeping first and last N chars.
func PartialMask(s string, keepStart, keepEnd int) string {
	if len(s) <= keepStart+keepEnd {
		return strings.Repeat("*", len(s))
	}
	return s[:keepStart] + strings.Repeat("*", len(s)-keepStart-keepEnd) + s[len(s)-keepEnd:]
}
