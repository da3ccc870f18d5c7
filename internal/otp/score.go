package otp

import (
	"strings"

	"github.com/grantflowsupport/bytevault-otp-hub/internal/mailbox"
)

// contextRadius is the span around a candidate inspected for relevance
// keywords.
const contextRadius = 60

// trivialBlacklist holds placeholder codes never trusted even when a
// pattern matches them.
var trivialBlacklist = map[string]bool{
	"123456":   true,
	"000000":   true,
	"111111":   true,
	"654321":   true,
	"123123":   true,
	"112233":   true,
	"0000":     true,
	"1234":     true,
	"12345678": true,
}

var subjectKeywords = []string{
	"verification", "code", "otp", "login", "security", "confirm",
	"activate", "reset", "authenticate",
}

var contextKeywords = []string{
	"otp", "code", "verify", "login", "two-factor", "authentication",
	"passcode",
}

// IsTrivial reports whether a candidate is a placeholder-looking code.
// Trivial codes are rejected unconditionally.
func IsTrivial(code string) bool {
	if trivialBlacklist[code] {
		return true
	}
	if len(code) == 6 {
		repeated := true
		for i := 1; i < len(code); i++ {
			if code[i] != code[0] {
				repeated = false
				break
			}
		}
		if repeated && code[0] >= '0' && code[0] <= '9' {
			return true
		}
	}
	return false
}

// SubjectRelevant reports whether a subject line signals an OTP mail.
func SubjectRelevant(subject string) bool {
	subject = strings.ToLower(subject)
	for _, kw := range subjectKeywords {
		if strings.Contains(subject, kw) {
			return true
		}
	}
	return false
}

func contextRelevant(text string, pos, length int) bool {
	start := pos - contextRadius
	if start < 0 {
		start = 0
	}
	end := pos + length + contextRadius
	if end > len(text) {
		end = len(text)
	}
	window := strings.ToLower(text[start:end])
	for _, kw := range contextKeywords {
		if strings.Contains(window, kw) {
			return true
		}
	}
	return false
}

// Score decides whether a candidate is trustworthy enough to return.
// Trivial codes are always rejected; otherwise any of sender trust,
// subject relevance, or local context relevance accepts.
func Score(c Candidate, msg *mailbox.Message, filter mailbox.Filter, text string) bool {
	if IsTrivial(c.Text) {
		return false
	}
	if filter.SenderMatched(msg.FromAddress) {
		return true
	}
	if SubjectRelevant(msg.Subject) {
		return true
	}
	return contextRelevant(text, c.Position, len(c.Text))
}

// SelectCandidate picks the accepted candidate to return for one message.
// Subject-relevant mail yields the first accepted match; otherwise the
// last, since later occurrences in non-relevant mail are more often the
// actual code than boilerplate ids appearing earlier.
func SelectCandidate(candidates []Candidate, msg *mailbox.Message, filter mailbox.Filter, text string) *Candidate {
	preferFirst := SubjectRelevant(msg.Subject)
	var chosen *Candidate
	for i := range candidates {
		c := candidates[i]
		if !Score(c, msg, filter, text) {
			continue
		}
		if preferFirst {
			return &c
		}
		chosen = &c
	}
	return chosen
}
