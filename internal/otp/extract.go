package otp

import (
	"log"
	"strings"
	"time"

	"github.com/grantflowsupport/bytevault-otp-hub/internal/mailbox"
)

const (
	// MaxScanLength bounds the text a pattern set runs over.
	MaxScanLength = 10000

	minCandidateLen = 4
	maxCandidateLen = 12

	// DefaultPatternTimeout is the per-pattern wall-clock budget. Go's
	// regexp engine is linear-time, but configured patterns are operator
	// input and mail content is attacker-influenced; the budget caps the
	// worst case and a timed-out pattern is skipped, not fatal.
	DefaultPatternTimeout = 500 * time.Millisecond
)

// Candidate is a substring extracted by a pattern that might be the OTP.
type Candidate struct {
	Text      string
	PatternID string
	Position  int
}

// ScanText concatenates the parts of a message the patterns run over,
// truncated to MaxScanLength.
func ScanText(msg *mailbox.Message) string {
	var b strings.Builder
	b.Grow(len(msg.Subject) + len(msg.TextBody) + len(msg.HTMLBody) + 2)
	b.WriteString(msg.Subject)
	b.WriteByte('\n')
	b.WriteString(msg.TextBody)
	b.WriteByte('\n')
	b.WriteString(msg.HTMLBody)
	text := b.String()
	if len(text) > MaxScanLength {
		text = text[:MaxScanLength]
	}
	return text
}

// Extract runs the pattern set over text in order and returns every match
// with its provenance. A pattern that panics or exceeds the timeout is
// skipped. Only candidates with length in [4,12] are returned.
func Extract(text string, patterns []Pattern, timeout time.Duration, logger *log.Logger) []Candidate {
	if timeout <= 0 {
		timeout = DefaultPatternTimeout
	}
	var candidates []Candidate
	for _, p := range patterns {
		matches, ok := runPattern(text, p, timeout, logger)
		if !ok {
			continue
		}
		candidates = append(candidates, matches...)
	}
	return candidates
}

type patternResult struct {
	matches []Candidate
	ok      bool
}

// runPattern executes one pattern on a worker goroutine with a hard
// timeout. On timeout the worker is abandoned; it holds no locks and exits
// on its own once the engine returns.
func runPattern(text string, p Pattern, timeout time.Duration, logger *log.Logger) ([]Candidate, bool) {
	done := make(chan patternResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					logger.Printf("otp: pattern %s panicked: %v", p.ID, r)
				}
				done <- patternResult{ok: false}
			}
		}()
		done <- patternResult{matches: matchPattern(text, p), ok: true}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.matches, res.ok
	case <-timer.C:
		if logger != nil {
			logger.Printf("otp: pattern %s exceeded %s budget, skipped", p.ID, timeout)
		}
		return nil, false
	}
}

func matchPattern(text string, p Pattern) []Candidate {
	idxs := p.Re.FindAllStringSubmatchIndex(text, -1)
	if len(idxs) == 0 {
		return nil
	}
	matches := make([]Candidate, 0, len(idxs))
	for _, m := range idxs {
		start, end := m[0], m[1]
		// Use the first capture group when the pattern defines one.
		if len(m) >= 4 && m[2] >= 0 {
			start, end = m[2], m[3]
		}
		candidate := text[start:end]
		if len(candidate) < minCandidateLen || len(candidate) > maxCandidateLen {
			continue
		}
		matches = append(matches, Candidate{Text: candidate, PatternID: p.ID, Position: start})
	}
	return matches
}
