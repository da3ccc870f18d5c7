// Package otp implements the OTP retrieval engine: building extraction
// pattern sets, scanning message text for candidate codes, scoring
// candidates, walking mailbox accounts in priority order, and computing
// TOTP codes from vault-held secrets.
package otp

import (
	"log"
	"regexp"
)

// DefaultPattern is the global fallback when neither the mapping nor the
// account configures a pattern, or the configured one fails to compile.
const DefaultPattern = `\b\d{4,8}\b`

// Pattern identifiers carried on candidates for provenance.
const (
	PatternConfigured   = "configured"
	PatternDefault      = "default"
	PatternKeywordNum   = "keyword_numeric"
	PatternKeywordAlnum = "keyword_alnum"
)

// Pattern is one compiled extraction regex with a stable identifier.
type Pattern struct {
	ID string
	Re *regexp.Regexp
}

// Codes follow keywords like "code", "otp", "verification", "pin",
// "passcode" within a short span. The numeric variant runs first so a
// digit-only code is not claimed by the looser alphanumeric one.
var enhancedPatterns = []Pattern{
	{
		ID: PatternKeywordNum,
		Re: regexp.MustCompile(`(?i)(?:code|otp|verification|pin|passcode)\W{0,10}(\d{4,8})\b`),
	},
	{
		ID: PatternKeywordAlnum,
		Re: regexp.MustCompile(`(?i)(?:code|otp|verification|pin|passcode)\W{0,10}\b([0-9A-Za-z]{4,8})\b`),
	},
}

var defaultCompiled = Pattern{ID: PatternDefault, Re: regexp.MustCompile(DefaultPattern)}

// BuildPatternSet assembles the ordered pattern list for one account: the
// configured pattern (mapping override else account default, falling back
// to the global default when absent or uncompilable) unioned with the
// built-in enhanced patterns.
func BuildPatternSet(configured string, logger *log.Logger) []Pattern {
	patterns := make([]Pattern, 0, len(enhancedPatterns)+1)
	switch {
	case configured == "":
		patterns = append(patterns, defaultCompiled)
	default:
		re, err := regexp.Compile(configured)
		if err != nil {
			if logger != nil {
				logger.Printf("otp: configured pattern does not compile, using default: %v", err)
			}
			patterns = append(patterns, defaultCompiled)
		} else {
			patterns = append(patterns, Pattern{ID: PatternConfigured, Re: re})
		}
	}
	return append(patterns, enhancedPatterns...)
}
