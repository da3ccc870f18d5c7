package mailbox

import (
	"strings"
	"time"
)

// Filter narrows which messages are eligible for extraction. The allow list
// additionally narrows the remote search where the protocol supports it;
// both lists are re-checked against every fetched message because provider
// search is imprecise.
type Filter struct {
	Allow  []string
	Deny   []string
	Window time.Duration
}

// DefaultWindow is applied when a filter carries no explicit time window.
const DefaultWindow = 24 * time.Hour

// NewFilter builds a filter from a comma-separated allow list.
func NewFilter(allowList string, window time.Duration) Filter {
	if window <= 0 {
		window = DefaultWindow
	}
	return Filter{Allow: SplitSenderList(allowList), Window: window}
}

// Cutoff returns the oldest acceptable message time relative to now.
func (f Filter) Cutoff(now time.Time) time.Time {
	window := f.Window
	if window <= 0 {
		window = DefaultWindow
	}
	return now.Add(-window)
}

// MatchesSender reports whether a from address passes both lists. A deny
// match rejects; when an allow list exists, the address must match it.
func (f Filter) MatchesSender(from string) bool {
	from = strings.ToLower(strings.TrimSpace(from))
	for _, deny := range f.Deny {
		if deny != "" && strings.Contains(from, deny) {
			return false
		}
	}
	if len(f.Allow) == 0 {
		return true
	}
	for _, allow := range f.Allow {
		if allow != "" && strings.Contains(from, allow) {
			return true
		}
	}
	return false
}

// SenderMatched reports whether the address matched a configured allow
// entry, as opposed to passing because no allow list exists. The scorer
// treats the two differently.
func (f Filter) SenderMatched(from string) bool {
	if len(f.Allow) == 0 {
		return false
	}
	from = strings.ToLower(strings.TrimSpace(from))
	for _, allow := range f.Allow {
		if allow != "" && strings.Contains(from, allow) {
			return true
		}
	}
	return false
}

// InWindow reports whether a message time falls inside the filter window.
// Messages with an unknown receive time are admitted; the provider already
// bounded the search and rejecting them would hide codes.
func (f Filter) InWindow(received, now time.Time) bool {
	if received.IsZero() {
		return true
	}
	return !received.Before(f.Cutoff(now))
}
