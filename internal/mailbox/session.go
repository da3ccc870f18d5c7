// Package mailbox owns remote-mailbox access for OTP retrieval: opening a
// session against an IMAP or POP3 provider, searching recent messages, and
// fetching parsed message content. Failures are isolated to a single
// account; the failover loop above decides what happens next.
package mailbox

import (
	"context"
	"strings"
	"time"
)

// Account carries the minimal set of fields needed to open a mailbox.
// Password is plaintext here; it is decrypted immediately before dialing
// and must never be logged.
type Account struct {
	ID       int
	Type     string // imap, imaps, pop3, pop3s
	Host     string
	Port     int
	Username string
	Password []byte
	Folder   string
}

// Message is one fetched mail, reduced to the fields extraction needs.
type Message struct {
	ID          string
	Subject     string
	FromAddress string
	FromName    string
	TextBody    string
	HTMLBody    string
	ReceivedAt  time.Time
}

// Session is one open connection to a remote mailbox.
//
// Search returns message ids newest-first, narrowed by the since cutoff and
// sender filters where the protocol supports it. Providers without
// server-side search (POP3) return all ids; the caller re-checks every
// fetched message against the filter regardless.
//
// Close must be called on every exit path. Leaking sessions exhausts
// provider connection quotas.
type Session interface {
	Search(ctx context.Context, since time.Time, senders []string) ([]string, error)
	Fetch(ctx context.Context, id string) (*Message, error)
	Close() error
}

// Dialer opens a Session for an account.
type Dialer interface {
	Dial(ctx context.Context, account Account) (Session, error)
}

// SplitSenderList splits a comma- or semicolon-separated sender filter into
// trimmed, lowercased entries.
func SplitSenderList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
