package mailbox

import (
	"context"
	"fmt"
	"strings"
)

// DialerSet resolves the correct dialer for an account type.
type DialerSet struct {
	imap *IMAPDialer
	pop3 *POP3Dialer
}

// NewDialerSet builds a DialerSet from configured dialers. Nil entries fall
// back to defaults.
func NewDialerSet(imap *IMAPDialer, pop3 *POP3Dialer) *DialerSet {
	if imap == nil {
		imap = NewIMAPDialer()
	}
	if pop3 == nil {
		pop3 = NewPOP3Dialer()
	}
	return &DialerSet{imap: imap, pop3: pop3}
}

// Dial routes to the protocol-specific dialer for the account.
func (s *DialerSet) Dial(ctx context.Context, account Account) (Session, error) {
	switch {
	case supportsIMAP(account.Type):
		return s.imap.Dial(ctx, account)
	case supportsPOP3(account.Type):
		return s.pop3.Dial(ctx, account)
	default:
		return nil, fmt.Errorf("no dialer for account type %q", strings.ToLower(account.Type))
	}
}
