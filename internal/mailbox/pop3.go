package mailbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/go-pop3"
)

type pop3Connection interface {
	Auth(user, password string) error
	Quit() error
	Uidl(msgID int) ([]pop3.MessageID, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
}

type pop3ConnFactory func(Account) (pop3Connection, error)

// POP3Dialer opens read-only POP3/POP3S sessions for OTP retrieval.
type POP3Dialer struct {
	dialTimeout time.Duration
	logger      *log.Logger
	newConn     pop3ConnFactory
}

// POP3DialerOption customizes dialer behavior.
type POP3DialerOption func(*POP3Dialer)

// NewPOP3Dialer returns a POP3 dialer ready for retrieval sessions.
func NewPOP3Dialer(opts ...POP3DialerOption) *POP3Dialer {
	d := &POP3Dialer{
		dialTimeout: 5 * time.Second,
		logger:      log.Default(),
	}
	d.newConn = d.defaultConnFactory
	for _, opt := range opts {
		opt(d)
	}
	if d.newConn == nil {
		d.newConn = d.defaultConnFactory
	}
	return d
}

// WithPOP3DialTimeout overrides the socket dial timeout.
func WithPOP3DialTimeout(timeout time.Duration) POP3DialerOption {
	return func(d *POP3Dialer) {
		if timeout > 0 {
			d.dialTimeout = timeout
		}
	}
}

// WithPOP3Logger overrides the logger used for session diagnostics.
func WithPOP3Logger(logger *log.Logger) POP3DialerOption {
	return func(d *POP3Dialer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func withPOP3ConnFactory(factory pop3ConnFactory) POP3DialerOption {
	return func(d *POP3Dialer) {
		d.newConn = factory
	}
}

// Dial connects and authenticates. The caller owns the returned session and
// must Close it on every exit path.
func (d *POP3Dialer) Dial(_ context.Context, account Account) (Session, error) {
	if err := validatePOP3Account(account); err != nil {
		return nil, err
	}
	conn, err := d.newConn(account)
	if err != nil {
		return nil, fmt.Errorf("pop3 connect: %w", err)
	}
	if err := conn.Auth(account.Username, string(account.Password)); err != nil {
		d.safeQuit(conn)
		return nil, fmt.Errorf("pop3 auth: %w", err)
	}
	return &pop3Session{conn: conn, account: account, logger: d.logger}, nil
}

func (d *POP3Dialer) safeQuit(conn pop3Connection) {
	if conn == nil {
		return
	}
	if err := conn.Quit(); err != nil && d.logger != nil {
		d.logger.Printf("pop3 quit error: %v", err)
	}
}

func (d *POP3Dialer) defaultConnFactory(account Account) (pop3Connection, error) {
	if account.Host == "" {
		return nil, errors.New("pop3 account missing host")
	}
	port := account.Port
	if port == 0 {
		if usePOP3TLS(account.Type) {
			port = 995
		} else {
			port = 110
		}
	}
	client := pop3.New(pop3.Opt{
		Host:        account.Host,
		Port:        port,
		DialTimeout: d.dialTimeout,
		TLSEnabled:  usePOP3TLS(account.Type),
	})
	return client.NewConn()
}

type pop3Session struct {
	conn    pop3Connection
	account Account
	logger  *log.Logger
	uidByID map[string]int
	closed  bool
}

// Search lists all mailbox ids newest-first. POP3 has no server-side
// search, so the since cutoff and sender filters are enforced by the
// caller's per-message re-check after Fetch.
func (s *pop3Session) Search(_ context.Context, _ time.Time, _ []string) ([]string, error) {
	metas, err := s.conn.Uidl(0)
	if err != nil {
		return nil, fmt.Errorf("pop3 uidl: %w", err)
	}
	if s.uidByID == nil {
		s.uidByID = make(map[string]int, len(metas))
	}
	ids := make([]string, 0, len(metas))
	// Message numbers ascend with arrival order; walk backwards.
	for i := len(metas) - 1; i >= 0; i-- {
		meta := metas[i]
		uid := meta.UID
		if uid == "" {
			uid = strconv.Itoa(meta.ID)
		}
		s.uidByID[uid] = meta.ID
		ids = append(ids, uid)
	}
	return ids, nil
}

// Fetch retrieves and parses one message by the UID returned from Search.
func (s *pop3Session) Fetch(_ context.Context, id string) (*Message, error) {
	msgID, ok := s.uidByID[id]
	if !ok {
		return nil, fmt.Errorf("pop3 fetch: unknown id %q", id)
	}
	payload, err := s.conn.RetrRaw(msgID)
	if err != nil {
		return nil, fmt.Errorf("pop3 retr %d: %w", msgID, err)
	}
	// Receive time comes from the Date header during parsing.
	return ParseMessage(id, append([]byte(nil), payload.Bytes()...), time.Time{})
}

// Close quits the connection. Safe to call more than once.
func (s *pop3Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.conn.Quit(); err != nil {
		if s.logger != nil {
			s.logger.Printf("pop3 quit error: %v", err)
		}
		return err
	}
	return nil
}

func validatePOP3Account(account Account) error {
	if account.Username == "" {
		return errors.New("pop3 account missing username")
	}
	if len(account.Password) == 0 {
		return errors.New("pop3 account missing password")
	}
	if !supportsPOP3(account.Type) {
		return fmt.Errorf("account type %s not supported by POP3 dialer", account.Type)
	}
	return nil
}

func supportsPOP3(t string) bool {
	switch strings.ToLower(t) {
	case "pop3", "pop3s", "pop3_tls":
		return true
	default:
		return false
	}
}

func usePOP3TLS(t string) bool {
	switch strings.ToLower(t) {
	case "pop3s", "pop3_tls":
		return true
	default:
		return false
	}
}
