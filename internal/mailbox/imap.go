package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}

// IMAPDialer opens read-only IMAP/IMAPS sessions for OTP retrieval.
type IMAPDialer struct {
	dialTimeout time.Duration
	now         func() time.Time
	logger      *log.Logger
	newClient   func(Account) (imapClient, error)
}

// IMAPDialerOption customizes dialer behavior.
type IMAPDialerOption func(*IMAPDialer)

// NewIMAPDialer returns an IMAP dialer ready for retrieval sessions.
func NewIMAPDialer(opts ...IMAPDialerOption) *IMAPDialer {
	d := &IMAPDialer{
		dialTimeout: 5 * time.Second,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      log.Default(),
	}
	d.newClient = d.defaultClientFactory
	for _, opt := range opts {
		opt(d)
	}
	if d.newClient == nil {
		d.newClient = d.defaultClientFactory
	}
	return d
}

// WithIMAPDialTimeout overrides the socket dial timeout.
func WithIMAPDialTimeout(timeout time.Duration) IMAPDialerOption {
	return func(d *IMAPDialer) {
		if timeout > 0 {
			d.dialTimeout = timeout
		}
	}
}

// WithIMAPLogger overrides the logger used for session diagnostics.
func WithIMAPLogger(logger *log.Logger) IMAPDialerOption {
	return func(d *IMAPDialer) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithIMAPClock overrides the wall clock, primarily for tests.
func WithIMAPClock(now func() time.Time) IMAPDialerOption {
	return func(d *IMAPDialer) {
		if now != nil {
			d.now = now
		}
	}
}

func withIMAPClientFactory(factory func(Account) (imapClient, error)) IMAPDialerOption {
	return func(d *IMAPDialer) {
		d.newClient = factory
	}
}

// Dial connects, authenticates and selects the account folder. The caller
// owns the returned session and must Close it on every exit path.
func (d *IMAPDialer) Dial(_ context.Context, account Account) (Session, error) {
	if err := validateIMAPAccount(account); err != nil {
		return nil, err
	}
	client, err := d.newClient(account)
	if err != nil {
		return nil, fmt.Errorf("imap connect: %w", err)
	}
	if err := client.Login(account.Username, string(account.Password)).Wait(); err != nil {
		d.safeClose(client)
		return nil, fmt.Errorf("imap auth: %w", err)
	}
	folder := account.Folder
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := client.Select(folder, nil).Wait(); err != nil {
		d.safeClose(client)
		return nil, fmt.Errorf("imap select %s: %w", folder, err)
	}
	return &imapSession{client: client, account: account, now: d.now, logger: d.logger}, nil
}

func (d *IMAPDialer) safeClose(client imapClient) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil && d.logger != nil {
		d.logger.Printf("imap close error: %v", err)
	}
}

func (d *IMAPDialer) defaultClientFactory(account Account) (imapClient, error) {
	if account.Host == "" {
		return nil, errors.New("imap account missing host")
	}
	port := account.Port
	if port == 0 {
		if useIMAPTLS(account.Type) {
			port = 993
		} else {
			port = 143
		}
	}
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: d.dialTimeout}}
	addr := fmt.Sprintf("%s:%d", account.Host, port)
	var client *imapclient.Client
	var err error
	if useIMAPTLS(account.Type) {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return nil, err
	}
	return &imapClientWrapper{Client: client}, nil
}

type imapSession struct {
	client  imapClient
	account Account
	now     func() time.Time
	logger  *log.Logger
	closed  bool
}

// Search issues one UID search per sender filter (IMAP has no OR across
// FROM values), merges the id sets and returns them newest-first.
func (s *imapSession) Search(_ context.Context, since time.Time, senders []string) ([]string, error) {
	criteriaSet := make([]*imap.SearchCriteria, 0, len(senders))
	if len(senders) == 0 {
		criteriaSet = append(criteriaSet, &imap.SearchCriteria{Since: since})
	} else {
		for _, sender := range senders {
			criteriaSet = append(criteriaSet, &imap.SearchCriteria{
				Since: since,
				Header: []imap.SearchCriteriaHeaderField{
					{Key: "From", Value: sender},
				},
			})
		}
	}

	seen := make(map[imap.UID]bool)
	var uids []imap.UID
	for _, criteria := range criteriaSet {
		data, err := s.client.UIDSearch(criteria, nil).Wait()
		if err != nil {
			return nil, fmt.Errorf("imap search: %w", err)
		}
		for _, uid := range data.AllUIDs() {
			if !seen[uid] {
				seen[uid] = true
				uids = append(uids, uid)
			}
		}
	}

	// UIDs ascend with arrival order; newest first for the fetch loop.
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })

	ids := make([]string, len(uids))
	for i, uid := range uids {
		ids[i] = strconv.FormatUint(uint64(uid), 10)
	}
	return ids, nil
}

// Fetch retrieves and parses one message by UID.
func (s *imapSession) Fetch(_ context.Context, id string) (*Message, error) {
	uidVal, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("imap fetch: bad uid %q", id)
	}
	uid := imap.UID(uidVal)

	fetchOpts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{{}},
	}
	buffers, err := s.client.Fetch(imap.UIDSetNum(uid), fetchOpts).Collect()
	if err != nil {
		return nil, fmt.Errorf("imap fetch %s: %w", id, err)
	}
	for _, buf := range buffers {
		body := buf.FindBodySection(&imap.FetchItemBodySection{})
		if body == nil {
			continue
		}
		received := buf.InternalDate
		if received.IsZero() {
			received = s.now()
		}
		return ParseMessage(id, append([]byte(nil), body...), received)
	}
	return nil, fmt.Errorf("imap fetch %s: no body returned", buildRemoteID(s.account, id))
}

// Close logs out and releases the connection. Safe to call more than once.
func (s *imapSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.client.Logout().Wait(); err != nil {
		if s.logger != nil {
			s.logger.Printf("imap logout error: %v", err)
		}
		return s.client.Close()
	}
	return s.client.Close()
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}

func validateIMAPAccount(account Account) error {
	if account.Username == "" {
		return errors.New("imap account missing username")
	}
	if len(account.Password) == 0 {
		return errors.New("imap account missing password")
	}
	if !supportsIMAP(account.Type) {
		return fmt.Errorf("account type %s not supported by IMAP dialer", account.Type)
	}
	return nil
}

func supportsIMAP(t string) bool {
	switch strings.ToLower(t) {
	case "imap", "imaps", "imap_tls", "imaptls":
		return true
	default:
		return false
	}
}

func useIMAPTLS(t string) bool {
	switch strings.ToLower(t) {
	case "imaps", "imap_tls", "imaptls":
		return true
	default:
		return false
	}
}
