package mailbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/require"
)

const sampleMail = "From: ByteBank <no-reply@bytebank.example>\r\n" +
	"Subject: Your verification code\r\n" +
	"Date: Mon, 02 Jun 2025 10:00:00 +0000\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Your code is 482913\r\n"

func testIMAPAccount() Account {
	return Account{
		ID: 7, Type: "imaps", Host: "mail.example", Username: "agent",
		Password: []byte("secret"), Folder: "INBOX",
	}
}

func TestIMAPDialSearchFetch(t *testing.T) {
	client := &fakeIMAPClient{
		allUIDs: []imap.UID{11, 12},
		bodies: map[imap.UID][]byte{
			11: []byte(sampleMail),
			12: []byte(sampleMail),
		},
		internalDate: map[imap.UID]time.Time{
			11: time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
		},
	}
	d := NewIMAPDialer(withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }))

	sess, err := d.Dial(context.Background(), testIMAPAccount())
	require.NoError(t, err)
	defer sess.Close()

	ids, err := sess.Search(context.Background(), time.Now().Add(-24*time.Hour), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"12", "11"}, ids, "search results must be newest-first")

	msg, err := sess.Fetch(context.Background(), "11")
	require.NoError(t, err)
	require.Equal(t, "Your verification code", msg.Subject)
	require.Equal(t, "no-reply@bytebank.example", msg.FromAddress)
	require.Contains(t, msg.TextBody, "482913")
	require.Equal(t, time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC), msg.ReceivedAt)

	require.NoError(t, sess.Close())
	require.Equal(t, 1, client.logoutCalls, "double close must not log out twice")
}

func TestIMAPSearchPerSenderUnion(t *testing.T) {
	client := &fakeIMAPClient{
		senderUIDs: map[string][]imap.UID{
			"a@x.example": {3, 5},
			"b@y.example": {5, 9},
		},
		bodies: map[imap.UID][]byte{},
	}
	d := NewIMAPDialer(withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }))
	sess, err := d.Dial(context.Background(), testIMAPAccount())
	require.NoError(t, err)
	defer sess.Close()

	ids, err := sess.Search(context.Background(), time.Time{}, []string{"a@x.example", "b@y.example"})
	require.NoError(t, err)
	require.Equal(t, []string{"9", "5", "3"}, ids, "per-sender results must be merged, deduplicated and newest-first")
	require.Equal(t, 2, client.searchCalls, "one search per sender filter")
}

func TestIMAPDialAuthError(t *testing.T) {
	client := &fakeIMAPClient{loginErr: errors.New("bad creds")}
	d := NewIMAPDialer(withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }))
	_, err := d.Dial(context.Background(), testIMAPAccount())
	require.ErrorContains(t, err, "imap auth")
	require.True(t, client.closed, "failed dial must release the connection")
}

func TestIMAPDialSelectError(t *testing.T) {
	client := &fakeIMAPClient{selectErr: errors.New("no inbox")}
	d := NewIMAPDialer(withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }))
	_, err := d.Dial(context.Background(), testIMAPAccount())
	require.ErrorContains(t, err, "imap select")
	require.True(t, client.closed)
}

func TestIMAPDialConnectErrorWrapped(t *testing.T) {
	d := NewIMAPDialer(withIMAPClientFactory(func(Account) (imapClient, error) {
		return nil, errors.New("dial failed")
	}))
	_, err := d.Dial(context.Background(), testIMAPAccount())
	require.ErrorContains(t, err, "imap connect")
}

func TestIMAPDialValidation(t *testing.T) {
	d := NewIMAPDialer()
	cases := []Account{
		{Type: "imap", Password: []byte("pw")},
		{Type: "imap", Username: "user"},
		{Type: "pop3", Username: "user", Password: []byte("pw")},
	}
	for _, acc := range cases {
		if _, err := d.Dial(context.Background(), acc); err == nil {
			t.Fatalf("expected validation error for account %+v", acc)
		}
	}
}

func TestIMAPFetchUnknownUID(t *testing.T) {
	client := &fakeIMAPClient{}
	d := NewIMAPDialer(withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }))
	sess, err := d.Dial(context.Background(), testIMAPAccount())
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.Fetch(context.Background(), "42")
	require.ErrorContains(t, err, "no body returned")
	_, err = sess.Fetch(context.Background(), "not-a-uid")
	require.ErrorContains(t, err, "bad uid")
}

func TestSupportsIMAPPreds(t *testing.T) {
	require.True(t, supportsIMAP("imap_tls"))
	require.True(t, supportsIMAP("IMAPS"))
	require.False(t, supportsIMAP("pop3"))
	require.True(t, useIMAPTLS("imaps"))
	require.False(t, useIMAPTLS("imap"))
}

type fakeIMAPClient struct {
	allUIDs      []imap.UID
	senderUIDs   map[string][]imap.UID
	bodies       map[imap.UID][]byte
	internalDate map[imap.UID]time.Time

	loginErr  error
	selectErr error
	searchErr error
	fetchErr  error
	logoutErr error

	searchCalls int
	logoutCalls int
	closed      bool
}

func (c *fakeIMAPClient) Login(_, _ string) commandWaiter { return &fakeCommand{err: c.loginErr} }
func (c *fakeIMAPClient) Logout() commandWaiter {
	c.logoutCalls++
	return &fakeCommand{err: c.logoutErr}
}
func (c *fakeIMAPClient) Close() error { c.closed = true; return nil }
func (c *fakeIMAPClient) Select(_ string, _ *imap.SelectOptions) selectWaiter {
	return &fakeSelect{err: c.selectErr}
}
func (c *fakeIMAPClient) UIDSearch(criteria *imap.SearchCriteria, _ *imap.SearchOptions) searchWaiter {
	c.searchCalls++
	uids := c.allUIDs
	if criteria != nil && len(criteria.Header) > 0 {
		uids = c.senderUIDs[criteria.Header[0].Value]
	}
	var data *imap.SearchData
	if len(uids) > 0 {
		data = &imap.SearchData{All: imap.UIDSetNum(uids...)}
	} else {
		data = &imap.SearchData{}
	}
	return &fakeSearch{err: c.searchErr, data: data}
}
func (c *fakeIMAPClient) Fetch(numSet imap.NumSet, _ *imap.FetchOptions) fetchWaiter {
	var bufs []*imapclient.FetchMessageBuffer
	if c.fetchErr == nil {
		if set, ok := numSet.(imap.UIDSet); ok {
			for _, r := range set {
				body, exists := c.bodies[r.Start]
				if !exists {
					continue
				}
				bufs = append(bufs, &imapclient.FetchMessageBuffer{
					SeqNum:       uint32(r.Start),
					UID:          r.Start,
					InternalDate: c.internalDate[r.Start],
					BodySection: []imapclient.FetchBodySectionBuffer{{
						Section: &imap.FetchItemBodySection{},
						Bytes:   append([]byte(nil), body...),
					}},
				})
			}
		}
	}
	return &fakeFetch{err: c.fetchErr, bufs: bufs}
}

type fakeCommand struct{ err error }

func (c *fakeCommand) Wait() error { return c.err }

type fakeSelect struct{ err error }

func (s *fakeSelect) Wait() (*imap.SelectData, error) { return nil, s.err }

type fakeSearch struct {
	err  error
	data *imap.SearchData
}

func (s *fakeSearch) Wait() (*imap.SearchData, error) { return s.data, s.err }

type fakeFetch struct {
	err  error
	bufs []*imapclient.FetchMessageBuffer
}

func (f *fakeFetch) Collect() ([]*imapclient.FetchMessageBuffer, error) { return f.bufs, f.err }
func (f *fakeFetch) Close() error                                       { return f.err }
