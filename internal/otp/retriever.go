package otp

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/grantflowsupport/bytevault-otp-hub/internal/mailbox"
	"github.com/grantflowsupport/bytevault-otp-hub/internal/models"
	"github.com/grantflowsupport/bytevault-otp-hub/internal/outcome"
	"github.com/grantflowsupport/bytevault-otp-hub/internal/ratelimit"
	"github.com/grantflowsupport/bytevault-otp-hub/internal/vault"
)

// ConfigStore is the read model the retriever needs: products, grants,
// mapped accounts and TOTP configs. Implemented by internal/store.
type ConfigStore interface {
	ProductBySlug(ctx context.Context, slug string) (*models.Product, error)
	GrantFor(ctx context.Context, userID, productID int) (*models.AccessGrant, error)
	MappedAccounts(ctx context.Context, productID int) ([]models.MappedAccount, error)
	TOTPConfig(ctx context.Context, productID int) (*models.TOTPConfig, error)
	TouchAccount(ctx context.Context, accountID int, usedAt time.Time) error
}

// Result is a successfully retrieved mail OTP with its provenance.
type Result struct {
	OTP          string
	From         string
	Subject      string
	FetchedAt    time.Time
	AccountID    int
	AccountLabel string
	PatternID    string
}

// Options bound the retrieval engine.
type Options struct {
	DefaultPattern string
	FetchCap       int
	SearchWindow   time.Duration
	PatternTimeout time.Duration
	RequestTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.FetchCap <= 0 {
		o.FetchCap = 20
	}
	if o.SearchWindow <= 0 {
		o.SearchWindow = mailbox.DefaultWindow
	}
	if o.PatternTimeout <= 0 {
		o.PatternTimeout = DefaultPatternTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 45 * time.Second
	}
}

// Retriever walks a product's mailbox accounts in priority order and
// extracts a high-confidence one-time code.
type Retriever struct {
	store    ConfigStore
	limiter  ratelimit.Limiter
	secrets  vault.Decrypter
	dialer   mailbox.Dialer
	outcomes outcome.Recorder
	opts     Options
	logger   *log.Logger
	now      func() time.Time
}

// RetrieverOption customizes retriever behavior.
type RetrieverOption func(*Retriever)

// WithLogger overrides the logger used for diagnostics.
func WithLogger(logger *log.Logger) RetrieverOption {
	return func(r *Retriever) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the wall clock, primarily for tests.
func WithClock(now func() time.Time) RetrieverOption {
	return func(r *Retriever) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRetriever wires the retrieval engine.
func NewRetriever(store ConfigStore, limiter ratelimit.Limiter, secrets vault.Decrypter,
	dialer mailbox.Dialer, outcomes outcome.Recorder, opts Options, ropts ...RetrieverOption) *Retriever {
	opts.applyDefaults()
	r := &Retriever{
		store:    store,
		limiter:  limiter,
		secrets:  secrets,
		dialer:   dialer,
		outcomes: outcomes,
		opts:     opts,
		logger:   log.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range ropts {
		o(r)
	}
	return r
}

// Request identifies one retrieval attempt.
type Request struct {
	RequestID   string
	UserID      int
	ProductSlug string
}

// Retrieve runs the email-OTP state machine: rate limit, product lookup,
// access check, then the sequential account failover loop. Exactly one
// terminal outcome is recorded per call.
func (r *Retriever) Retrieve(ctx context.Context, req Request) (*Result, error) {
	product, err := r.admit(ctx, req)
	if err != nil {
		return nil, err
	}

	accounts, err := r.store.MappedAccounts(ctx, product.ID)
	if err != nil {
		r.record(ctx, req, product.ID, nil, models.StatusError, "account lookup failed", true)
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	if len(accounts) == 0 {
		r.record(ctx, req, product.ID, nil, models.StatusNoAccounts, "no active accounts mapped", true)
		return nil, ErrNoAccounts
	}
	sortAccounts(accounts)

	// Request-wide budget across the whole failover loop; a hung provider
	// must not stall the request indefinitely.
	ctx, cancel := context.WithTimeout(ctx, r.opts.RequestTimeout)
	defer cancel()

	for _, acct := range accounts {
		if ctx.Err() != nil {
			break
		}
		result, err := r.tryAccount(ctx, acct)
		if err != nil {
			r.record(ctx, req, product.ID, &acct.Account.ID, models.StatusError, err.Error(), false)
			continue
		}
		if result == nil {
			r.record(ctx, req, product.ID, &acct.Account.ID, models.StatusError, "no messages with qualifying code", false)
			continue
		}
		if err := r.store.TouchAccount(ctx, acct.Account.ID, r.now()); err != nil {
			r.logger.Printf("otp: touch account %d: %v", acct.Account.ID, err)
		}
		r.record(ctx, req, product.ID, &acct.Account.ID, models.StatusSuccess, "code extracted", true)
		return result, nil
	}

	r.record(ctx, req, product.ID, nil, models.StatusNotFound, "all accounts exhausted", true)
	return nil, ErrNotFound
}

// admit runs the shared preamble: product lookup, rate limit, access
// check. The limiter key needs the numeric product id, so slug resolution
// (a pure store read) comes first; the limiter still gates all mailbox
// I/O. Every denial records its terminal outcome here.
func (r *Retriever) admit(ctx context.Context, req Request) (*models.Product, error) {
	product, err := r.store.ProductBySlug(ctx, req.ProductSlug)
	if err != nil || product == nil || !product.IsActive {
		r.record(ctx, req, 0, nil, models.StatusError, "unknown product "+req.ProductSlug, true)
		return nil, ErrProductNotFound
	}

	allowed, err := r.limiter.Allow(ctx, req.UserID, product.ID)
	if err != nil {
		r.record(ctx, req, product.ID, nil, models.StatusError, "rate limiter unavailable", true)
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	if !allowed {
		r.record(ctx, req, product.ID, nil, models.StatusRateLimited, "window limit reached", true)
		return nil, ErrRateLimited
	}

	grant, err := r.store.GrantFor(ctx, req.UserID, product.ID)
	if err != nil {
		r.record(ctx, req, product.ID, nil, models.StatusError, "grant lookup failed", true)
		return nil, fmt.Errorf("grant lookup: %w", err)
	}
	now := r.now()
	switch {
	case grant == nil:
		r.record(ctx, req, product.ID, nil, models.StatusNoAccess, "no grant", true)
		return nil, ErrNoAccess
	case grant.Expired(now):
		r.record(ctx, req, product.ID, nil, models.StatusExpired, "grant expired", true)
		return nil, ErrAccessExpired
	case !grant.Covers(now):
		r.record(ctx, req, product.ID, nil, models.StatusNoAccess, "grant not active", true)
		return nil, ErrNoAccess
	}
	return product, nil
}

// tryAccount opens one mailbox session and scans recent messages for a
// qualifying code. A nil result with nil error means the account yielded
// nothing; any error is account-scoped and recovered by the caller.
func (r *Retriever) tryAccount(ctx context.Context, acct models.MappedAccount) (*Result, error) {
	password, err := r.secrets.Decrypt(acct.Account.PasswordEncrypted)
	if err != nil {
		return nil, fmt.Errorf("credential decrypt for account %d: %w", acct.Account.ID, err)
	}

	filter := mailbox.NewFilter(acct.EffectiveSenderFilter(), r.opts.SearchWindow)
	patterns := BuildPatternSet(r.effectivePattern(acct), r.logger)

	session, err := r.dialer.Dial(ctx, mailbox.Account{
		ID:       acct.Account.ID,
		Type:     acct.Account.AccountType,
		Host:     acct.Account.Host,
		Port:     acct.Account.Port,
		Username: acct.Account.Username,
		Password: []byte(password),
		Folder:   acct.Account.IMAPFolder,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			r.logger.Printf("otp: session close for account %d: %v", acct.Account.ID, closeErr)
		}
	}()

	now := r.now()
	ids, err := session.Search(ctx, filter.Cutoff(now), filter.Allow)
	if err != nil {
		return nil, err
	}
	if len(ids) > r.opts.FetchCap {
		ids = ids[:r.opts.FetchCap]
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg, err := session.Fetch(ctx, id)
		if err != nil {
			r.logger.Printf("otp: fetch %s on account %d: %v", id, acct.Account.ID, err)
			continue
		}
		if !filter.MatchesSender(msg.FromAddress) || !filter.InWindow(msg.ReceivedAt, now) {
			continue
		}
		text := ScanText(msg)
		candidates := Extract(text, patterns, r.opts.PatternTimeout, r.logger)
		if chosen := SelectCandidate(candidates, msg, filter, text); chosen != nil {
			fetched := msg.ReceivedAt
			if fetched.IsZero() {
				fetched = now
			}
			return &Result{
				OTP:          chosen.Text,
				From:         msg.FromAddress,
				Subject:      msg.Subject,
				FetchedAt:    fetched,
				AccountID:    acct.Account.ID,
				AccountLabel: acct.Account.Label,
				PatternID:    chosen.PatternID,
			}, nil
		}
	}
	return nil, nil
}

func (r *Retriever) effectivePattern(acct models.MappedAccount) string {
	if p := acct.EffectivePattern(); p != "" {
		return p
	}
	return r.opts.DefaultPattern
}

// sortAccounts orders by descending weight, ties broken by ascending
// account id so enumeration is stable within a request.
func sortAccounts(accounts []models.MappedAccount) {
	sort.SliceStable(accounts, func(i, j int) bool {
		if accounts[i].Mapping.Weight != accounts[j].Mapping.Weight {
			return accounts[i].Mapping.Weight > accounts[j].Mapping.Weight
		}
		return accounts[i].Account.ID < accounts[j].Account.ID
	})
}

func (r *Retriever) record(ctx context.Context, req Request, productID int, accountID *int, status, detail string, terminal bool) {
	if r.outcomes == nil {
		return
	}
	r.outcomes.Record(ctx, models.AttemptOutcome{
		RequestID: req.RequestID,
		UserID:    req.UserID,
		ProductID: productID,
		AccountID: accountID,
		Status:    status,
		Detail:    detail,
		Terminal:  terminal,
		CreatedAt: r.now(),
	})
}
