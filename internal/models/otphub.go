package models

import "time"

// Product identifies a service a code can be requested for.
type Product struct {
	ID        int       `db:"id" json:"id"`
	Slug      string    `db:"slug" json:"slug"`
	Title     string    `db:"title" json:"title"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MailAccount is one configured mailbox usable for OTP retrieval.
// PasswordEncrypted is vault ciphertext; it is only ever decrypted
// immediately before opening a session and never logged.
type MailAccount struct {
	ID                  int        `db:"id" json:"id"`
	Label               string     `db:"label" json:"label"`
	AccountType         string     `db:"account_type" json:"account_type"` // imap, imaps, pop3, pop3s
	Host                string     `db:"host" json:"host"`
	Port                int        `db:"port" json:"port"`
	Username            string     `db:"username" json:"username"`
	PasswordEncrypted   string     `db:"password_encrypted" json:"-"`
	IMAPFolder          string     `db:"imap_folder" json:"imap_folder"`
	DefaultPattern      string     `db:"default_pattern" json:"default_pattern"`
	DefaultSenderFilter string     `db:"default_sender_filter" json:"default_sender_filter"`
	Priority            int        `db:"priority" json:"priority"`
	IsActive            bool       `db:"is_active" json:"is_active"`
	LastUsedAt          *time.Time `db:"last_used_at" json:"last_used_at"`
}

// ProductMapping associates a product with a mail account. Weight decides
// trial order (higher first); overrides take precedence over the account
// defaults when non-empty.
type ProductMapping struct {
	ID              int    `db:"id" json:"id"`
	ProductID       int    `db:"product_id" json:"product_id"`
	AccountID       int    `db:"account_id" json:"account_id"`
	Weight          int    `db:"weight" json:"weight"`
	SenderOverride  string `db:"sender_override" json:"sender_override"`
	PatternOverride string `db:"pattern_override" json:"pattern_override"`
	IsActive        bool   `db:"is_active" json:"is_active"`
}

// MappedAccount is an account joined with its product mapping, the unit the
// failover loop iterates over.
type MappedAccount struct {
	Account MailAccount
	Mapping ProductMapping
}

// EffectiveSenderFilter returns the mapping override when set, else the
// account default. Comma-separated lists are accepted in either field.
func (m MappedAccount) EffectiveSenderFilter() string {
	if m.Mapping.SenderOverride != "" {
		return m.Mapping.SenderOverride
	}
	return m.Account.DefaultSenderFilter
}

// EffectivePattern returns the mapping override when set, else the account
// default. An empty result means the global default pattern applies.
func (m MappedAccount) EffectivePattern() string {
	if m.Mapping.PatternOverride != "" {
		return m.Mapping.PatternOverride
	}
	return m.Account.DefaultPattern
}

// AccessGrant is a time-bounded entitlement of a user to a product.
type AccessGrant struct {
	ID        int       `db:"id" json:"id"`
	UserID    int       `db:"user_id" json:"user_id"`
	ProductID int       `db:"product_id" json:"product_id"`
	StartsAt  time.Time `db:"starts_at" json:"starts_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	IsActive  bool      `db:"is_active" json:"is_active"`
}

// Covers reports whether the grant admits access at the given instant.
func (g AccessGrant) Covers(now time.Time) bool {
	return g.IsActive && !now.Before(g.StartsAt) && now.Before(g.ExpiresAt)
}

// Expired reports whether the grant's window has passed.
func (g AccessGrant) Expired(now time.Time) bool {
	return g.IsActive && !now.Before(g.ExpiresAt)
}

// TOTPConfig describes a per-product TOTP secret. SecretEncrypted resolves
// through the same vault contract as mailbox passwords.
type TOTPConfig struct {
	ID              int    `db:"id" json:"id"`
	ProductID       int    `db:"product_id" json:"product_id"`
	AccountLabel    string `db:"account_label" json:"account_label"`
	Issuer          string `db:"issuer" json:"issuer"`
	SecretEncrypted string `db:"secret_encrypted" json:"-"`
	Digits          int    `db:"digits" json:"digits"`
	PeriodSeconds   int    `db:"period_seconds" json:"period_seconds"`
	Algorithm       string `db:"algorithm" json:"algorithm"` // SHA1, SHA256, SHA512
	IsActive        bool   `db:"is_active" json:"is_active"`
}

// Attempt statuses. Exactly one terminal outcome is recorded per request.
const (
	StatusSuccess     = "success"
	StatusRateLimited = "rate_limited"
	StatusNoAccess    = "no_access"
	StatusExpired     = "access_expired"
	StatusNoAccounts  = "no_accounts"
	StatusNotFound    = "otp_not_found"
	StatusError       = "error"
)

// AttemptOutcome is the structured record of one retrieval attempt, either
// terminal for the request or scoped to a single account failure.
type AttemptOutcome struct {
	ID        int64     `db:"id" json:"id"`
	RequestID string    `db:"request_id" json:"request_id"`
	UserID    int       `db:"user_id" json:"user_id"`
	ProductID int       `db:"product_id" json:"product_id"`
	AccountID *int      `db:"account_id" json:"account_id"`
	Status    string    `db:"status" json:"status"`
	Detail    string    `db:"detail" json:"detail"`
	Terminal  bool      `db:"terminal" json:"terminal"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
