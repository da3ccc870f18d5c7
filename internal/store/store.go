// Package store provides the PostgreSQL-backed read model for products,
// grants, mail accounts and TOTP configs, plus the attempt outcome sink.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/grantflowsupport/bytevault-otp-hub/internal/models"
)

// Open connects to PostgreSQL and verifies the connection.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Store implements the retriever's ConfigStore interface.
type Store struct {
	db *sqlx.DB
}

// New wraps an open database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// ProductBySlug returns the product with the given slug, or nil when no
// such product exists.
func (s *Store) ProductBySlug(ctx context.Context, slug string) (*models.Product, error) {
	query := `
		SELECT id, slug, title, is_active, created_at, updated_at
		FROM products
		WHERE slug = $1`

	var product models.Product
	err := s.db.GetContext(ctx, &product, query, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &product, nil
}

// GrantFor returns the user's grant for a product, preferring the one
// expiring last so an expired grant does not shadow a renewal. Returns
// nil when the user has never been granted the product.
func (s *Store) GrantFor(ctx context.Context, userID, productID int) (*models.AccessGrant, error) {
	query := `
		SELECT id, user_id, product_id, starts_at, expires_at, is_active
		FROM access_grants
		WHERE user_id = $1 AND product_id = $2 AND is_active = true
		ORDER BY expires_at DESC
		LIMIT 1`

	var grant models.AccessGrant
	err := s.db.GetContext(ctx, &grant, query, userID, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get access grant: %w", err)
	}
	return &grant, nil
}

type mappedAccountRow struct {
	models.MailAccount
	MappingID       int    `db:"mapping_id"`
	Weight          int    `db:"weight"`
	SenderOverride  string `db:"sender_override"`
	PatternOverride string `db:"pattern_override"`
}

// MappedAccounts returns the active accounts mapped to a product. The
// query orders by weight for readability only; the failover loop applies
// its own ordering.
func (s *Store) MappedAccounts(ctx context.Context, productID int) ([]models.MappedAccount, error) {
	query := `
		SELECT a.id, a.label, a.account_type, a.host, a.port, a.username,
			a.password_encrypted, a.imap_folder, a.default_pattern,
			a.default_sender_filter, a.priority, a.is_active, a.last_used_at,
			m.id AS mapping_id, m.weight, m.sender_override, m.pattern_override
		FROM mail_accounts a
		JOIN product_mappings m ON m.account_id = a.id
		WHERE m.product_id = $1 AND m.is_active = true AND a.is_active = true
		ORDER BY m.weight DESC, a.id`

	var rows []mappedAccountRow
	if err := s.db.SelectContext(ctx, &rows, query, productID); err != nil {
		return nil, fmt.Errorf("failed to list mapped accounts: %w", err)
	}

	accounts := make([]models.MappedAccount, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, models.MappedAccount{
			Account: row.MailAccount,
			Mapping: models.ProductMapping{
				ID:              row.MappingID,
				ProductID:       productID,
				AccountID:       row.MailAccount.ID,
				Weight:          row.Weight,
				SenderOverride:  row.SenderOverride,
				PatternOverride: row.PatternOverride,
				IsActive:        true,
			},
		})
	}
	return accounts, nil
}

// TOTPConfig returns the active TOTP config for a product, or nil when
// the product has none.
func (s *Store) TOTPConfig(ctx context.Context, productID int) (*models.TOTPConfig, error) {
	query := `
		SELECT id, product_id, account_label, issuer, secret_encrypted,
			digits, period_seconds, algorithm, is_active
		FROM totp_configs
		WHERE product_id = $1 AND is_active = true
		LIMIT 1`

	var cfg models.TOTPConfig
	err := s.db.GetContext(ctx, &cfg, query, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get totp config: %w", err)
	}
	return &cfg, nil
}

// TouchAccount records the moment an account last produced a code.
func (s *Store) TouchAccount(ctx context.Context, accountID int, usedAt time.Time) error {
	query := `UPDATE mail_accounts SET last_used_at = $2 WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, accountID, usedAt); err != nil {
		return fmt.Errorf("failed to touch account: %w", err)
	}
	return nil
}

// OutcomeSink persists attempt outcomes to the attempt_outcomes table.
// It satisfies the outcome.Sink interface.
type OutcomeSink struct {
	db *sqlx.DB
}

// NewOutcomeSink wraps an open database handle.
func NewOutcomeSink(db *sqlx.DB) *OutcomeSink {
	return &OutcomeSink{db: db}
}

// Append inserts one outcome row.
func (s *OutcomeSink) Append(ctx context.Context, o models.AttemptOutcome) error {
	query := `
		INSERT INTO attempt_outcomes (
			request_id, user_id, product_id, account_id, status, detail,
			terminal, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		o.RequestID, o.UserID, o.ProductID, o.AccountID,
		o.Status, o.Detail, o.Terminal, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attempt outcome: %w", err)
	}
	return nil
}
