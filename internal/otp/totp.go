package otp

import (
	"context"
	"fmt"
	"strings"
	"time"

	potp "github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/grantflowsupport/bytevault-otp-hub/internal/models"
)

// TOTPDefaults supply digit count, period and algorithm when a product's
// config leaves them unset.
type TOTPDefaults struct {
	Digits    int
	Period    int
	Algorithm string
}

// TOTPResult is a computed time-step code.
type TOTPResult struct {
	Code            string
	ValidForSeconds int
	Issuer          string
	AccountLabel    string
	FetchedAt       time.Time
}

// NormalizeSecret strips separators and whitespace from a shared secret,
// uppercases it and discards characters outside the base32 alphabet.
func NormalizeSecret(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '2' && r <= '7') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func totpAlgorithm(name string) (potp.Algorithm, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "SHA1":
		return potp.AlgorithmSHA1, nil
	case "SHA256":
		return potp.AlgorithmSHA256, nil
	case "SHA512":
		return potp.AlgorithmSHA512, nil
	default:
		return 0, fmt.Errorf("unsupported totp algorithm %q", name)
	}
}

// GenerateTOTP decrypts and normalizes the secret, then computes the code
// for the current time step. Deterministic and free of network I/O; the
// only failure mode is a malformed or undecryptable secret.
func (r *Retriever) generateTOTP(cfg *models.TOTPConfig, defaults TOTPDefaults) (*TOTPResult, error) {
	secret, err := r.secrets.Decrypt(cfg.SecretEncrypted)
	if err != nil {
		return nil, fmt.Errorf("totp secret decrypt: %w", err)
	}
	normalized := NormalizeSecret(secret)
	if normalized == "" {
		return nil, fmt.Errorf("totp secret is empty after normalization")
	}

	digits := cfg.Digits
	if digits <= 0 {
		digits = defaults.Digits
	}
	if digits <= 0 {
		digits = 6
	}
	period := cfg.PeriodSeconds
	if period <= 0 {
		period = defaults.Period
	}
	if period <= 0 {
		period = 30
	}
	algName := cfg.Algorithm
	if algName == "" {
		algName = defaults.Algorithm
	}
	alg, err := totpAlgorithm(algName)
	if err != nil {
		return nil, err
	}

	now := r.now()
	code, err := totp.GenerateCodeCustom(normalized, now, totp.ValidateOpts{
		Period:    uint(period),
		Digits:    potp.Digits(digits),
		Algorithm: alg,
	})
	if err != nil {
		return nil, fmt.Errorf("totp generate: %w", err)
	}
	return &TOTPResult{
		Code:            code,
		ValidForSeconds: period - int(now.Unix()%int64(period)),
		Issuer:          cfg.Issuer,
		AccountLabel:    cfg.AccountLabel,
		FetchedAt:       now,
	}, nil
}

// RetrieveTOTP runs the TOTP path: the same rate limit and access checks
// as the email path, then a stateless code computation. No failover is
// involved because nothing transient can fail.
func (r *Retriever) RetrieveTOTP(ctx context.Context, req Request, defaults TOTPDefaults) (*TOTPResult, error) {
	product, err := r.admit(ctx, req)
	if err != nil {
		return nil, err
	}

	cfg, err := r.store.TOTPConfig(ctx, product.ID)
	if err != nil {
		r.record(ctx, req, product.ID, nil, models.StatusError, "totp config lookup failed", true)
		return nil, fmt.Errorf("totp config: %w", err)
	}
	if cfg == nil || !cfg.IsActive {
		r.record(ctx, req, product.ID, nil, models.StatusNoAccounts, "no totp config", true)
		return nil, ErrNoTOTPConfig
	}

	result, err := r.generateTOTP(cfg, defaults)
	if err != nil {
		r.record(ctx, req, product.ID, nil, models.StatusError, "totp generation failed", true)
		return nil, err
	}
	r.record(ctx, req, product.ID, nil, models.StatusSuccess, "totp generated", true)
	return result, nil
}
