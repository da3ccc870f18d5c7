// Package vault provides the credential vault used to protect mailbox
// passwords and TOTP secrets at rest. Ciphertext is AES-256-GCM, base64
// encoded, with the key derived from a master key via PBKDF2.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// Decrypter resolves vault ciphertext to plaintext. The retrieval engine
// only depends on this interface; callers never see key material.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Encrypter seals plaintext for storage.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// ErrDecrypt is returned for any undecryptable input. The cause is not
// exposed to avoid leaking oracle detail.
var ErrDecrypt = errors.New("vault: decryption failed")

const (
	keyLen     = 32
	pbkdf2Iter = 100000
)

// Vault implements Encrypter and Decrypter with a derived AES-256 key.
type Vault struct {
	key []byte
}

// New derives the vault key from a master key and salt.
func New(masterKey, salt string) (*Vault, error) {
	if masterKey == "" {
		return nil, errors.New("vault: master key is required")
	}
	key := pbkdf2.Key([]byte(masterKey), []byte(salt), pbkdf2Iter, keyLen, sha256.New)
	return &Vault{key: key}, nil
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", fmt.Errorf("vault: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("vault: gcm init: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens base64(nonce || ciphertext). Any malformed or tampered
// input yields ErrDecrypt.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrDecrypt
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", ErrDecrypt
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrDecrypt
	}
	if len(raw) < gcm.NonceSize() {
		return "", ErrDecrypt
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// Redacted is the placeholder written to logs in place of secrets.
const Redacted = "[ENCRYPTED]"
