package adaptive

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	// SaltLength is the salt size used for passphrase derivation.
	SaltLength = 16

	// MinPassphraseLength is the shortest accepted passphrase.
	MinPassphraseLength = 8

	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
)

// ErrPassphraseTooWeak is returned for passphrases below MinPassphraseLength.
var ErrPassphraseTooWeak = errors.New("passphrase too weak (minimum 8 characters)")

// NewSalt returns SaltLength random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// DeriveKey derives a KeySize key from a passphrase with Argon2id.
// The same passphrase and salt always produce the same key.
func DeriveKey(passphrase, salt []byte) ([]byte, error) {
	if len(passphrase) < MinPassphraseLength {
		return nil, ErrPassphraseTooWeak
	}
	if len(salt) < SaltLength {
		return nil, fmt.Errorf("salt must be at least %d bytes", SaltLength)
	}
	return argon2.IDKey(passphrase, salt, argon2Time, argon2Memory, argon2Threads, KeySize), nil
}

// DeriveSubkey derives a purpose-bound KeySize key from a master key
// using HKDF-SHA256.
func DeriveSubkey(masterKey []byte, info string) ([]byte, error) {
	if len(masterKey) < 16 {
		return nil, errors.New("master key too short (minimum 16 bytes)")
	}

	reader := hkdf.New(sha256.New, masterKey, nil, []byte(info))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive subkey: %w", err)
	}
	return key, nil
}
