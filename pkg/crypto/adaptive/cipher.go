package adaptive

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the key length of every Sealer.
const KeySize = 32

// Algorithm identifies an AEAD. Its value is the first byte of data
// sealed with it.
type Algorithm byte

const (
	AESGCM   Algorithm = 0x01
	ChaCha20 Algorithm = 0x02
)

func (a Algorithm) String() string {
	switch a {
	case AESGCM:
		return "aes-256-gcm"
	case ChaCha20:
		return "chacha20-poly1305"
	}
	return fmt.Sprintf("algorithm(0x%02x)", byte(a))
}

// Preferred returns AESGCM on CPUs where Go's AES is hardware
// accelerated and ChaCha20 elsewhere.
func Preferred() Algorithm {
	switch runtime.GOARCH {
	case "amd64", "arm64", "s390x", "ppc64le":
		return AESGCM
	}
	return ChaCha20
}

var (
	// ErrCiphertextTooShort is returned for input shorter than header
	// and nonce.
	ErrCiphertextTooShort = errors.New("ciphertext too short")

	// ErrUnknownEnvelope is returned when sealed data names no known
	// algorithm.
	ErrUnknownEnvelope = errors.New("unknown envelope header")

	// ErrKeySize is returned for keys that are not KeySize bytes.
	ErrKeySize = fmt.Errorf("key must be %d bytes", KeySize)
)

// Sealer seals with one algorithm and opens data sealed with any of
// them under the same key, so a data directory written on one machine
// opens on another. It is safe for concurrent use.
type Sealer struct {
	alg   Algorithm
	aeads map[Algorithm]cipher.AEAD
}

// NewSealer creates a Sealer using Preferred.
func NewSealer(key []byte) (*Sealer, error) {
	return NewSealerWith(Preferred(), key)
}

// NewSealerWith creates a Sealer that seals with alg.
func NewSealerWith(alg Algorithm, key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	chacha, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	s := &Sealer{
		alg:   alg,
		aeads: map[Algorithm]cipher.AEAD{AESGCM: gcm, ChaCha20: chacha},
	}
	if _, ok := s.aeads[alg]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEnvelope, alg)
	}
	return s, nil
}

// Algorithm returns the algorithm Seal uses.
func (s *Sealer) Algorithm() Algorithm {
	return s.alg
}

// Overhead is the number of bytes Seal adds to a plaintext.
func (s *Sealer) Overhead() int {
	aead := s.aeads[s.alg]
	return 1 + aead.NonceSize() + aead.Overhead()
}

// Seal encrypts plaintext bound to additionalData. The result is the
// algorithm byte, a random nonce and the ciphertext.
func (s *Sealer) Seal(plaintext, additionalData []byte) ([]byte, error) {
	aead := s.aeads[s.alg]
	n := aead.NonceSize()

	out := make([]byte, 1+n, 1+n+len(plaintext)+aead.Overhead())
	out[0] = byte(s.alg)
	if _, err := rand.Read(out[1:]); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return aead.Seal(out, out[1:], plaintext, additionalData), nil
}

// Open decrypts data produced by Seal with the same key, whichever
// algorithm sealed it.
func (s *Sealer) Open(sealed, additionalData []byte) ([]byte, error) {
	if len(sealed) == 0 {
		return nil, ErrCiphertextTooShort
	}
	aead, ok := s.aeads[Algorithm(sealed[0])]
	if !ok {
		return nil, ErrUnknownEnvelope
	}
	n := aead.NonceSize()
	if len(sealed) < 1+n {
		return nil, ErrCiphertextTooShort
	}
	return aead.Open(nil, sealed[1:1+n], sealed[1+n:], additionalData)
}
