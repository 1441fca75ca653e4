package snapshot

import (
	"errors"
	"fmt"

	"github.com/yndnr/deltamesh-go/pkg/crypto/adaptive"
)

const (
	snapshotKeyInfo = "deltamesh snapshot encryption v1"

	kdfNone     = ""
	kdfArgon2id = "argon2id"
)

// ErrEncrypted is returned when an encrypted snapshot is read without
// the matching key material.
var ErrEncrypted = errors.New("snapshot: encrypted snapshot needs the key or passphrase it was written with")

// ErrNotEncrypted is returned when a manager with key material reads a
// plain snapshot.
var ErrNotEncrypted = errors.New("snapshot: expected an encrypted snapshot")

// Encryption selects how snapshot data is sealed. Key and Passphrase are
// mutually exclusive; both empty disables encryption.
type Encryption struct {
	// Key is a 32-byte master key.
	Key []byte

	// Passphrase derives a master key with Argon2id and a fresh salt per
	// snapshot. The salt is stored in the header.
	Passphrase []byte
}

func (e Encryption) enabled() bool {
	return len(e.Key) > 0 || len(e.Passphrase) > 0
}

func (e Encryption) validate() error {
	if len(e.Key) > 0 && len(e.Passphrase) > 0 {
		return errors.New("snapshot: key and passphrase are mutually exclusive")
	}
	if len(e.Passphrase) > 0 && len(e.Passphrase) < adaptive.MinPassphraseLength {
		return adaptive.ErrPassphraseTooWeak
	}
	return nil
}

// newSealKey returns the data key for a new snapshot together with the
// header fields needed to derive it again.
func (e Encryption) newSealKey() (key []byte, kdf string, salt []byte, err error) {
	master := e.Key
	if len(e.Passphrase) > 0 {
		salt, err = adaptive.NewSalt()
		if err != nil {
			return nil, "", nil, err
		}
		master, err = adaptive.DeriveKey(e.Passphrase, salt)
		if err != nil {
			return nil, "", nil, err
		}
		kdf = kdfArgon2id
	}

	key, err = adaptive.DeriveSubkey(master, snapshotKeyInfo)
	if err != nil {
		return nil, "", nil, err
	}
	return key, kdf, salt, nil
}

// openKey derives the data key of an existing snapshot.
func (e Encryption) openKey(kdf string, salt []byte) ([]byte, error) {
	var master []byte
	switch kdf {
	case kdfArgon2id:
		if len(e.Passphrase) == 0 {
			return nil, ErrEncrypted
		}
		var err error
		master, err = adaptive.DeriveKey(e.Passphrase, salt)
		if err != nil {
			return nil, err
		}
	case kdfNone:
		if len(e.Key) == 0 {
			return nil, ErrEncrypted
		}
		master = e.Key
	default:
		return nil, fmt.Errorf("snapshot: unknown key derivation %q", kdf)
	}
	return adaptive.DeriveSubkey(master, snapshotKeyInfo)
}
