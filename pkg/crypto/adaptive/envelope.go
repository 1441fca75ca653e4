package adaptive

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// IsSealed reports whether b starts with a known algorithm byte. Plain
// records start with a protobuf tag, which never collides.
func IsSealed(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	switch Algorithm(b[0]) {
	case AESGCM, ChaCha20:
		return true
	}
	return false
}

// ParseKey decodes a KeySize key given as hex digits or standard base64.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty key")
	}

	if len(s) == hex.EncodedLen(KeySize) {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("key must be %d hex digits or base64", hex.EncodedLen(KeySize))
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w, got %d", ErrKeySize, len(key))
	}
	return key, nil
}
