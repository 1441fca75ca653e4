package domain

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spaolacci/murmur3"
)

// ObjectID identifies a replicated object. It is 128 bits wide and never
// reassigned once an object exists.
//
// Text form is the 26-character Crockford base32 ULID encoding.
type ObjectID [16]byte

// ClientID identifies a subscribing remote client.
type ClientID [16]byte

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newULID() ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// NewObjectID returns a fresh, time-ordered object id.
func NewObjectID() ObjectID {
	return ObjectID(newULID())
}

// NewClientID returns a fresh client id.
func NewClientID() ClientID {
	return ClientID(newULID())
}

// NaturalKey is the set of primary-key types an ObjectID can be derived from.
type NaturalKey interface {
	~string | ~[]byte |
		~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// DeriveObjectID derives a stable identity from a natural key.
//
// Integers are hashed in little-endian form at their declared width, so
// int32(7) and int64(7) yield different identities.
func DeriveObjectID[K NaturalKey](key K) ObjectID {
	h1, h2 := murmur3.Sum128(keyBytes(reflect.ValueOf(key)))

	var id ObjectID
	binary.BigEndian.PutUint64(id[:8], h1)
	binary.BigEndian.PutUint64(id[8:], h2)
	return id
}

func keyBytes(v reflect.Value) []byte {
	switch v.Kind() {
	case reflect.String:
		return []byte(v.String())
	case reflect.Slice:
		return v.Bytes()
	case reflect.Int8, reflect.Uint8:
		if v.CanInt() {
			return []byte{byte(v.Int())}
		}
		return []byte{byte(v.Uint())}
	case reflect.Int16:
		return binary.LittleEndian.AppendUint16(nil, uint16(v.Int()))
	case reflect.Uint16:
		return binary.LittleEndian.AppendUint16(nil, uint16(v.Uint()))
	case reflect.Int32:
		return binary.LittleEndian.AppendUint32(nil, uint32(v.Int()))
	case reflect.Uint32:
		return binary.LittleEndian.AppendUint32(nil, uint32(v.Uint()))
	case reflect.Int, reflect.Int64:
		return binary.LittleEndian.AppendUint64(nil, uint64(v.Int()))
	default:
		return binary.LittleEndian.AppendUint64(nil, v.Uint())
	}
}

// ParseObjectID parses the text form produced by ObjectID.String.
func ParseObjectID(s string) (ObjectID, error) {
	u, err := ulid.Parse(s)
	if err != nil {
		return ObjectID{}, ErrInvalidObjectID.WithDetails(fmt.Sprintf("%q", s)).WithCause(err)
	}
	return ObjectID(u), nil
}

// ParseClientID parses the text form produced by ClientID.String.
func ParseClientID(s string) (ClientID, error) {
	u, err := ulid.Parse(s)
	if err != nil {
		return ClientID{}, ErrInvalidArgument.WithDetails(fmt.Sprintf("client id %q", s)).WithCause(err)
	}
	return ClientID(u), nil
}

// String returns the ULID text form.
func (id ObjectID) String() string {
	return ulid.ULID(id).String()
}

// ShardKey returns the low 64 bits, which are random for both ULIDs and
// derived ids.
func (id ObjectID) ShardKey() uint64 {
	return binary.BigEndian.Uint64(id[8:])
}

// IsZero reports whether the id is unset.
func (id ObjectID) IsZero() bool {
	return id == ObjectID{}
}

// MarshalText implements encoding.TextMarshaler.
func (id ObjectID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ObjectID) UnmarshalText(b []byte) error {
	parsed, err := ParseObjectID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// String returns the ULID text form.
func (id ClientID) String() string {
	return ulid.ULID(id).String()
}
