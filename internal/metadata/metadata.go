// Package metadata defines the per-key bookkeeping record EpochDB keeps
// alongside every value: access frequency, creation time and an optional
// absolute expiration.
package metadata

import (
	"encoding/binary"
	"time"

	"github.com/epochdb/epochdb/internal/epocherr"
)

// encodedLen is the fixed wire size of an encoded Metadata: one presence
// byte plus three big-endian uint64 fields (freq, created_at, ttl).
const encodedLen = 1 + 8 + 8 + 8

// Metadata tracks a key's access-frequency counter (bumped by explicit
// frequency increments, not by reads), when it was created, and when (if
// ever) it expires. All timestamps are unix seconds.
type Metadata struct {
	Freq      uint64
	CreatedAt uint64
	TTL       *uint64
}

// Now is overridable in tests; defaults to the wall clock.
var Now = func() uint64 { return uint64(time.Now().Unix()) }

// New builds a fresh Metadata stamped with the current time and the given
// absolute TTL (unix seconds), or no TTL if ttl is nil.
func New(ttl *uint64) Metadata {
	return Metadata{Freq: 0, CreatedAt: Now(), TTL: ttl}
}

// Incremented returns a copy of m with Freq incremented by one.
func (m Metadata) Incremented() Metadata {
	m.Freq++
	return m
}

// Encode serializes m into a fixed-width byte record.
func (m Metadata) Encode() []byte {
	buf := make([]byte, encodedLen)
	if m.TTL != nil {
		buf[0] = 1
		binary.BigEndian.PutUint64(buf[17:25], *m.TTL)
	}
	binary.BigEndian.PutUint64(buf[1:9], m.Freq)
	binary.BigEndian.PutUint64(buf[9:17], m.CreatedAt)
	return buf
}

// Decode parses a Metadata record previously produced by Encode. It returns
// epocherr.ParsingFromByteError for any input that is not exactly the fixed
// encoded length.
func Decode(b []byte) (Metadata, error) {
	if len(b) != encodedLen {
		return Metadata{}, &epocherr.ParsingFromByteError{}
	}
	m := Metadata{
		Freq:      binary.BigEndian.Uint64(b[1:9]),
		CreatedAt: binary.BigEndian.Uint64(b[9:17]),
	}
	if b[0] == 1 {
		ttl := binary.BigEndian.Uint64(b[17:25])
		m.TTL = &ttl
	}
	return m, nil
}

// Field is one name/value pair of the GET_METADATA reply. Value is only
// meaningful when Null is false; the wire reply sends it as an integer.
type Field struct {
	Name  string
	Value uint64
	Null  bool
}

// ToFields flattens m into the ordered name/value pairs the wire protocol's
// GET_METADATA reply sends: frequency, created_at, ttl (null when unset).
func (m Metadata) ToFields() []Field {
	ttlField := Field{Name: "ttl", Null: true}
	if m.TTL != nil {
		ttlField = Field{Name: "ttl", Value: *m.TTL}
	}
	return []Field{
		{Name: "frequency", Value: m.Freq},
		{Name: "created_at", Value: m.CreatedAt},
		ttlField,
	}
}
