// Package id implements the fixed-length redirect ID codec.
//
// An ID is a 40-bit unsigned integer rendered as eight characters: one
// decimal digit followed by seven characters from a 38-symbol alphabet.
// The alphabet is ASCII-ascending, so lexicographic order of the encoded
// form matches numeric order.
package id

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
)

// alphabet holds the 38 symbols used for the last seven characters. It
// skips visually ambiguous characters (0/O, 1/l/I, 5/S, 2/Z, vowels).
const alphabet = "6789BCDFGHJKLMNPQRTWXbcdfghjkmnpqrtwxz"

const base = uint64(len(alphabet))

// EncodedLen is the length of the string form of every ID.
const EncodedLen = 8

const maxValue = 1<<40 - 1

// Errors returned by Parse and FromUint64.
var (
	ErrLength    = errors.New("id string must be 8 characters")
	ErrCharacter = errors.New("id string has invalid character")
	ErrRange     = errors.New("id value exceeds 40 bits")
)

// ID is a 40-bit redirect identifier. The zero value is valid and encodes
// as "06666666".
type ID struct {
	n uint64
}

// Max is the largest valid ID, "9dDbKpJP".
var Max = ID{maxValue}

// Min is the smallest valid ID, "06666666".
var Min = ID{0}

// FromUint64 converts n into an ID, rejecting values that do not fit in
// 40 bits.
func FromUint64(n uint64) (ID, error) {
	if n > maxValue {
		return ID{}, ErrRange
	}
	return ID{n}, nil
}

// FromBytes converts a big-endian 5-byte value into an ID. Every 5-byte
// value is a valid ID.
func FromBytes(b [5]byte) ID {
	n := uint64(b[0])<<32 | uint64(b[1])<<24 | uint64(b[2])<<16 | uint64(b[3])<<8 | uint64(b[4])
	return ID{n}
}

// Random returns a uniformly random ID from crypto/rand.
func Random() (ID, error) {
	var b [5]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ID{}, fmt.Errorf("crypto/rand: %w", err)
	}
	return FromBytes(b), nil
}

// Parse decodes the 8-character string form of an ID.
func Parse(s string) (ID, error) {
	if len(s) != EncodedLen {
		return ID{}, ErrLength
	}
	if s[0] < '0' || s[0] > '9' {
		return ID{}, ErrCharacter
	}
	n := uint64(s[0] - '0')
	for i := 1; i < EncodedLen; i++ {
		k := strings.IndexByte(alphabet, s[i])
		if k < 0 {
			return ID{}, ErrCharacter
		}
		n = n*base + uint64(k)
	}
	if n > maxValue {
		return ID{}, ErrRange
	}
	return ID{n}, nil
}

// Candidate reports whether a request path segment is routed as an ID
// rather than a vanity path. Anything starting with a decimal digit is an
// ID candidate, valid or not.
func Candidate(s string) bool {
	return len(s) > 0 && s[0] >= '0' && s[0] <= '9'
}

// Uint64 returns the numeric value of the ID.
func (v ID) Uint64() uint64 {
	return v.n
}

// Bytes returns the big-endian 5-byte form of the ID.
func (v ID) Bytes() [5]byte {
	return [5]byte{
		byte(v.n >> 32),
		byte(v.n >> 24),
		byte(v.n >> 16),
		byte(v.n >> 8),
		byte(v.n),
	}
}

// String returns the 8-character encoded form.
func (v ID) String() string {
	var buf [EncodedLen]byte
	n := v.n
	for i := EncodedLen - 1; i >= 1; i-- {
		buf[i] = alphabet[n%base]
		n /= base
	}
	buf[0] = '0' + byte(n)
	return string(buf[:])
}

// MarshalText implements encoding.TextMarshaler so IDs serialize as their
// string form in JSON payloads.
func (v ID) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
