// Package ids generates and validates the opaque identifiers used across
// the protocol: 128-bit random entity IDs, content IDs derived from blob
// bytes, and wire timestamps.
package ids

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"regexp"
	"time"
)

// Base32 per RFC 4648, lowercased, no padding. All identifiers on the wire
// match [a-z2-7]+.
var encoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

var entityIDPattern = regexp.MustCompile(`^[a-z2-7]{26}$`)

// NewEntityID returns a fresh 26-character identifier encoding 128 random bits.
func NewEntityID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failure means the process has no usable entropy source.
		panic(err)
	}
	return encoding.EncodeToString(buf[:])
}

// NewToken returns a fresh opaque credential. Tokens and tickets share the
// entity ID format: 128 random bits, Base32.
func NewToken() string {
	return NewEntityID()
}

// IsEntityID reports whether s has the exact shape of a generated entity
// ID. Room names are not restricted to the Base32 alphabet, so this is the
// disambiguator between a room_id and a room name on input.
func IsEntityID(s string) bool {
	return entityIDPattern.MatchString(s)
}

// CID returns the content identifier of a blob: Base32 of its SHA-256.
func CID(data []byte) string {
	sum := sha256.Sum256(data)
	return encoding.EncodeToString(sum[:])
}

// SHA256Hex returns the hex digest of a blob, reported alongside the CID
// in upload metadata.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FormatTS renders a wire timestamp: RFC 3339 UTC with Z, millisecond
// precision truncated.
func FormatTS(t time.Time) string {
	return t.UTC().Truncate(time.Millisecond).Format("2006-01-02T15:04:05.000Z")
}
