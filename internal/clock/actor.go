package clock

import (
	"encoding/hex"
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidActor is returned when an actor id is empty, contains NUL, or is
// not NFC-normalized UTF-8.
var ErrInvalidActor = errors.New("invalid actor id")

// ActorID identifies one replica. Ids are opaque and totally ordered by
// byte-wise comparison.
type ActorID string

// Validate reports whether the id can take part in stamps.
// Canonical encoding normalizes strings to NFC, so only NFC ids survive a
// round trip unchanged.
func (a ActorID) Validate() error {
	s := string(a)
	if s == "" || strings.IndexByte(s, 0) >= 0 || !utf8.ValidString(s) || !norm.NFC.IsNormalString(s) {
		return ErrInvalidActor
	}
	return nil
}

// Compare orders actor ids byte-wise.
func (a ActorID) Compare(b ActorID) int {
	return strings.Compare(string(a), string(b))
}

// Invert maps an actor id to an ASCII id whose order is reversed:
// a < b implies a.Invert() > b.Invert().
//
// Every byte is complemented and hex encoded, then "z" is appended. Hex
// digits preserve byte order, and the terminator sorts above every hex
// digit, so when a is a prefix of b the inverted a sorts last.
func (a ActorID) Invert() ActorID {
	raw := make([]byte, len(a))
	for i := 0; i < len(a); i++ {
		raw[i] = ^a[i]
	}
	return ActorID(hex.EncodeToString(raw) + "z")
}
