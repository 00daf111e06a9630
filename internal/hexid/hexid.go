// Package hexid generates and validates the short hex ids used for terminals.
package hexid

import (
	"crypto/rand"
	"encoding/hex"
)

// Size is the length of an id in characters.
const Size = 8

// New returns an 8-character lowercase hex string.
func New() string {
	var b [Size / 2]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("hexid: crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}

// Valid reports whether s has the shape of an id produced by New.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
