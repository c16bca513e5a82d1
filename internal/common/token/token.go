// Package token mints the opaque identifiers that correlate an RFQ session with its callbacks.
package token

import (
	"crypto/subtle"

	"github.com/google/uuid"
)

// Issuer produces unguessable identifiers for session ids, dispatch tokens and bid tokens.
type Issuer interface {
	NewToken() string
}

// UUIDIssuer issues random (version 4) UUIDs.
type UUIDIssuer struct{}

func NewUUIDIssuer() *UUIDIssuer {
	return &UUIDIssuer{}
}

func (UUIDIssuer) NewToken() string {
	return uuid.NewString()
}

// IssuerFunc adapts a function to the Issuer interface.
type IssuerFunc func() string

func (f IssuerFunc) NewToken() string {
	return f()
}

// Equal compares two tokens in constant time with respect to their contents.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
