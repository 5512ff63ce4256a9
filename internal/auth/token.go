package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

// ErrInvalidToken indicates the presented token did not match the shared key.
var ErrInvalidToken = errors.New("invalid token")

// StaticTokenVerifier compares presented tokens against a single shared key in
// constant time. It is the default predicate used for WebSocket admission; richer
// deployments can swap in their own verifier behind the same interface.
type StaticTokenVerifier struct {
	key []byte
}

// NewStaticTokenVerifier constructs a verifier for the supplied shared key.
func NewStaticTokenVerifier(key string) (*StaticTokenVerifier, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, errors.New("auth key must not be empty")
	}
	return &StaticTokenVerifier{key: []byte(key)}, nil
}

// Verify checks the presented token and returns ErrInvalidToken on mismatch.
func (v *StaticTokenVerifier) Verify(token string) error {
	if v == nil || len(v.key) == 0 {
		return errors.New("verifier not initialised")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(token), v.key) != 1 {
		return ErrInvalidToken
	}
	return nil
}
