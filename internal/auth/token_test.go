package auth

import (
	"errors"
	"testing"
)

func TestNewStaticTokenVerifierRequiresKey(t *testing.T) {
	if _, err := NewStaticTokenVerifier("   "); err == nil {
		t.Fatal("expected error for blank key")
	}
}

func TestVerifyAcceptsMatchingToken(t *testing.T) {
	verifier, err := NewStaticTokenVerifier("fleet-secret")
	if err != nil {
		t.Fatalf("NewStaticTokenVerifier returned error: %v", err)
	}
	if err := verifier.Verify(" fleet-secret "); err != nil {
		t.Fatalf("expected trimmed token to verify, got %v", err)
	}
}

func TestVerifyRejectsMismatch(t *testing.T) {
	verifier, err := NewStaticTokenVerifier("fleet-secret")
	if err != nil {
		t.Fatalf("NewStaticTokenVerifier returned error: %v", err)
	}
	for _, token := range []string{"", "wrong", "fleet-secret-extra"} {
		if err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("token %q: expected ErrInvalidToken, got %v", token, err)
		}
	}
}
