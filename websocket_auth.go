package main

import (
	"errors"
	"net/http"
	"strings"

	"fleettrack/relay/internal/auth"
)

type websocketAuthenticator interface {
	Authenticate(r *http.Request) error
}

type allowAllAuthenticator struct{}

func (allowAllAuthenticator) Authenticate(*http.Request) error { return nil }

type staticTokenAuthenticator struct {
	verifier *auth.StaticTokenVerifier
}

func newStaticTokenAuthenticator(token string) (websocketAuthenticator, error) {
	verifier, err := auth.NewStaticTokenVerifier(token)
	if err != nil {
		return nil, err
	}
	return &staticTokenAuthenticator{verifier: verifier}, nil
}

// Authenticate validates the shared token carried on the upgrade request.
func (a *staticTokenAuthenticator) Authenticate(r *http.Request) error {
	if a == nil || a.verifier == nil {
		return errors.New("verifier not configured")
	}
	token := strings.TrimSpace(r.URL.Query().Get("auth_token"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Auth-Token"))
	}
	if token == "" {
		return errors.New("missing auth token")
	}
	return a.verifier.Verify(token)
}

// WithWebsocketAuthenticator wires a custom authenticator into the relay.
func WithWebsocketAuthenticator(authenticator websocketAuthenticator) RelayOption {
	return func(r *Relay) {
		if r == nil || authenticator == nil {
			return
		}
		r.wsAuthenticator = authenticator
	}
}
