package app

import (
	"errors"
	"net/http"
	"strings"
)

// ErrNoSession means the request carries no authenticated identity.
var ErrNoSession = errors.New("no session")

// SessionResolver extracts the authenticated user id from a request.
// Session issuance and refresh live in the fronting auth layer, not here.
type SessionResolver interface {
	UserID(r *http.Request) (string, error)
}

// HeaderSessionResolver trusts an identity header injected by the fronting
// proxy after it has authenticated the request. It must never be exposed
// directly to the public internet.
type HeaderSessionResolver struct {
	Header string
}

// UserID returns the identity header value, or ErrNoSession when absent.
func (h HeaderSessionResolver) UserID(r *http.Request) (string, error) {
	name := h.Header
	if name == "" {
		name = "X-User-ID"
	}
	id := strings.TrimSpace(r.Header.Get(name))
	if id == "" {
		return "", ErrNoSession
	}
	return id, nil
}
