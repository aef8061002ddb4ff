// Package authflowrepo holds the short-lived state of interactive sign-ins
// between the redirect to the identity provider and its callback.
package authflowrepo

import (
	"errors"
	"time"
)

var ErrStateNotFound = errors.New("auth flow state not found")

// AuthFlowState is keyed by the OAuth state parameter.
type AuthFlowState struct {
	CodeVerifier string
	Nonce        string
	ReturnURL    string
	CreatedAt    time.Time
}

// Expired reports whether the flow is older than ttl at now.
func (s *AuthFlowState) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.CreatedAt) > ttl
}

type Repo interface {
	Upsert(state string, authState *AuthFlowState) error
	Get(state string) (*AuthFlowState, error)
	Delete(state string) error

	// DeleteOlderThan drops flows created before cutoff and returns how many
	// were removed.
	DeleteOlderThan(cutoff time.Time) int
}
