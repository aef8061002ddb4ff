package sessions

import (
	"time"
)

// Session is the authenticated credential bundle for the signed-in user.
// A Session is immutable once handed to a Store: refresh and sign-in replace
// it wholesale rather than patching fields.
type Session struct {
	AccessToken  string `json:"access_token"`            // Short-lived bearer credential
	RefreshToken string `json:"refresh_token,omitempty"` // Longer-lived credential used to mint new access tokens
	IDToken      string `json:"id_token,omitempty"`      // OIDC ID token, when the provider issued one
	TokenType    string `json:"token_type,omitempty"`    // Normally "Bearer"
	ExpiresAt    int64  `json:"expires_at"`              // Access token expiry, seconds since epoch
	UserID       string `json:"user_id"`                 // Subject of the session
	Email        string `json:"email,omitempty"`
}

// Expiry returns ExpiresAt as a time.
func (s *Session) Expiry() time.Time {
	return time.Unix(s.ExpiresAt, 0)
}

// TimeUntilExpiry is negative once the access token has expired.
func (s *Session) TimeUntilExpiry(now time.Time) time.Duration {
	return s.Expiry().Sub(now)
}

// ExpiresWithin reports whether the access token expires within d of now
// (inclusive).
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	return s.TimeUntilExpiry(now) <= d
}
