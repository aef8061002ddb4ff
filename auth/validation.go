package auth

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/jrsteele09/kb-console/sessions"
)

// Validator centralizes the checks applied to sessions and sign-in input
// before they are trusted.
type Validator struct{}

// NewValidator creates a new Validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateSession checks that a session carries the fields the refresh and
// dispatch layers depend on.
func (v *Validator) ValidateSession(session *sessions.Session) error {
	if session == nil {
		return MissingSessionErr
	}
	if strings.TrimSpace(session.AccessToken) == "" {
		return MissingAccessTokenErr
	}
	if session.ExpiresAt <= 0 {
		return MissingExpiryErr
	}
	if strings.TrimSpace(session.UserID) == "" {
		return MissingUserErr
	}
	return nil
}

// ValidateCredentials validates email/password login input
func (v *Validator) ValidateCredentials(email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", InvalidCredentialsErr)
	}

	// Basic email format validation
	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return fmt.Errorf("%w: invalid email format", InvalidCredentialsErr)
	}

	if password == "" {
		return fmt.Errorf("%w: password is required", InvalidCredentialsErr)
	}

	return nil
}

// ValidateCodeVerifier checks a PKCE code verifier against RFC 7636: 43-128
// characters from the unreserved set.
func (v *Validator) ValidateCodeVerifier(verifier string) error {
	if len(verifier) < 43 || len(verifier) > 128 {
		return fmt.Errorf("%w: must be between 43 and 128 characters", InvalidCodeVerifierErr)
	}
	for _, r := range verifier {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case r == '-' || r == '.' || r == '_' || r == '~':
		default:
			return fmt.Errorf("%w: invalid character %q", InvalidCodeVerifierErr, r)
		}
	}
	return nil
}

// ValidateState validates OAuth state parameter
func ValidateState(state string) error {
	if state == "" {
		return fmt.Errorf("state parameter is required")
	}

	// Should be reasonably long for CSRF protection
	if len(state) < 8 {
		return fmt.Errorf("state parameter should be at least 8 characters for security")
	}

	// Should not contain whitespace
	if strings.TrimSpace(state) != state {
		return fmt.Errorf("state parameter must not contain leading/trailing whitespace")
	}

	return nil
}

// ValidateReturnPath accepts only local absolute paths, so a post-login
// redirect can never leave the console.
func ValidateReturnPath(path string) error {
	if path == "" {
		return nil
	}
	if !strings.HasPrefix(path, "/") || strings.HasPrefix(path, "//") || strings.Contains(path, `\`) {
		return fmt.Errorf("%w: must be a local path", InvalidReturnPathErr)
	}
	u, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("%w: %v", InvalidReturnPathErr, err)
	}
	if u.Scheme != "" || u.Host != "" {
		return fmt.Errorf("%w: must be a local path", InvalidReturnPathErr)
	}
	return nil
}
