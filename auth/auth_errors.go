package auth

import "errors"

var (
	MissingSessionErr      = errors.New("session is required")
	MissingAccessTokenErr  = errors.New("session has no access token")
	MissingExpiryErr       = errors.New("session has no expiry")
	MissingUserErr         = errors.New("session has no user id")
	InvalidCredentialsErr  = errors.New("invalid credentials")
	InvalidCodeVerifierErr = errors.New("invalid code verifier")
	InvalidReturnPathErr   = errors.New("invalid return path")
)
