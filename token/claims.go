package token

import (
	"errors"
	"fmt"
	"strings"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims are the registered claims the console reads from an access token.
// The console never verifies access tokens; it only reads them to fill in
// session fields a provider did not return explicitly.
type Claims struct {
	Subject   string // Users unique ID
	Email     string // Email claim, when present
	Issuer    string // Issuer of the token
	ExpiresAt int64  // Expiration, seconds since epoch (0 when absent)
	IssuedAt  int64  // Issued at time, seconds since epoch (0 when absent)
}

// ParseClaims reads the claims of a JWT without verifying its signature.
func ParseClaims(rawToken string) (*Claims, error) {
	if strings.TrimSpace(rawToken) == "" {
		return nil, errors.New("empty token")
	}

	parsed, _, err := jwtlib.NewParser().ParseUnverified(rawToken, jwtlib.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	mapClaims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return nil, errors.New("error extracting claims")
	}

	claims := &Claims{}
	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if iss, err := mapClaims.GetIssuer(); err == nil {
		claims.Issuer = iss
	}
	if exp, err := mapClaims.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = exp.Unix()
	}
	if iat, err := mapClaims.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = iat.Unix()
	}
	claims.Email, _ = mapClaims["email"].(string)

	return claims, nil
}
