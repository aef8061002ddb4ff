package config

import "strings"

type IdentityConfig interface {
	GetIssuerURL() string
	GetClientID() string
	GetClientSecret() string
	GetScopes() []string
	GetSessionEncryptionKey() string
}

type Identity struct{}

var _ IdentityConfig = Identity{}

func (Identity) GetIssuerURL() string {
	return GetEnv("OIDC_ISSUER", "http://localhost:9000")
}

func (Identity) GetClientID() string {
	return GetEnv("OIDC_CLIENT_ID", "kb-console")
}

func (Identity) GetClientSecret() string {
	return GetEnv("OIDC_CLIENT_SECRET", "")
}

// GetScopes returns the space separated OIDC_SCOPES list.
func (Identity) GetScopes() []string {
	return strings.Fields(GetEnv("OIDC_SCOPES", "openid profile email offline_access"))
}

// GetSessionEncryptionKey returns the secret used to seal the persisted session.
// When empty the session is kept in memory only.
func (Identity) GetSessionEncryptionKey() string {
	return GetEnv("SESSION_ENCRYPTION_KEY", "")
}
