package config

import "time"

// RefreshConfig holds the session refresh policy. The values are fixed policy
// constants rather than tunables.
type RefreshConfig interface {
	GetRefreshThreshold() time.Duration
	GetMinRefreshDelay() time.Duration
	GetMaxRefreshDelay() time.Duration
	GetPermissionCacheTTL() time.Duration
}

type Refresh struct{}

var _ RefreshConfig = Refresh{}

// GetRefreshThreshold is how close to expiry a session counts as expiring.
func (Refresh) GetRefreshThreshold() time.Duration {
	return 5 * time.Minute
}

func (Refresh) GetMinRefreshDelay() time.Duration {
	return 1 * time.Minute
}

func (Refresh) GetMaxRefreshDelay() time.Duration {
	return 24 * time.Hour
}

func (Refresh) GetPermissionCacheTTL() time.Duration {
	return 5 * time.Minute
}
