package config

import "time"

type ServicesConfig interface {
	GetIngestionURL() string
	GetSearchURL() string
	GetBackendURL() string
	GetRequestTimeout() time.Duration
}

type Services struct{}

var _ ServicesConfig = Services{}

func (Services) GetIngestionURL() string {
	return GetEnv("INGESTION_URL", "http://localhost:8001")
}

func (Services) GetSearchURL() string {
	return GetEnv("SEARCH_URL", "http://localhost:8002")
}

func (Services) GetBackendURL() string {
	return GetEnv("BACKEND_URL", "http://localhost:54321/rest/v1")
}

func (Services) GetRequestTimeout() time.Duration {
	return GetDuration("REQUEST_TIMEOUT", 30*time.Second)
}

// GetDuration parses a duration variable such as "45s", falling back to the default
// when unset or malformed.
func GetDuration(envVar string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(GetEnv(envVar, ""))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
