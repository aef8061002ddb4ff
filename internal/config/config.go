package config

type Config interface {
	EnvConfig
	IdentityConfig
	ServicesConfig
	RefreshConfig
	CorsConfig
	RoutesConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDataFolder() string
	GetEnv() string
	GetBaseURL() string
	GetLogLevel() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Identity
	Services
	Refresh
	Cors
	Routes
}

func New() Config {
	return mainConfig{}
}
