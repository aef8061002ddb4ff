package config

type RoutesConfig interface {
	GetLoginPath() string
	GetLandingPath() string
	GetRootPath() string
}

type Routes struct{}

var _ RoutesConfig = Routes{}

func (Routes) GetLoginPath() string {
	return "/login"
}

// GetLandingPath is where an interactive sign-in lands.
func (Routes) GetLandingPath() string {
	return "/dashboard"
}

func (Routes) GetRootPath() string {
	return "/"
}
