package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Console surfaces
	RouteRoot      = "/"
	RouteDashboard = "/dashboard"

	// Auth Routes - Login & Logout
	RouteLogin      = "/login"
	RouteAuthLogin  = "/auth/login"
	RouteAuthLogout = "/auth/logout"
	RouteAuthSSO    = "/auth/sso"
	RouteCallback   = "/callback"

	// API Routes
	RouteAPISession        = "/api/session"
	RouteAPIToken          = "/api/token"
	RouteAPIDocumentSync   = "/api/documents/{id}/sync"
	RouteAPIDocumentStatus = "/api/documents/{id}/status"
	RouteAPIDocumentRetry  = "/api/documents/{id}/retry"
	RouteAPISearch         = "/api/search"
	RouteAPIPermission     = "/api/permissions/{id}"

	// Operational Routes
	RouteMetrics = "/metrics"
	RouteHealth  = "/healthz"
)
