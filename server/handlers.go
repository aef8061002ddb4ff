package server

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeJSON = "application/json"
)

// IndexHandler sends the user to the dashboard or the login surface
func (s *Server) IndexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.services.Locations.SetLocation(RouteRoot)
		if s.services.Store.Get() == nil {
			redirectSuccess(w, r, RouteLogin)
			return
		}
		redirectSuccess(w, r, s.config.GetLandingPath())
	}
}

// DashboardPageData contains data for rendering the dashboard page
type DashboardPageData struct {
	AppName      string
	UserID       string
	Email        string
	ExpiresAt    time.Time
	LogoutAction string
}

func (s *Server) DashboardHandler() http.HandlerFunc {
	dashboardTmpl := mustParseTemplate("dashboard.html")

	return func(w http.ResponseWriter, r *http.Request) {
		session := s.services.Store.Get()
		if session == nil {
			// Signed out between the middleware check and here
			redirectSuccess(w, r, RouteLogin)
			return
		}
		s.services.Locations.SetLocation(RouteDashboard)

		data := DashboardPageData{
			AppName:      s.config.GetAppName(),
			UserID:       session.UserID,
			Email:        session.Email,
			ExpiresAt:    session.Expiry().UTC(),
			LogoutAction: RouteAuthLogout,
		}

		w.Header().Set("Content-Type", contentTypeHTML)
		w.Header().Set("Cache-Control", "no-store")
		if err := dashboardTmpl.Execute(w, data); err != nil {
			zerolog.Ctx(r.Context()).Err(err).Msg("failed to render dashboard template")
		}
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
