package server

import (
	"net/http"
	"net/url"
	"strings"
)

// RequireSession rejects requests made while no user is signed in. API routes
// get a 401 JSON error, console pages are redirected to the login surface
// with a return path.
func (s *Server) RequireSession() Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if s.services.Store.Get() != nil {
				next(w, r)
				return
			}

			if strings.HasPrefix(r.URL.Path, "/api/") {
				writeJSON(w, http.StatusUnauthorized, apiError{Error: "unauthorized", Description: "no active session"})
				return
			}
			redirectSuccess(w, r, RouteLogin+"?return_to="+url.QueryEscape(r.URL.RequestURI()))
		}
	}
}
