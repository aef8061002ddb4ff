package server

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/kb-console/auth"
)

const (
	// authFlowCookieName binds an interactive sign-in to the browser that started it
	authFlowCookieName = "kb_auth_flow"
	authFlowTTL        = 10 * time.Minute
)

// generateRandomString creates a random base64url string
func generateRandomString(length int) string {
	b := make([]byte, length)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func (s *Server) setAuthFlowCookie(w http.ResponseWriter, r *http.Request, state string, maxAge int) {
	isSecure := getScheme(r) == "https"
	sameSite := http.SameSiteLaxMode
	if isSecure {
		// form_post callbacks arrive as cross-site POSTs
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     authFlowCookieName,
		Value:    state,
		Path:     RouteCallback,
		HttpOnly: true,
		Secure:   isSecure,
		SameSite: sameSite,
		MaxAge:   maxAge,
	})
}

// returnPath sanitises a post-login destination, falling back to the landing
// surface for anything that is not a local console path.
func (s *Server) returnPath(raw string) string {
	if raw == "" || auth.ValidateReturnPath(raw) != nil || strings.HasPrefix(raw, RouteLogin) {
		return s.config.GetLandingPath()
	}
	return raw
}

// redirectSuccess helper for htmx-aware success redirects
func redirectSuccess(w http.ResponseWriter, r *http.Request, path string) {
	if isHTMXRequest(r) {
		w.Header().Set("HX-Redirect", path)
		w.WriteHeader(http.StatusNoContent) // 204 - no content, just redirect instruction
		return
	}
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// redirectWithError helper for htmx-aware error redirects
func redirectWithError(w http.ResponseWriter, r *http.Request, path, errorMsg string) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	redirectSuccess(w, r, path+sep+"error="+url.QueryEscape(errorMsg))
}

// isHTMXRequest checks if the request was initiated by HTMX
func isHTMXRequest(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
