package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/jrsteele09/kb-console/auth"
	"github.com/jrsteele09/kb-console/internal/metrics"
	"github.com/jrsteele09/kb-console/server/authflowrepo"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// LoginPageData contains data for rendering the login page
type LoginPageData struct {
	AppName        string
	Error          string
	Message        string
	Email          string // Preserve email on error
	ReturnTo       string
	PasswordAction string
	SSOURL         string
}

// LoginHandler displays the login surface (GET /login). A user who is
// already signed in is sent on to the return path.
func (s *Server) LoginHandler() http.HandlerFunc {
	loginTmpl := mustParseTemplate("login.html")

	return func(w http.ResponseWriter, r *http.Request) {
		s.services.Locations.SetLocation(RouteLogin)

		q := r.URL.Query()
		returnTo := s.returnPath(q.Get("return_to"))
		if s.services.Store.Get() != nil {
			redirectSuccess(w, r, returnTo)
			return
		}

		data := LoginPageData{
			AppName:        s.config.GetAppName(),
			Error:          q.Get("error"),
			Message:        q.Get("message"),
			Email:          q.Get("email"),
			ReturnTo:       returnTo,
			PasswordAction: RouteAuthLogin,
			SSOURL:         RouteAuthSSO + "?" + url.Values{"return_to": {returnTo}}.Encode(),
		}

		w.Header().Set("Content-Type", contentTypeHTML)
		w.Header().Set("Cache-Control", "no-store")
		if err := loginTmpl.Execute(w, data); err != nil {
			zerolog.Ctx(r.Context()).Err(err).Msg("failed to render login template")
		}
	}
}

// SSOLoginHandler starts an authorization code flow with PKCE against the
// identity provider (GET /auth/sso).
func (s *Server) SSOLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := zerolog.Ctx(r.Context())
		returnTo := s.returnPath(r.URL.Query().Get("return_to"))
		if s.services.Store.Get() != nil {
			redirectSuccess(w, r, returnTo)
			return
		}

		now := s.clock.Now()
		if n := s.services.AuthFlows.DeleteOlderThan(now.Add(-authFlowTTL)); n > 0 {
			log.Debug().Int("count", n).Msg("discarded abandoned sign-in flows")
		}

		state := generateRandomString(24)
		verifier := oauth2.GenerateVerifier()
		nonce := generateRandomString(16)
		err := s.services.AuthFlows.Upsert(state, &authflowrepo.AuthFlowState{
			CodeVerifier: verifier,
			Nonce:        nonce,
			ReturnURL:    returnTo,
			CreatedAt:    now,
		})
		if err != nil {
			log.Err(err).Msg("failed to store sign-in flow")
			redirectWithError(w, r, RouteLogin, "Could not start sign in")
			return
		}

		s.setAuthFlowCookie(w, r, state, int(authFlowTTL.Seconds()))
		http.Redirect(w, r, s.services.SignIn.AuthCodeURL(state, verifier, nonce), http.StatusFound)
	}
}

// PasswordLoginHandler processes the login form submission (POST /auth/login)
func (s *Server) PasswordLoginHandler() http.HandlerFunc {
	validator := auth.NewValidator()

	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			redirectWithError(w, r, RouteLogin, "Invalid form data")
			return
		}

		email := strings.TrimSpace(r.FormValue("email"))
		password := r.FormValue("password")
		returnTo := s.returnPath(r.FormValue("return_to"))
		retry := RouteLogin + "?" + url.Values{"email": {email}, "return_to": {returnTo}}.Encode()

		if err := validator.ValidateCredentials(email, password); err != nil {
			redirectWithError(w, r, retry, "Enter a valid email and password")
			return
		}

		if _, err := s.services.SignIn.SignInWithPassword(r.Context(), email, password); err != nil {
			zerolog.Ctx(r.Context()).Info().Err(err).Msg("password sign in rejected")
			redirectWithError(w, r, retry, "Invalid email or password")
			return
		}

		redirectSuccess(w, r, returnTo)
	}
}

// LogoutHandler signs the user out (POST /auth/logout). Sign-out always
// completes locally even if the provider could not be reached.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.services.Sessions.SignOut(r.Context(), metrics.ReasonUser); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("provider sign out failed")
		}
		redirectSuccess(w, r, RouteLogin+"?"+url.Values{"message": {"You have been signed out"}}.Encode())
	}
}
