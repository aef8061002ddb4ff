package server

import (
	"errors"
	"net/http"

	"github.com/jrsteele09/kb-console/auth"
	apperrors "github.com/jrsteele09/kb-console/internal/errors"
	"github.com/rs/zerolog"
)

// OAuthCallbackHandler completes an authorization code flow started by
// SSOLoginHandler (GET or POST /callback).
func (s *Server) OAuthCallbackHandler() http.HandlerFunc {
	validator := auth.NewValidator()

	return func(w http.ResponseWriter, r *http.Request) {
		log := zerolog.Ctx(r.Context())

		// r.FormValue works for both query params and POST form data
		state := r.FormValue("state")
		code := r.FormValue("code")
		errorParam := r.FormValue("error")
		errorDesc := r.FormValue("error_description")

		// The flow cookie is single use whatever the outcome
		cookie, cookieErr := r.Cookie(authFlowCookieName)
		s.setAuthFlowCookie(w, r, "", -1)

		if errorParam != "" {
			log.Info().Str("error", errorParam).Str("description", errorDesc).Msg("authorization denied by provider")
			msg := "Authorization failed"
			if errorDesc != "" {
				msg += ": " + errorDesc
			}
			redirectWithError(w, r, RouteLogin, msg)
			return
		}

		if code == "" {
			http.Error(w, "Missing code or state parameter", http.StatusBadRequest)
			return
		}
		if err := auth.ValidateState(state); err != nil {
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}
		if cookieErr != nil || cookie.Value != state {
			http.Error(w, "Sign in was started from a different browser", http.StatusBadRequest)
			return
		}

		authState, err := s.services.AuthFlows.Get(state)
		if err != nil {
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}
		if err := s.services.AuthFlows.Delete(state); err != nil {
			log.Warn().Err(err).Msg("failed to delete sign-in flow")
		}

		if authState.Expired(s.clock.Now(), authFlowTTL) {
			redirectWithError(w, r, RouteLogin, "Sign in timed out, please try again")
			return
		}
		if err := validator.ValidateCodeVerifier(authState.CodeVerifier); err != nil {
			log.Error().Err(err).Msg("stored code verifier is invalid")
			http.Error(w, "Invalid sign-in flow", http.StatusInternalServerError)
			return
		}

		session, err := s.services.SignIn.CompleteSignIn(r.Context(), code, authState.CodeVerifier, authState.Nonce)
		if errors.Is(err, apperrors.ErrInvalidState) {
			http.Error(w, "Invalid sign-in response", http.StatusBadRequest)
			return
		}
		if err != nil {
			log.Warn().Err(err).Msg("code exchange failed")
			redirectWithError(w, r, RouteLogin, "Sign in failed")
			return
		}

		log.Info().Str("user_id", session.UserID).Msg("signed in")
		redirectSuccess(w, r, authState.ReturnURL)
	}
}
