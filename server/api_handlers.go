package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jrsteele09/kb-console/dispatch"
	apperrors "github.com/jrsteele09/kb-console/internal/errors"
	"github.com/jrsteele09/kb-console/kb/ingestion"
	"github.com/jrsteele09/kb-console/kb/search"
	"github.com/rs/zerolog"
)

const maxRequestBytes = 1 << 20

type apiError struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// SessionResponse describes the signed-in state for the dashboard client
type SessionResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id,omitempty"`
	Email         string `json:"email,omitempty"`
	ExpiresAt     int64  `json:"expires_at,omitempty"`
	Expiring      bool   `json:"expiring"`
	Location      string `json:"location"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type SearchResponse struct {
	Results []search.Result `json:"results"`
}

func (s *Server) SessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := SessionResponse{Location: s.services.Locations.Location()}
		if session := s.services.Store.Get(); session != nil {
			resp.Authenticated = true
			resp.UserID = session.UserID
			resp.Email = session.Email
			resp.ExpiresAt = session.ExpiresAt
			resp.Expiring = s.services.Sessions.IsExpiring()
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, resp)
	}
}

// TokenHandler hands the dashboard client a usable access token, refreshing
// it first when it is about to expire.
func (s *Server) TokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := s.services.Tokens.GetAccessToken(r.Context())
		if err != nil {
			writeAPIError(w, r, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, TokenResponse{AccessToken: token, TokenType: "Bearer"})
	}
}

// DocumentHandler runs one ingestion operation on the {id} path value.
func (s *Server) DocumentHandler(op func(ctx context.Context, documentID string) (*ingestion.Job, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := op(r.Context(), r.PathValue("id"))
		if err != nil {
			writeAPIError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func (s *Server) SearchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var q search.Query
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&q); err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid_request", Description: "malformed search request"})
			return
		}

		results, err := s.services.Search.Search(r.Context(), q)
		if err != nil {
			writeAPIError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, SearchResponse{Results: results})
	}
}

func (s *Server) PermissionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		permission, err := s.services.Permissions.ResourceAction(r.Context(), r.PathValue("id"))
		if err != nil {
			writeAPIError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, permission)
	}
}

// PreflightHandler answers OPTIONS requests that carry no Origin header.
func (s *Server) PreflightHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeAPIError maps an error from the session or service layers onto an
// HTTP status. Upstream failures surface as 502/504 so the dashboard can tell
// them apart from its own mistakes.
func writeAPIError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusForError(err)
	event := zerolog.Ctx(r.Context()).Info()
	if status >= http.StatusInternalServerError {
		event = zerolog.Ctx(r.Context()).Warn()
	}
	event.Err(err).Int("status", status).Msg("request failed")

	resp := apiError{Error: code}
	if status < http.StatusInternalServerError {
		resp.Description = err.Error()
	}
	writeJSON(w, status, resp)
}

func statusForError(err error) (int, string) {
	var statusErr *dispatch.StatusError
	switch {
	case errors.Is(err, apperrors.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, apperrors.ErrUnauthenticated), errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrTimeout):
		return http.StatusGatewayTimeout, "upstream_timeout"
	case errors.Is(err, apperrors.ErrNetwork):
		return http.StatusBadGateway, "upstream_unavailable"
	case errors.As(err, &statusErr):
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, apperrors.ErrInternal):
		return http.StatusInternalServerError, "internal_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
