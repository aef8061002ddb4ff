package server_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/kb-console/dispatch"
	"github.com/jrsteele09/kb-console/identity/providerfake"
	"github.com/jrsteele09/kb-console/internal/clock/clockfake"
	"github.com/jrsteele09/kb-console/internal/config"
	apperrors "github.com/jrsteele09/kb-console/internal/errors"
	"github.com/jrsteele09/kb-console/internal/metrics"
	"github.com/jrsteele09/kb-console/kb/ingestion"
	"github.com/jrsteele09/kb-console/kb/search"
	"github.com/jrsteele09/kb-console/navigation"
	"github.com/jrsteele09/kb-console/permissions"
	"github.com/jrsteele09/kb-console/server"
	"github.com/jrsteele09/kb-console/server/authflowrepo"
	"github.com/jrsteele09/kb-console/sessions"
	"github.com/jrsteele09/kb-console/token/refresh"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fakeSignIn struct {
	store *sessions.Store

	mu          sync.Mutex
	code        string
	verifier    string
	nonce       string
	completeErr error
}

func (f *fakeSignIn) AuthCodeURL(state, verifier, nonce string) string {
	return "https://idp.example.com/authorize?" + url.Values{
		"state":    {state},
		"nonce":    {nonce},
		"verifier": {verifier},
	}.Encode()
}

func (f *fakeSignIn) CompleteSignIn(_ context.Context, code, verifier, nonce string) (*sessions.Session, error) {
	f.mu.Lock()
	f.code, f.verifier, f.nonce = code, verifier, nonce
	err := f.completeErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	session := testSession()
	f.store.Set(session)
	return session, nil
}

func (f *fakeSignIn) SignInWithPassword(_ context.Context, email, password string) (*sessions.Session, error) {
	if password != "correct-horse" {
		return nil, fmt.Errorf("%w: invalid_grant", apperrors.ErrUnauthorized)
	}
	session := testSession()
	session.Email = email
	f.store.Set(session)
	return session, nil
}

func testSession() *sessions.Session {
	return &sessions.Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		UserID:       "user-1",
		Email:        "ada@example.com",
	}
}

type fixture struct {
	srv      *server.Server
	store    *sessions.Store
	provider *providerfake.FakeProvider
	router   *navigation.Router
	flows    *authflowrepo.InMemoryRepo
	signIn   *fakeSignIn
	clock    *clockfake.FakeClock
	upstream *httptest.Server
}

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /documents/{id}/sync", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"document_id":%q,"status":"pending"}`, r.PathValue("id"))
	})
	mux.HandleFunc("GET /documents/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprintf(w, `{"document_id":%q,"status":"completed","progress":1}`, r.PathValue("id"))
	})
	mux.HandleFunc("POST /documents/{id}/retry", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("POST /search", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[
			{"content":"b","similarity":0.5,"metadata":{"document_id":"d2"}},
			{"content":"a","similarity":0.9,"metadata":{"document_id":"d1"}}
		]}`))
	})
	mux.HandleFunc("GET /permissions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"p1","resource":"documents","action":"read"}]`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newFixture(t *testing.T, modify ...func(*server.Services)) *fixture {
	t.Helper()
	f := &fixture{
		store:    sessions.NewStore(),
		provider: providerfake.NewFakeProvider(),
		router:   navigation.NewRouter("/"),
		flows:    authflowrepo.NewInMemoryRepo(),
		clock:    clockfake.NewFakeClock(time.Now()),
		upstream: newUpstream(t),
	}
	f.signIn = &fakeSignIn{store: f.store}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	coordinator := refresh.New(f.store, f.provider, refresh.WithClock(f.clock), refresh.WithMetrics(m))
	t.Cleanup(coordinator.Close)
	dispatcher := dispatch.New(f.store, coordinator, f.router, dispatch.WithMetrics(m))

	services := server.Services{
		Store:       f.store,
		SignIn:      f.signIn,
		Sessions:    coordinator,
		Tokens:      dispatcher,
		Locations:   f.router,
		Documents:   ingestion.NewClient(dispatcher, f.upstream.URL),
		Search:      search.NewClient(dispatcher, f.upstream.URL),
		Permissions: permissions.NewMappingCache(permissions.NewHTTPLoader(dispatcher, f.upstream.URL)),
		AuthFlows:   f.flows,
	}
	for _, fn := range modify {
		fn(&services)
	}

	srv, err := server.New(config.New(), services, server.WithClock(f.clock), server.WithMetricsGatherer(registry))
	require.NoError(t, err)
	f.srv = srv
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	return f.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (f *fixture) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.do(req)
}

func (f *fixture) postJSON(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return f.do(req)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestNew_RequiresServices(t *testing.T) {
	_, err := server.New(config.New(), server.Services{Store: sessions.NewStore()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "SignIn")
	require.Contains(t, err.Error(), "AuthFlows")
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.get(server.RouteHealth)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	f.store.Set(testSession())
	require.Equal(t, http.StatusOK, f.get(server.RouteAPIToken).Code)

	rec = f.get(server.RouteMetrics)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "kbconsole_")
}

func TestRequestID(t *testing.T) {
	f := newFixture(t)

	rec := f.get(server.RouteAPISession)
	require.NotEmpty(t, rec.Header().Get(dispatch.RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, server.RouteAPISession, nil)
	req.Header.Set(dispatch.RequestIDHeader, "req-42")
	rec = f.do(req)
	require.Equal(t, "req-42", rec.Header().Get(dispatch.RequestIDHeader))
}

func TestIndexHandler(t *testing.T) {
	f := newFixture(t)

	t.Run("signed out goes to login", func(t *testing.T) {
		rec := f.get("/")
		require.Equal(t, http.StatusSeeOther, rec.Code)
		require.Equal(t, server.RouteLogin, rec.Header().Get("Location"))
		require.Equal(t, "/", f.router.Location())
	})

	t.Run("signed in goes to dashboard", func(t *testing.T) {
		f.store.Set(testSession())
		rec := f.get("/")
		require.Equal(t, http.StatusSeeOther, rec.Code)
		require.Equal(t, server.RouteDashboard, rec.Header().Get("Location"))
	})

	t.Run("unknown paths are not the index", func(t *testing.T) {
		require.Equal(t, http.StatusNotFound, f.get("/nope").Code)
	})
}

func TestDashboardHandler(t *testing.T) {
	f := newFixture(t)

	t.Run("requires a session", func(t *testing.T) {
		rec := f.get(server.RouteDashboard + "?tab=docs")
		require.Equal(t, http.StatusSeeOther, rec.Code)
		require.Equal(t, "/login?return_to="+url.QueryEscape("/dashboard?tab=docs"), rec.Header().Get("Location"))
	})

	t.Run("renders for the signed in user", func(t *testing.T) {
		f.store.Set(testSession())
		rec := f.get(server.RouteDashboard)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Contains(t, rec.Body.String(), "ada@example.com")
		require.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))
		require.Equal(t, server.RouteDashboard, f.router.Location())
	})
}

func TestLoginHandler(t *testing.T) {
	f := newFixture(t)

	t.Run("renders the login surface", func(t *testing.T) {
		rec := f.get(server.RouteLogin + "?error=" + url.QueryEscape("<b>bad</b>") + "&email=ada%40example.com")
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		require.Contains(t, body, "&lt;b&gt;bad&lt;/b&gt;")
		require.Contains(t, body, `value="ada@example.com"`)
		require.Contains(t, body, server.RouteAuthSSO)
		require.Equal(t, server.RouteLogin, f.router.Location())
	})

	t.Run("signed in user is sent on", func(t *testing.T) {
		f.store.Set(testSession())
		defer f.store.Set(nil)

		rec := f.get(server.RouteLogin + "?return_to=%2Fdashboard%3Ftab%3Dsearch")
		require.Equal(t, http.StatusSeeOther, rec.Code)
		require.Equal(t, "/dashboard?tab=search", rec.Header().Get("Location"))
	})

	t.Run("foreign return path falls back to the landing page", func(t *testing.T) {
		f.store.Set(testSession())
		defer f.store.Set(nil)

		rec := f.get(server.RouteLogin + "?return_to=" + url.QueryEscape("https://evil.example.com/"))
		require.Equal(t, server.RouteDashboard, rec.Header().Get("Location"))
	})
}

// startSSO runs GET /auth/sso and returns the state and flow cookie.
func startSSO(t *testing.T, f *fixture, returnTo string) (string, *http.Cookie) {
	t.Helper()
	rec := f.get(server.RouteAuthSSO + "?return_to=" + url.QueryEscape(returnTo))
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "idp.example.com", location.Host)
	state := location.Query().Get("state")
	require.NotEmpty(t, state)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, state, cookies[0].Value)
	require.True(t, cookies[0].HttpOnly)
	return state, cookies[0]
}

func callback(f *fixture, query url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, server.RouteCallback+"?"+query.Encode(), nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return f.do(req)
}

func TestSSOFlow(t *testing.T) {
	t.Run("completes sign in and returns to the requested page", func(t *testing.T) {
		f := newFixture(t)
		state, cookie := startSSO(t, f, "/dashboard?tab=docs")

		flow, err := f.flows.Get(state)
		require.NoError(t, err)
		require.Len(t, flow.CodeVerifier, 43)

		rec := callback(f, url.Values{"code": {"code-1"}, "state": {state}}, cookie)
		require.Equal(t, http.StatusSeeOther, rec.Code)
		require.Equal(t, "/dashboard?tab=docs", rec.Header().Get("Location"))

		require.Equal(t, "code-1", f.signIn.code)
		require.Equal(t, flow.CodeVerifier, f.signIn.verifier)
		require.Equal(t, flow.Nonce, f.signIn.nonce)
		require.NotNil(t, f.store.Get())

		// State is single use
		_, err = f.flows.Get(state)
		require.ErrorIs(t, err, authflowrepo.ErrStateNotFound)
		rec = callback(f, url.Values{"code": {"code-1"}, "state": {state}}, cookie)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects a mismatched flow cookie", func(t *testing.T) {
		f := newFixture(t)
		state, _ := startSSO(t, f, "")

		rec := callback(f, url.Values{"code": {"c"}, "state": {state}}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = callback(f, url.Values{"code": {"c"}, "state": {state}}, &http.Cookie{Name: "kb_auth_flow", Value: "other-state"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Nil(t, f.store.Get())
	})

	t.Run("rejects unknown state", func(t *testing.T) {
		f := newFixture(t)
		cookie := &http.Cookie{Name: "kb_auth_flow", Value: "unknown-state"}
		rec := callback(f, url.Values{"code": {"c"}, "state": {"unknown-state"}}, cookie)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing code", func(t *testing.T) {
		f := newFixture(t)
		rec := callback(f, url.Values{"state": {"some-state"}}, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("provider error goes back to login", func(t *testing.T) {
		f := newFixture(t)
		rec := callback(f, url.Values{"error": {"access_denied"}, "error_description": {"user cancelled"}}, nil)
		require.Equal(t, http.StatusSeeOther, rec.Code)
		require.Contains(t, rec.Header().Get("Location"), "/login?error=")
		require.Contains(t, rec.Header().Get("Location"), "user+cancelled")
	})

	t.Run("expired flow", func(t *testing.T) {
		f := newFixture(t)
		state, cookie := startSSO(t, f, "")
		f.clock.Advance(11 * time.Minute)

		rec := callback(f, url.Values{"code": {"c"}, "state": {state}}, cookie)
		require.Equal(t, http.StatusSeeOther, rec.Code)
		require.Contains(t, rec.Header().Get("Location"), "timed+out")
		require.Nil(t, f.store.Get())
	})

	t.Run("nonce mismatch", func(t *testing.T) {
		f := newFixture(t)
		f.signIn.completeErr = fmt.Errorf("%w: nonce mismatch", apperrors.ErrInvalidState)
		state, cookie := startSSO(t, f, "")

		rec := callback(f, url.Values{"code": {"c"}, "state": {state}}, cookie)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("abandoned flows are pruned", func(t *testing.T) {
		f := newFixture(t)
		stale, _ := startSSO(t, f, "")
		f.clock.Advance(11 * time.Minute)
		startSSO(t, f, "")

		_, err := f.flows.Get(stale)
		require.ErrorIs(t, err, authflowrepo.ErrStateNotFound)
	})
}

func TestPasswordLoginHandler(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newFixture(t)
		rec := f.postForm(server.RouteAuthLogin, url.Values{"email": {"ada@example.com"}, "password": {"correct-horse"}})
		require.Equal(t, http.StatusSeeOther, rec.Code)
		require.Equal(t, server.RouteDashboard, rec.Header().Get("Location"))
		require.Equal(t, "ada@example.com", f.store.Get().Email)
	})

	t.Run("wrong password keeps the email", func(t *testing.T) {
		f := newFixture(t)
		rec := f.postForm(server.RouteAuthLogin, url.Values{"email": {"ada@example.com"}, "password": {"nope"}})
		require.Equal(t, http.StatusSeeOther, rec.Code)

		location, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		require.Equal(t, server.RouteLogin, location.Path)
		require.Equal(t, "Invalid email or password", location.Query().Get("error"))
		require.Equal(t, "ada@example.com", location.Query().Get("email"))
		require.Nil(t, f.store.Get())
	})

	t.Run("invalid input", func(t *testing.T) {
		f := newFixture(t)
		rec := f.postForm(server.RouteAuthLogin, url.Values{"email": {"not-an-email"}, "password": {"x"}})
		require.Contains(t, rec.Header().Get("Location"), "error=")
	})

	t.Run("htmx requests get HX-Redirect", func(t *testing.T) {
		f := newFixture(t)
		form := url.Values{"email": {"ada@example.com"}, "password": {"correct-horse"}}
		req := httptest.NewRequest(http.MethodPost, server.RouteAuthLogin, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("HX-Request", "true")

		rec := f.do(req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, server.RouteDashboard, rec.Header().Get("HX-Redirect"))
	})
}

func TestLogoutHandler(t *testing.T) {
	f := newFixture(t)
	f.store.Set(testSession())

	rec := f.postForm(server.RouteAuthLogout, nil)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.True(t, strings.HasPrefix(rec.Header().Get("Location"), server.RouteLogin+"?message="))
	require.Nil(t, f.store.Get())
	require.Equal(t, 1, f.provider.SignOutCalls())
}

func TestSessionHandler(t *testing.T) {
	f := newFixture(t)

	resp := decode[server.SessionResponse](t, f.get(server.RouteAPISession))
	require.False(t, resp.Authenticated)
	require.Equal(t, "/", resp.Location)

	session := testSession()
	f.store.Set(session)
	f.router.SetLocation(server.RouteDashboard)

	resp = decode[server.SessionResponse](t, f.get(server.RouteAPISession))
	require.True(t, resp.Authenticated)
	require.Equal(t, "user-1", resp.UserID)
	require.Equal(t, session.ExpiresAt, resp.ExpiresAt)
	require.False(t, resp.Expiring)
	require.Equal(t, server.RouteDashboard, resp.Location)
}

func TestTokenHandler(t *testing.T) {
	f := newFixture(t)

	rec := f.get(server.RouteAPIToken)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", decode[map[string]string](t, rec)["error"])

	f.store.Set(testSession())
	rec = f.get(server.RouteAPIToken)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	resp := decode[server.TokenResponse](t, rec)
	require.Equal(t, "access-1", resp.AccessToken)
	require.Equal(t, "Bearer", resp.TokenType)
}

func TestDocumentHandlers(t *testing.T) {
	f := newFixture(t)

	t.Run("require a session", func(t *testing.T) {
		rec := f.postJSON("/api/documents/doc-1/sync", "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	f.store.Set(testSession())

	t.Run("sync", func(t *testing.T) {
		rec := f.postJSON("/api/documents/doc-1/sync", "")
		require.Equal(t, http.StatusOK, rec.Code)
		job := decode[ingestion.Job](t, rec)
		require.Equal(t, "doc-1", job.DocumentID)
		require.Equal(t, ingestion.StatusPending, job.Status)
	})

	t.Run("status", func(t *testing.T) {
		job := decode[ingestion.Job](t, f.get("/api/documents/doc-2/status"))
		require.True(t, job.Done())
	})

	t.Run("upstream not found", func(t *testing.T) {
		rec := f.get("/api/documents/missing/status")
		require.Equal(t, http.StatusNotFound, rec.Code)
		require.Equal(t, "not_found", decode[map[string]string](t, rec)["error"])
	})

	t.Run("upstream failure", func(t *testing.T) {
		rec := f.postJSON("/api/documents/doc-1/retry", "")
		require.Equal(t, http.StatusBadGateway, rec.Code)
		require.Equal(t, "upstream_error", decode[map[string]string](t, rec)["error"])
	})
}

func TestDocumentHandlers_UpstreamUnreachable(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	closed.Close()

	f := newFixture(t, func(s *server.Services) {
		d := dispatch.New(s.Store, s.Sessions.(dispatch.Refresher), navigation.NewRouter("/"))
		s.Documents = ingestion.NewClient(d, closed.URL)
	})
	f.store.Set(testSession())

	rec := f.get("/api/documents/doc-1/status")
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "upstream_unavailable", decode[map[string]string](t, rec)["error"])
}

func TestSearchHandler(t *testing.T) {
	f := newFixture(t)
	f.store.Set(testSession())

	t.Run("results are ranked", func(t *testing.T) {
		rec := f.postJSON(server.RouteAPISearch, `{"query":"refunds","limit":5}`)
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[server.SearchResponse](t, rec)
		require.Len(t, resp.Results, 2)
		require.Equal(t, "d1", resp.Results[0].Metadata.DocumentID)
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := f.postJSON(server.RouteAPISearch, `{"query":`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		rec := f.postJSON(server.RouteAPISearch, `{"q":"refunds"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("empty query", func(t *testing.T) {
		rec := f.postJSON(server.RouteAPISearch, `{"query":"  "}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Equal(t, "invalid_request", decode[map[string]string](t, rec)["error"])
	})
}

func TestPermissionHandler(t *testing.T) {
	f := newFixture(t)
	f.store.Set(testSession())

	rec := f.get("/api/permissions/p1")
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[permissions.Permission](t, rec)
	require.Equal(t, "documents", p.Resource)
	require.Equal(t, "read", p.Action)

	rec = f.get("/api/permissions/p9")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCorsMiddleware(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://localhost:5173")
	f := newFixture(t)

	t.Run("preflight from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, server.RouteAPISearch, nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := f.do(req)
		require.Equal(t, http.StatusNoContent, rec.Code)
		require.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
		require.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Methods"))
	})

	t.Run("preflight from unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, server.RouteAPISearch, nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := f.do(req)
		require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("simple request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, server.RouteAPISession, nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := f.do(req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestRecoverMiddleware(t *testing.T) {
	f := newFixture(t)
	handler := server.ChainMiddleware(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}, f.srv.RequestIDMiddleware, f.srv.RecoverMiddleware)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode[map[string]string](t, rec)
	require.Equal(t, "internal_error", body["error"])
	require.NotContains(t, body, "error_description")
}
