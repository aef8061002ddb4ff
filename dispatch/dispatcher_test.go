package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/kb-console/dispatch"
	"github.com/jrsteele09/kb-console/identity/providerfake"
	"github.com/jrsteele09/kb-console/internal/clock/clockfake"
	apperrors "github.com/jrsteele09/kb-console/internal/errors"
	"github.com/jrsteele09/kb-console/navigation"
	"github.com/jrsteele09/kb-console/sessions"
	"github.com/jrsteele09/kb-console/token/refresh"
	"github.com/stretchr/testify/require"
)

type dispatchFixture struct {
	clock       *clockfake.FakeClock
	store       *sessions.Store
	provider    *providerfake.FakeProvider
	coordinator *refresh.Coordinator
	router      *navigation.Router
}

func newDispatchFixture(t *testing.T, location string) *dispatchFixture {
	t.Helper()
	f := &dispatchFixture{
		clock:    clockfake.NewFakeClock(time.Now()),
		store:    sessions.NewStore(),
		provider: providerfake.NewFakeProvider(),
		router:   navigation.NewRouter(location),
	}
	f.coordinator = refresh.New(f.store, f.provider, refresh.WithClock(f.clock))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = f.router.Run(ctx) }()
	t.Cleanup(func() {
		f.coordinator.Close()
		cancel()
	})
	return f
}

func (f *dispatchFixture) dispatcher(options ...dispatch.Option) *dispatch.Dispatcher {
	return dispatch.New(f.store, f.coordinator, f.router, options...)
}

func (f *dispatchFixture) session(expiresIn time.Duration, name string) *sessions.Session {
	return &sessions.Session{
		AccessToken:  "access-" + name,
		RefreshToken: "refresh-" + name,
		ExpiresAt:    f.clock.Now().Add(expiresIn).Unix(),
		UserID:       "user-1",
	}
}

func (f *dispatchFixture) refreshTo(name string) {
	f.provider.RefreshFunc = func(context.Context, string) (*sessions.Session, error) {
		return f.session(time.Hour, name), nil
	}
}

func (f *dispatchFixture) location(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.router.Flush(ctx))
	return f.router.Location()
}

// tokenServer answers 200 for the accepted bearer token and 401 otherwise,
// recording every Authorization header it sees.
type tokenServer struct {
	*httptest.Server
	accept string

	mu     sync.Mutex
	auths  []string
	ids    []string
	bodies []string
}

func newTokenServer(t *testing.T, accept string) *tokenServer {
	t.Helper()
	ts := &tokenServer{accept: accept}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts.mu.Lock()
		ts.auths = append(ts.auths, r.Header.Get("Authorization"))
		ts.ids = append(ts.ids, r.Header.Get(dispatch.RequestIDHeader))
		ts.bodies = append(ts.bodies, string(body))
		ts.mu.Unlock()

		if ts.accept != "" && r.Header.Get("Authorization") != "Bearer "+ts.accept {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tokenServer) calls() []string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return append([]string(nil), ts.auths...)
}

func TestDispatcher_InjectsBearerToken(t *testing.T) {
	f := newDispatchFixture(t, "/dashboard")
	f.store.Set(f.session(time.Hour, "a"))
	ts := newTokenServer(t, "access-a")

	resp, err := f.dispatcher().Request(context.Background(), http.MethodGet, ts.URL+"/things", nil, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"ok":true}`, string(resp.Body))

	require.Equal(t, []string{"Bearer access-a"}, ts.calls())
	_, err = uuid.Parse(ts.ids[0])
	require.NoError(t, err)
	require.Equal(t, 0, f.provider.RefreshCalls())
}

func TestDispatcher_KeepsCallerRequestID(t *testing.T) {
	f := newDispatchFixture(t, "/dashboard")
	f.store.Set(f.session(time.Hour, "a"))
	ts := newTokenServer(t, "access-a")

	headers := http.Header{dispatch.RequestIDHeader: {"req-123"}}
	_, err := f.dispatcher().Request(context.Background(), http.MethodGet, ts.URL, nil, headers)
	require.NoError(t, err)
	require.Equal(t, []string{"req-123"}, ts.ids)
}

func TestDispatcher_NoSessionOmitsAuthorization(t *testing.T) {
	f := newDispatchFixture(t, "/")
	ts := newTokenServer(t, "")

	_, err := f.dispatcher().Request(context.Background(), http.MethodGet, ts.URL, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{""}, ts.calls())
}

func TestDispatcher_RefreshesExpiringSessionFirst(t *testing.T) {
	f := newDispatchFixture(t, "/dashboard")
	f.store.Set(f.session(2*time.Minute, "old"))
	f.refreshTo("new")
	ts := newTokenServer(t, "access-new")

	_, err := f.dispatcher().Request(context.Background(), http.MethodGet, ts.URL, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"Bearer access-new"}, ts.calls())
	require.Equal(t, 1, f.provider.RefreshCalls())
}

func TestDispatcher_RetriesOnceAfterRefresh(t *testing.T) {
	f := newDispatchFixture(t, "/dashboard")
	f.store.Set(f.session(time.Hour, "revoked"))
	f.refreshTo("new")
	ts := newTokenServer(t, "access-new")

	body := []byte(`{"query":"hello"}`)
	resp, err := f.dispatcher().Request(context.Background(), http.MethodPost, ts.URL, body, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Equal(t, []string{"Bearer access-revoked", "Bearer access-new"}, ts.calls())
	require.Equal(t, []string{string(body), string(body)}, ts.bodies)
	require.NotEqual(t, ts.ids[0], "")
	require.Equal(t, 1, f.provider.RefreshCalls())
	require.Equal(t, "/dashboard", f.location(t))
}

func TestDispatcher_SecondUnauthorizedIsNotRetried(t *testing.T) {
	f := newDispatchFixture(t, "/dashboard")
	f.store.Set(f.session(time.Hour, "a"))
	f.refreshTo("b")
	ts := newTokenServer(t, "never-accepted")

	resp, err := f.dispatcher().Request(context.Background(), http.MethodGet, ts.URL, nil, nil)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var statusErr *dispatch.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)

	require.Len(t, ts.calls(), 2)
	require.Equal(t, 1, f.provider.RefreshCalls())
	require.Equal(t, 1, f.provider.SignOutCalls())
	require.Nil(t, f.store.Get())
	require.Equal(t, "/login", f.location(t))
}

func TestDispatcher_RefreshFailureNavigatesToLogin(t *testing.T) {
	f := newDispatchFixture(t, "/documents")
	f.store.Set(f.session(time.Hour, "a"))
	// No RefreshFunc: the provider rejects the refresh
	ts := newTokenServer(t, "never-accepted")

	_, err := f.dispatcher().Request(context.Background(), http.MethodGet, ts.URL, nil, nil)
	require.ErrorIs(t, err, apperrors.ErrUnauthorized)
	require.False(t, errors.Is(err, apperrors.ErrNetwork))

	require.Len(t, ts.calls(), 1)
	require.Equal(t, 1, f.provider.RefreshCalls())
	require.Equal(t, "/login", f.location(t))
}

func TestDispatcher_CancelledWhileRefreshingKeepsSession(t *testing.T) {
	f := newDispatchFixture(t, "/dashboard")
	f.store.Set(f.session(time.Hour, "revoked"))
	f.refreshTo("new")
	f.provider.Block = make(chan struct{})
	f.provider.Started = make(chan struct{}, 1)
	ts := newTokenServer(t, "access-new")

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := f.dispatcher().Request(ctx, http.MethodGet, ts.URL, nil, nil)
		result <- err
	}()
	<-f.provider.Started

	cancel()
	err := <-result
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, errors.Is(err, apperrors.ErrUnauthorized))
	require.Equal(t, 0, f.provider.SignOutCalls())
	require.NotNil(t, f.store.Get())
	require.Equal(t, "/dashboard", f.location(t))

	// The shared refresh completes for everyone else
	close(f.provider.Block)
	require.Eventually(t, func() bool {
		current := f.store.Get()
		return current != nil && current.AccessToken == "access-new"
	}, time.Second, time.Millisecond)
	require.Len(t, ts.calls(), 1)
}

func TestDispatcher_HTTPErrorStatus(t *testing.T) {
	f := newDispatchFixture(t, "/dashboard")
	f.store.Set(f.session(time.Hour, "a"))
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer ts.Close()

	resp, err := f.dispatcher().Request(context.Background(), http.MethodGet, ts.URL, nil, nil)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.False(t, errors.Is(err, apperrors.ErrUnauthorized))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, string(resp.Body), "missing")
	require.Equal(t, 0, f.provider.RefreshCalls())
}

func TestDispatcher_NetworkErrors(t *testing.T) {
	t.Run("timeout", func(t *testing.T) {
		f := newDispatchFixture(t, "/dashboard")
		release := make(chan struct{})
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer ts.Close()
		defer close(release)

		_, err := f.dispatcher(dispatch.WithTimeout(50*time.Millisecond)).
			Request(context.Background(), http.MethodGet, ts.URL, nil, nil)
		require.ErrorIs(t, err, apperrors.ErrTimeout)
		require.ErrorIs(t, err, apperrors.ErrNetwork)
		require.False(t, errors.Is(err, apperrors.ErrUnauthorized))

		var netErr *dispatch.NetworkError
		require.True(t, errors.As(err, &netErr))
		require.True(t, netErr.Timeout)
	})

	t.Run("connection refused", func(t *testing.T) {
		f := newDispatchFixture(t, "/dashboard")
		ts := httptest.NewServer(http.NotFoundHandler())
		url := ts.URL
		ts.Close()

		_, err := f.dispatcher().Request(context.Background(), http.MethodGet, url, nil, nil)
		require.ErrorIs(t, err, apperrors.ErrNetwork)
		require.False(t, errors.Is(err, apperrors.ErrTimeout))
	})
}

func TestDispatcher_GetAccessToken(t *testing.T) {
	t.Run("no session", func(t *testing.T) {
		f := newDispatchFixture(t, "/")
		_, err := f.dispatcher().GetAccessToken(context.Background())
		require.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	})

	t.Run("valid session", func(t *testing.T) {
		f := newDispatchFixture(t, "/")
		f.store.Set(f.session(time.Hour, "a"))
		token, err := f.dispatcher().GetAccessToken(context.Background())
		require.NoError(t, err)
		require.Equal(t, "access-a", token)
	})

	t.Run("concurrent callers share one refresh", func(t *testing.T) {
		f := newDispatchFixture(t, "/")
		f.store.Set(f.session(time.Minute, "old"))
		f.refreshTo("new")
		f.provider.Block = make(chan struct{})
		f.provider.Started = make(chan struct{}, 4)
		d := f.dispatcher()

		var wg sync.WaitGroup
		var failures atomic.Int32
		tokens := make([]string, 2)
		for i := range tokens {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				token, err := d.GetAccessToken(context.Background())
				if err != nil {
					failures.Add(1)
				}
				tokens[i] = token
			}(i)
		}

		<-f.provider.Started
		time.Sleep(50 * time.Millisecond)
		close(f.provider.Block)
		wg.Wait()

		require.Zero(t, failures.Load())
		require.Equal(t, []string{"access-new", "access-new"}, tokens)
		require.Equal(t, 1, f.provider.RefreshCalls())
	})

	t.Run("refresh fails", func(t *testing.T) {
		f := newDispatchFixture(t, "/")
		f.store.Set(f.session(time.Minute, "old"))
		_, err := f.dispatcher().GetAccessToken(context.Background())
		require.ErrorIs(t, err, apperrors.ErrUnauthenticated)
	})
}

func TestDispatcher_JSON(t *testing.T) {
	f := newDispatchFixture(t, "/dashboard")
	f.store.Set(f.session(time.Hour, "a"))
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["say"]})
	}))
	defer ts.Close()

	var out struct {
		Echo string `json:"echo"`
	}
	err := f.dispatcher().JSON(context.Background(), http.MethodPost, ts.URL, map[string]string{"say": "hi"}, &out)
	require.NoError(t, err)
	require.Equal(t, "hi", out.Echo)
}
