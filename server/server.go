package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/kb-console/internal/clock"
	"github.com/jrsteele09/kb-console/internal/config"
	"github.com/jrsteele09/kb-console/internal/logging"
	"github.com/jrsteele09/kb-console/kb/ingestion"
	"github.com/jrsteele09/kb-console/kb/search"
	"github.com/jrsteele09/kb-console/permissions"
	"github.com/jrsteele09/kb-console/server/authflowrepo"
	"github.com/jrsteele09/kb-console/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// SignInProvider is the interactive half of the identity provider.
type SignInProvider interface {
	AuthCodeURL(state, verifier, nonce string) string
	CompleteSignIn(ctx context.Context, code, verifier, nonce string) (*sessions.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*sessions.Session, error)
}

// SessionController ends sessions and reports their freshness.
type SessionController interface {
	IsExpiring() bool
	SignOut(ctx context.Context, reason string) error
}

type TokenSource interface {
	GetAccessToken(ctx context.Context) (string, error)
}

// Locations records which console surface the user is on.
type Locations interface {
	Location() string
	SetLocation(path string)
}

type DocumentService interface {
	Sync(ctx context.Context, documentID string) (*ingestion.Job, error)
	Status(ctx context.Context, documentID string) (*ingestion.Job, error)
	Retry(ctx context.Context, documentID string) (*ingestion.Job, error)
}

type SearchService interface {
	Search(ctx context.Context, q search.Query) ([]search.Result, error)
}

type PermissionService interface {
	ResourceAction(ctx context.Context, id string) (permissions.Permission, error)
}

// Services bundles everything the console routes call into.
type Services struct {
	Store       *sessions.Store
	SignIn      SignInProvider
	Sessions    SessionController
	Tokens      TokenSource
	Locations   Locations
	Documents   DocumentService
	Search      SearchService
	Permissions PermissionService
	AuthFlows   authflowrepo.Repo
}

func (s Services) validate() error {
	var missing []string
	if s.Store == nil {
		missing = append(missing, "Store")
	}
	if s.SignIn == nil {
		missing = append(missing, "SignIn")
	}
	if s.Sessions == nil {
		missing = append(missing, "Sessions")
	}
	if s.Tokens == nil {
		missing = append(missing, "Tokens")
	}
	if s.Locations == nil {
		missing = append(missing, "Locations")
	}
	if s.Documents == nil {
		missing = append(missing, "Documents")
	}
	if s.Search == nil {
		missing = append(missing, "Search")
	}
	if s.Permissions == nil {
		missing = append(missing, "Permissions")
	}
	if s.AuthFlows == nil {
		missing = append(missing, "AuthFlows")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing services: %s", strings.Join(missing, ", "))
	}
	return nil
}

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	services Services
	metrics  http.Handler
	clock    clock.Clock
	log      zerolog.Logger
}

type Option func(*Server)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) {
		s.log = logging.Component(log, "server")
	}
}

// WithMetricsGatherer serves the gatherer's collectors on /metrics instead of
// the default registry.
func WithMetricsGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

func New(cfg config.Config, services Services, options ...Option) (*Server, error) {
	if err := services.validate(); err != nil {
		return nil, fmt.Errorf("[Server New] %w", err)
	}

	s := &Server{
		env:      cfg.GetEnv(),
		mux:      http.NewServeMux(),
		config:   cfg,
		services: services,
		metrics:  promhttp.Handler(),
		clock:    clock.Real(),
		log:      zerolog.Nop(),
	}
	for _, opt := range options {
		opt(s)
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return
	}
	for _, route := range s.routes {
		method, path, found := strings.Cut(route, " ")
		if !found {
			method, path = "", route
		}
		s.log.Debug().Str("method", method).Str("path", path).Msg("route registered")
	}
}

// Helper function to determine the scheme (http/https)
func getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if scheme := r.Header.Get("X-Forwarded-Proto"); scheme != "" {
		return scheme
	}
	return "http"
}
