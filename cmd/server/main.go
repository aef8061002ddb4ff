package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/jrsteele09/kb-console/auth"
	"github.com/jrsteele09/kb-console/dispatch"
	"github.com/jrsteele09/kb-console/identity"
	"github.com/jrsteele09/kb-console/internal/config"
	"github.com/jrsteele09/kb-console/internal/logging"
	"github.com/jrsteele09/kb-console/internal/metrics"
	"github.com/jrsteele09/kb-console/kb/ingestion"
	"github.com/jrsteele09/kb-console/kb/search"
	"github.com/jrsteele09/kb-console/navigation"
	"github.com/jrsteele09/kb-console/permissions"
	"github.com/jrsteele09/kb-console/server"
	"github.com/jrsteele09/kb-console/server/authflowrepo"
	"github.com/jrsteele09/kb-console/sessions"
	"github.com/jrsteele09/kb-console/sessions/filerepo"
	"github.com/jrsteele09/kb-console/token/refresh"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "loading .env: %v\n", err)
	}

	c := config.New()
	logger := logging.New(c.GetEnv(), c.GetLogLevel(), nil)
	displayAppname(c.GetAppName())

	stop := waitForStopSignal()
	for {
		err := run(c, logger, stop)
		if err == nil {
			break
		}
		logger.Error().Err(err).Msg("server failed, restarting")
		select {
		case <-stop:
			logger.Info().Msg("server stopped")
			return
		case <-time.After(1 * time.Second):
		}
	}
	logger.Info().Msg("server stopped")
}

func run(c config.Config, logger zerolog.Logger, stop <-chan os.Signal) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	repo, err := newSessionRepo(c, logger)
	if err != nil {
		return err
	}

	provider, err := identity.NewOIDCProvider(ctx, identity.OIDCConfig{
		IssuerURL:    c.GetIssuerURL(),
		ClientID:     c.GetClientID(),
		ClientSecret: c.GetClientSecret(),
		RedirectURL:  strings.TrimRight(c.GetBaseURL(), "/") + server.RouteCallback,
		Scopes:       c.GetScopes(),
	}, repo, identity.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("identity provider: %w", err)
	}

	store := sessions.NewStore()
	coordinator := refresh.New(store, provider,
		refresh.WithLogger(logger),
		refresh.WithMetrics(m),
		refresh.WithPolicy(refresh.Policy{
			Threshold: c.GetRefreshThreshold(),
			MinDelay:  c.GetMinRefreshDelay(),
			MaxDelay:  c.GetMaxRefreshDelay(),
		}),
	)
	defer coordinator.Close()

	router := navigation.NewRouter(c.GetRootPath(), navigation.WithLogger(logger))
	go func() {
		_ = router.Run(ctx)
	}()

	notifier := auth.NewNotifier(store, provider, coordinator, router, auth.WithLogger(logger), auth.WithRoutes(c))
	defer notifier.Close()
	if err := notifier.Start(ctx); err != nil {
		return fmt.Errorf("restoring session: %w", err)
	}

	dispatcher := dispatch.New(store, coordinator, router,
		dispatch.WithTimeout(c.GetRequestTimeout()),
		dispatch.WithLoginPath(c.GetLoginPath()),
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(m),
	)

	handler, err := server.New(c, server.Services{
		Store:     store,
		SignIn:    provider,
		Sessions:  coordinator,
		Tokens:    dispatcher,
		Locations: router,
		Documents: ingestion.NewClient(dispatcher, c.GetIngestionURL()),
		Search:    search.NewClient(dispatcher, c.GetSearchURL()),
		Permissions: permissions.NewMappingCache(
			permissions.NewHTTPLoader(dispatcher, c.GetBackendURL()),
			permissions.WithTTL(c.GetPermissionCacheTTL()),
			permissions.WithLogger(logger),
		),
		AuthFlows: authflowrepo.NewInMemoryRepo(),
	}, server.WithLogger(logger), server.WithMetricsGatherer(registry))
	if err != nil {
		return err
	}

	httpServer := &http.Server{Addr: c.GetPort(), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- listenAndServe(httpServer, logger)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-stop:
	}
	return shutdown(httpServer)
}

// newSessionRepo persists the session sealed on disk when an encryption key is
// configured, and in memory otherwise.
func newSessionRepo(c config.Config, logger zerolog.Logger) (sessions.Repo, error) {
	secret := c.GetSessionEncryptionKey()
	if secret == "" {
		logger.Warn().Msg("SESSION_ENCRYPTION_KEY not set, sessions will not survive a restart")
		return sessions.NewInMemoryRepo(), nil
	}
	repo, err := filerepo.New(c.GetDataFolder(), []byte(secret))
	if err != nil {
		return nil, fmt.Errorf("session repo: %w", err)
	}
	return repo, nil
}

func listenAndServe(server *http.Server, logger zerolog.Logger) error {
	logger.Info().Str("addr", server.Addr).Msg("server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
