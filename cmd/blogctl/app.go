package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nkiryanov/blogpress/internal/db"
	"github.com/nkiryanov/blogpress/internal/logger"
	"github.com/nkiryanov/blogpress/internal/metrics"
	"github.com/nkiryanov/blogpress/internal/service/apiclient"
	"github.com/nkiryanov/blogpress/internal/service/auditlog"
	"github.com/nkiryanov/blogpress/internal/service/auth"
	"github.com/nkiryanov/blogpress/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/blogpress/internal/service/csrf"
	"github.com/nkiryanov/blogpress/internal/storage"
	pgstorage "github.com/nkiryanov/blogpress/internal/storage/postgres"
	redisstorage "github.com/nkiryanov/blogpress/internal/storage/redis"
	"github.com/nkiryanov/blogpress/internal/storage/sqlite"
)

// Session scoped values (audit cache) do not outlive a day in shared redis
const sessionTTL = 24 * time.Hour

// version is set on build with -ldflags "-X main.version=..."
var version = "dev"

// App is the whole session stack wired for one command run
type App struct {
	logger   logger.Logger
	out      io.Writer
	registry *prometheus.Registry

	nav    *cliNavigator
	tokens *tokenmanager.Manager
	api    *apiclient.Client
	audit  *auditlog.Service
	auth   *auth.Service

	metricsAddr string
	closers     []func() error
}

func NewApp(ctx context.Context, c *Config, command string, out io.Writer, errOut io.Writer) (*App, error) {
	// Initialize logger
	l, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	m.SetBuildInfo(version)

	app := &App{
		logger:   l,
		out:      out,
		registry: registry,
		nav:      newCLINavigator(command, errOut),

		metricsAddr: c.MetricsAddr,
	}

	local, session, err := app.openStorage(ctx, c)
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	app.tokens, err = tokenmanager.New(tokenmanager.Config{}, local, l.With("component", "tokenmanager"))
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	app.api = apiclient.New(apiclient.Config{BaseURL: c.APIURL, Metrics: m}, app.tokens, l.With("component", "apiclient"))
	app.api.SetUnauthorizedPolicy(apiclient.NewRedirectPolicy(app.nav, app.tokens, l))

	csrfService := csrf.New(local, l.With("component", "csrf"))

	app.audit = auditlog.New(auditlog.Config{
		Actor:   app.actor,
		Metrics: m,
	}, app.api, csrfService, session, l.With("component", "auditlog"))
	// Entries cached by previous runs, new failures are appended to them
	app.audit.LoadCachedEntries(ctx)

	app.auth, err = auth.New(auth.Config{Metrics: m}, app.api, app.tokens, csrfService, app.audit, l.With("component", "auth"))
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}
	app.auth.Restore(ctx)

	return app, nil
}

// Pick storage backend: local namespace persists the session,
// session namespace keeps the audit cache mirror
func (a *App) openStorage(ctx context.Context, c *Config) (local storage.Storage, session storage.Storage, err error) {
	switch c.Storage {
	case StorageMemory:
		local, session = storage.NewMemory(), storage.NewMemory()

	case StorageSQLite:
		database, err := sqlite.Open(ctx, c.StorageDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("error while opening sqlite storage. Err: %w", err)
		}
		a.closers = append(a.closers, database.Close)
		local, session = database.Store(storage.NamespaceLocal), database.Store(storage.NamespaceSession)

	case StorageRedis:
		client, err := redisstorage.Connect(ctx, c.StorageDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		local = redisstorage.NewStore(client, storage.NamespaceLocal, 0)
		session = redisstorage.NewStore(client, storage.NamespaceSession, sessionTTL)

	case StoragePostgres:
		pool, err := db.ConnectAndMigrate(ctx, c.StorageDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		local, session = pgstorage.NewStore(pool, storage.NamespaceLocal), pgstorage.NewStore(pool, storage.NamespaceSession)

	default:
		return nil, nil, fmt.Errorf("unknown storage %q", c.Storage)
	}

	if c.SecretKey == "" {
		return local, session, nil
	}

	encLocal, err := storage.NewEncrypted(local, c.SecretKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error while enabling storage encryption. Err: %w", err)
	}
	encSession, err := storage.NewEncrypted(session, c.SecretKey)
	if err != nil {
		return nil, nil, fmt.Errorf("error while enabling storage encryption. Err: %w", err)
	}
	return encLocal, encSession, nil
}

// Username of the logged in user for audit entries
func (a *App) actor(ctx context.Context) string {
	if user := a.tokens.UserData(ctx); user != nil {
		return user.Username
	}
	return ""
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Serve metrics until context is cancelled; then close gracefully connections
func (a *App) serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.registry))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			a.logger.Error("Metrics server shutdown timeout exceeded, forcing shutdown...")
		}
		a.logger.Info("Metrics server stopped")
		close(idleConnsClosed)
	}()

	a.logger.Info("Starting metrics server", "addr", addr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
