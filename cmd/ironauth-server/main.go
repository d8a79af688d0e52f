// Command ironauth-server serves the IronTrack authentication routes:
// registration, login, refresh, logout, account administration and the
// public JWKS.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/irontrack/ironauth"
	"github.com/irontrack/ironauth/internal/envconfig"
	"github.com/irontrack/ironauth/metrics/export/prometheus"
	"github.com/irontrack/ironauth/middleware"
	"github.com/irontrack/ironauth/store/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		envFile string
		addr    string
		migrate bool
	)

	flagSet := pflag.NewFlagSet("ironauth-server", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "optional dotenv file read before the environment")
	flagSet.StringVar(&addr, "addr", "", "listen address (overrides IRONAUTH_HTTP_ADDR)")
	flagSet.BoolVar(&migrate, "migrate", false, "create the user_account and role tables before serving")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	settings, err := envconfig.Load(envFile)
	if err != nil {
		return err
	}
	if addr != "" {
		settings.HTTPAddr = addr
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: settings.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, settings.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if migrate || settings.Migrate {
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("schema migrated")
	}

	store := postgres.New(pool)
	if err := checkRoles(ctx, store, settings.Engine.Auth); err != nil {
		return err
	}

	redisOpts, err := redis.ParseURL(settings.RedisURL)
	if err != nil {
		return fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	var auditSink ironauth.AuditSink
	if settings.Engine.Audit.Enabled {
		auditSink = ironauth.NewSlogSink(logger.With("component", "audit"))
	}

	engine, err := ironauth.New().
		WithConfig(settings.Engine).
		WithRedis(rdb).
		WithUserStore(store).
		WithLogger(logger).
		WithAuditSink(auditSink).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	if err := engine.Ping(ctx); err != nil {
		return fmt.Errorf("backend not reachable: %w", err)
	}

	go func() {
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("identity cache subscription stopped", "error", err)
			stop()
		}
	}()

	extractIP := echo.ExtractIPDirect()
	if len(settings.TrustedProxies) > 0 {
		extractIP = middleware.TrustedProxyIP(settings.TrustedProxies)
	}
	transport := middleware.New(engine, settings.Engine.Cookie, logger).WithIPExtractor(extractIP)
	srv := &http.Server{
		Addr:              settings.HTTPAddr,
		Handler:           newRouter(engine, transport, extractIP, prometheus.NewExporter(engine), logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// checkRoles fails startup when the roles the engine assigns are missing
// from the database.
func checkRoles(ctx context.Context, store *postgres.Store, auth ironauth.AuthConfig) error {
	roles, err := store.Roles(ctx)
	if err != nil {
		return err
	}
	for _, want := range []string{auth.DefaultRole, auth.SuperuserRole} {
		if want != "" && !slices.Contains(roles, want) {
			return fmt.Errorf("role %q not found in database", want)
		}
	}
	return nil
}
