package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cmlabs-hris/hris-selfservice-go/internal/config"
	domain "github.com/cmlabs-hris/hris-selfservice-go/internal/domain/session"
	appHTTP "github.com/cmlabs-hris/hris-selfservice-go/internal/handler/http"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/cron"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/database"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/jwt"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/logger"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/pkg/sse"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/repository/memory"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/repository/postgresql"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/repository/redis"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/repository/sqlite"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/approval"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/session"
	"github.com/cmlabs-hris/hris-selfservice-go/internal/service/workspace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, "hris-selfservice", cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, closeStores, err := openSessionStores(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open session store", "driver", cfg.Session.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStores()

	var sealer session.Sealer
	if cfg.Session.SealKey != "" {
		sealer, err = session.NewAEADSealer(cfg.Session.SealKey)
		if err != nil {
			slog.Error("Invalid SESSION_SEAL_KEY", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("SESSION_SEAL_KEY not set, upstream tokens are stored unencrypted")
	}

	hub := sse.NewHub()
	resolver := approval.NewResolver(nil)
	pool := workspace.NewPool(workspace.Config{
		UpstreamURL:   cfg.Upstream.BaseURL,
		Timeout:       cfg.Upstream.Timeout,
		RefreshLeeway: cfg.Session.RefreshLeeway,
		IdleTimeout:   cfg.Session.IdleTimeout,
	}, stores, sealer, resolver, hub)

	JWTService := jwt.NewJWTService(cfg.JWT.Secret, cfg.JWT.AccessExpiration)

	scheduler := cron.NewScheduler()
	cron.NewSessionJobs(pool, JWTService, cfg.Session.SweepInterval).RegisterJobs(scheduler)
	scheduler.Start(ctx)
	defer scheduler.Stop()

	authHandler := appHTTP.NewAuthHandler(JWTService, pool)
	requestHandler := appHTTP.NewRequestHandler(hub)
	policyHandler := appHTTP.NewPolicyHandler(resolver)
	eventsHandler := appHTTP.NewEventsHandler(hub)

	router := appHTTP.NewRouter(
		log,
		cfg.App.AllowedOrigins,
		JWTService,
		pool,
		authHandler,
		requestHandler,
		policyHandler,
		eventsHandler,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Server running", "addr", srv.Addr, "upstream", cfg.Upstream.BaseURL, "session_driver", cfg.Session.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}
}

// openSessionStores returns the store factory for the configured driver and a func releasing it.
func openSessionStores(ctx context.Context, cfg *config.Config) (domain.StoreFactory, func(), error) {
	switch cfg.Session.Driver {
	case config.DriverSQLite:
		db, err := sqlite.Open(ctx, cfg.Session.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return sqlite.NewSessionStoreFactory(db), func() { _ = db.Close() }, nil

	case config.DriverPostgres:
		db, err := database.NewPostgreSQLDB(ctx, cfg.DatabaseURL())
		if err != nil {
			return nil, nil, err
		}
		if err := postgresql.EnsureSessionSchema(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return postgresql.NewSessionStoreFactory(db), db.Close, nil

	case config.DriverRedis:
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		// Idle sessions expire in Redis on the same schedule the pool evicts them.
		return redis.NewSessionStoreFactory(rdb, cfg.Session.IdleTimeout), func() { _ = rdb.Close() }, nil

	default:
		slog.Warn("Using in-memory session store, sessions are lost on restart")
		return memory.NewKV().Factory(), func() {}, nil
	}
}
